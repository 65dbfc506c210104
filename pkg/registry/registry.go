package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"meshgate/pkg/log"
	"meshgate/pkg/models"

	"github.com/hashicorp/go-cleanhttp"
)

// maxDrainBytes caps how much of a health response body is read before closing,
// so the connection can go back to the pool.
const maxDrainBytes = 64 * 1024

// Registry is the in-memory directory of backend services and owns the
// background health check loop.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*entry
	nextGen  uint64

	client       *http.Client
	interval     time.Duration
	probeTimeout time.Duration
	retryBackoff time.Duration
	observer     ProbeObserver
	now          func() time.Time

	loopMu  sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// entry pairs a record with the generation it was registered under. A probe
// result is only written back if the generation still matches.
type entry struct {
	record models.ServiceRecord
	gen    uint64
}

type target struct {
	name      string
	gen       uint64
	healthURL string
}

type probeResult struct {
	name      string
	gen       uint64
	status    models.ServiceStatus
	checkedAt time.Time
	latency   *time.Duration
	err       error
}

// New creates a registry that probes through client. The client is shared with
// the caller; redirects are never followed by probes, so a 3xx counts as unhealthy.
func New(client *http.Client, opts ...Option) *Registry {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	probeClient := *client
	probeClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	r := &Registry{
		services:     make(map[string]*entry),
		client:       &probeClient,
		interval:     DefaultHealthCheckInterval,
		probeTimeout: DefaultHealthCheckTimeout,
		retryBackoff: DefaultRetryBackoff,
		observer:     noopObserver{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts or replaces the record under rec.Name. A replaced record
// starts over as unknown and is probed on the next cycle. The first call starts
// the health check loop.
func (r *Registry) Register(rec models.ServiceRecord) bool {
	rec.Normalize()
	rec = rec.Clone()
	rec.Status = models.StatusUnknown
	rec.LastChecked = nil
	rec.LastLatency = nil
	rec.LastError = ""
	rec.RegisteredAt = r.now()
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}

	r.mu.Lock()
	r.nextGen++
	_, replaced := r.services[rec.Name]
	r.services[rec.Name] = &entry{record: rec, gen: r.nextGen}
	total, healthy := r.countsLocked()
	r.mu.Unlock()

	log.Info().
		Str("service", rec.Name).
		Str("base_url", rec.BaseURL).
		Str("health_check_url", rec.HealthCheckURL).
		Bool("replaced", replaced).
		Msg("Service registered")

	r.observer.ObserveRegistry(total, healthy)
	r.ensureLoop()
	return true
}

// Unregister removes the named record and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, exists := r.services[name]
	if exists {
		delete(r.services, name)
	}
	total, healthy := r.countsLocked()
	r.mu.Unlock()

	if !exists {
		return false
	}

	log.Info().Str("service", name).Msg("Service unregistered")
	r.observer.ForgetService(name)
	r.observer.ObserveRegistry(total, healthy)
	return true
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (models.ServiceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.services[name]
	if !exists {
		return models.ServiceRecord{}, false
	}
	return e.record.Clone(), true
}

// ListAll returns a snapshot of every record, sorted by name.
func (r *Registry) ListAll() []models.ServiceRecord {
	return r.list(func(models.ServiceRecord) bool { return true })
}

// ListHealthy returns the records whose last completed probe returned 200.
func (r *Registry) ListHealthy() []models.ServiceRecord {
	return r.list(func(rec models.ServiceRecord) bool { return rec.Status == models.StatusHealthy })
}

func (r *Registry) list(keep func(models.ServiceRecord) bool) []models.ServiceRecord {
	r.mu.RLock()
	records := make([]models.ServiceRecord, 0, len(r.services))
	for _, e := range r.services {
		if keep(e.record) {
			records = append(records, e.record.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

func (r *Registry) countsLocked() (total, healthy int) {
	for _, e := range r.services {
		if e.record.Status == models.StatusHealthy {
			healthy++
		}
	}
	return len(r.services), healthy
}

// Running reports whether the health check loop is active.
func (r *Registry) Running() bool {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	return r.running
}

// Stop cancels the health check loop and waits for it to exit. Records stay
// readable; later registrations no longer start a loop.
func (r *Registry) Stop() {
	r.loopMu.Lock()
	r.closed = true
	if !r.running {
		r.loopMu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.loopMu.Unlock()

	cancel()
	<-done
	log.Info().Msg("Health check loop stopped")
}

func (r *Registry) ensureLoop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	if r.running || r.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.healthCheckLoop(ctx, r.done)

	log.Info().
		Dur("interval", r.interval).
		Dur("probe_timeout", r.probeTimeout).
		Msg("Health check loop started")
}

// healthCheckLoop runs a cycle right away, then once per interval. A failed
// cycle is retried after the backoff instead of ending the loop.
func (r *Registry) healthCheckLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		wait := r.interval
		if err := r.runCycle(ctx); err != nil {
			log.Error().Err(err).Dur("backoff", r.retryBackoff).Msg("Health check error")
			wait = r.retryBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Registry) runCycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrCycleFailed, rec)
		}
	}()

	r.CheckNow(ctx)
	return nil
}

// CheckNow probes every registered service concurrently and returns once all
// probes have finished.
func (r *Registry) CheckNow(ctx context.Context) {
	r.mu.RLock()
	targets := make([]target, 0, len(r.services))
	for name, e := range r.services {
		targets = append(targets, target{name: name, gen: e.gen, healthURL: e.record.HealthCheckURL})
	}
	r.mu.RUnlock()

	var waitGroup sync.WaitGroup
	for _, t := range targets {
		waitGroup.Add(1)
		go func(t target) {
			defer waitGroup.Done()
			r.apply(r.safeProbe(ctx, t))
		}(t)
	}
	waitGroup.Wait()

	r.mu.RLock()
	total, healthy := r.countsLocked()
	r.mu.RUnlock()
	r.observer.ObserveRegistry(total, healthy)
}

// safeProbe turns a panicking probe into an unhealthy result.
func (r *Registry) safeProbe(ctx context.Context, t target) (res probeResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = probeResult{
				name:      t.name,
				gen:       t.gen,
				status:    models.StatusUnhealthy,
				checkedAt: r.now(),
				err:       fmt.Errorf("probe panic: %v", rec),
			}
		}
	}()
	return r.probe(ctx, t)
}

func (r *Registry) probe(ctx context.Context, t target) probeResult {
	res := probeResult{name: t.name, gen: t.gen, status: models.StatusUnhealthy}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, t.healthURL, nil)
	if err != nil {
		res.checkedAt = r.now()
		res.err = err
		return res
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	latency := time.Since(start)
	res.checkedAt = r.now()
	if err != nil {
		res.err = err
		return res
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("service", t.name).Msg("Failed to close health check response body")
		}
	}()

	res.latency = &latency
	if resp.StatusCode != http.StatusOK {
		res.err = &StatusError{StatusCode: resp.StatusCode}
		return res
	}
	res.status = models.StatusHealthy
	return res
}

// apply writes a probe result back, unless the record was removed or replaced
// while the probe was in flight.
func (r *Registry) apply(res probeResult) {
	r.mu.Lock()
	e, exists := r.services[res.name]
	if !exists || e.gen != res.gen {
		r.mu.Unlock()
		log.Debug().Str("service", res.name).Msg("Discarding probe result for stale record")
		return
	}

	previous := e.record.Status
	checkedAt := res.checkedAt
	e.record.Status = res.status
	e.record.LastChecked = &checkedAt
	if res.latency != nil {
		latency := *res.latency
		e.record.LastLatency = &latency
	}
	e.record.LastError = ""
	if res.err != nil {
		e.record.LastError = res.err.Error()
	}
	r.mu.Unlock()

	var observed time.Duration
	if res.latency != nil {
		observed = *res.latency
	}
	r.observer.ObserveProbe(res.name, res.status, observed)

	switch {
	case res.status == models.StatusHealthy && previous != models.StatusHealthy:
		log.Info().Str("service", res.name).Dur("latency", observed).Msg("Service healthy")
	case res.status == models.StatusUnhealthy && previous != models.StatusUnhealthy:
		log.Warn().Str("service", res.name).Err(res.err).Msg("Service marked unhealthy")
	default:
		log.Debug().Str("service", res.name).Str("status", string(res.status)).Msg("Health check completed")
	}
}
