package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"meshgate/pkg/log"
	"meshgate/pkg/models"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	defaultRetryWaitMin   = 100 * time.Millisecond
	defaultRetryWaitMax   = 2 * time.Second
)

// Lookup resolves a service name to its current record.
type Lookup interface {
	Get(name string) (models.ServiceRecord, bool)
}

// Observer receives one call per Forward.
type Observer interface {
	ObserveForward(service, outcome string, statusCode int, elapsed time.Duration)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds the whole upstream exchange, body streaming included.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRetries retries transport failures only, never upstream HTTP statuses.
// The default is no retries.
func WithRetries(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(g *Gateway) {
		if retryMax >= 0 {
			g.retryMax = retryMax
		}
		if waitMin > 0 {
			g.retryWaitMin = waitMin
		}
		if waitMax > 0 {
			g.retryWaitMax = waitMax
		}
	}
}

// WithObserver registers an observer for forwarded requests.
func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		if o != nil {
			g.observer = o
		}
	}
}

// Gateway forwards requests to healthy registered services.
type Gateway struct {
	lookup       Lookup
	client       *retryablehttp.Client
	timeout      time.Duration
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	observer     Observer
}

// New builds a gateway over lookup. httpClient is the process-wide pooled
// client; it is wrapped, not replaced, so its connections are shared.
func New(lookup Lookup, httpClient *http.Client, opts ...Option) *Gateway {
	g := &Gateway{
		lookup:       lookup,
		timeout:      DefaultRequestTimeout,
		retryWaitMin: defaultRetryWaitMin,
		retryWaitMax: defaultRetryWaitMax,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client = createClient(httpClient, g.retryMax, g.retryWaitMin, g.retryWaitMax)
	return g
}

// Timeout returns the configured upstream timeout.
func (g *Gateway) Timeout() time.Duration {
	return g.timeout
}

// createClient wraps httpClient in a retryable client whose redirects are
// passed back to the caller instead of followed.
func createClient(httpClient *http.Client, retryMax int, retryWaitMin, retryWaitMax time.Duration) *retryablehttp.Client {
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	shared := *httpClient
	transport := shared.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	shared.Transport = pinnedTransport{RoundTripper: transport}
	shared.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &shared
	client.RetryMax = retryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = log.RetryLogger{}
	client.CheckRetry = retryTransportErrors
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// pinnedTransport hides the shared transport's CloseIdleConnections.
// retryablehttp calls it on every failed Do, which would otherwise drain the
// idle pool the health checks and every other service share.
type pinnedTransport struct {
	http.RoundTripper
}

// retryTransportErrors retries only when no response arrived, so upstream
// error statuses are relayed as-is.
func retryTransportErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil {
		return false, nil
	}
	return err != nil, nil
}

// Forward sends req to serviceName's base URL joined with subPath. On success
// the caller owns the returned Response and must Close it.
func (g *Gateway) Forward(req *http.Request, serviceName, subPath string) (*Response, error) {
	start := time.Now()
	resp, err := g.forward(req, serviceName, subPath)
	elapsed := time.Since(start)

	if err != nil {
		proxyErr, ok := err.(*Error)
		if !ok {
			proxyErr = internal(serviceName, err)
			err = proxyErr
		}
		event := log.Warn()
		if proxyErr.Code >= http.StatusInternalServerError && proxyErr.Code != http.StatusServiceUnavailable {
			event = log.Error()
		}
		event.Err(proxyErr).
			Str("service", serviceName).
			Str("method", req.Method).
			Str("path", subPath).
			Int("status", proxyErr.Code).
			Msg("Proxy request failed")
		if g.observer != nil {
			g.observer.ObserveForward(serviceName, proxyErr.Outcome(), proxyErr.Code, elapsed)
		}
		return nil, err
	}

	log.Debug().
		Str("service", serviceName).
		Str("method", req.Method).
		Str("path", subPath).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("Proxied request")
	if g.observer != nil {
		g.observer.ObserveForward(serviceName, "ok", resp.StatusCode, elapsed)
	}
	return resp, nil
}

func (g *Gateway) forward(req *http.Request, serviceName, subPath string) (*Response, error) {
	rec, exists := g.lookup.Get(serviceName)
	if !exists {
		return nil, notFound(serviceName)
	}
	if rec.Status != models.StatusHealthy {
		return nil, unavailable(serviceName)
	}

	rawQuery := ""
	if req.URL != nil {
		rawQuery = req.URL.RawQuery
	}
	target, err := TargetURL(rec.BaseURL, subPath, rawQuery)
	if err != nil {
		return nil, internal(serviceName, err)
	}

	body, err := readBody(req)
	if err != nil {
		return nil, internal(serviceName, err)
	}

	ctx, cancel := context.WithTimeout(req.Context(), g.timeout)
	outbound, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		cancel()
		return nil, internal(serviceName, err)
	}
	outbound.Header = outboundHeader(req)

	upstream, err := g.client.Do(outbound)
	if err != nil {
		// The passthrough error handler can hand back a live response with err.
		if upstream != nil && upstream.Body != nil {
			_ = upstream.Body.Close()
		}
		cancel()
		return nil, badGateway(serviceName, target, err)
	}
	return newResponse(upstream, cancel), nil
}

// readBody returns the full inbound body, or an untyped nil when there is none
// so no empty body is sent upstream.
func readBody(req *http.Request) (interface{}, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
