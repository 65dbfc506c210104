package models

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

// ServiceStatus is the health state of a registered service.
type ServiceStatus string

const (
	StatusUnknown   ServiceStatus = "unknown"
	StatusHealthy   ServiceStatus = "healthy"
	StatusUnhealthy ServiceStatus = "unhealthy"
)

// DefaultHealthPath is appended to BaseURL when no health check URL is given.
const DefaultHealthPath = "/health"

var (
	// ErrMissingName is returned when a record has no service name.
	ErrMissingName = errors.New("service_name is required")

	// ErrInvalidBaseURL is returned when base_url is not an absolute http(s) URL.
	ErrInvalidBaseURL = errors.New("base_url must be an absolute http or https URL")

	// ErrInvalidHealthURL is returned when health_check_url is not an absolute http(s) URL.
	ErrInvalidHealthURL = errors.New("health_check_url must be an absolute http or https URL")
)

// ServiceRecord describes one registered backend.
type ServiceRecord struct {
	Name           string            `json:"service_name"`
	BaseURL        string            `json:"base_url"`
	HealthCheckURL string            `json:"health_check_url"`
	Status         ServiceStatus     `json:"status"`
	LastChecked    *time.Time        `json:"last_health_check"`
	LastLatency    *time.Duration    `json:"-"`
	LastError      string            `json:"last_error,omitempty"`
	Metadata       map[string]string `json:"metadata"`
	RegisteredAt   time.Time         `json:"registered_at"`
}

type serviceRecordJSON ServiceRecord

type serviceRecordWire struct {
	serviceRecordJSON
	ResponseTime *float64 `json:"response_time"`
}

// MarshalJSON renders LastLatency as fractional seconds under response_time.
func (r ServiceRecord) MarshalJSON() ([]byte, error) {
	wire := serviceRecordWire{serviceRecordJSON: serviceRecordJSON(r)}
	if wire.Metadata == nil {
		wire.Metadata = map[string]string{}
	}
	if r.LastLatency != nil {
		seconds := r.LastLatency.Seconds()
		wire.ResponseTime = &seconds
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts response_time in fractional seconds.
func (r *ServiceRecord) UnmarshalJSON(data []byte) error {
	var wire serviceRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = ServiceRecord(wire.serviceRecordJSON)
	if wire.ResponseTime != nil {
		latency := time.Duration(*wire.ResponseTime * float64(time.Second))
		r.LastLatency = &latency
	}
	return nil
}

// Normalize trims the name and fills HealthCheckURL from BaseURL when empty.
func (r *ServiceRecord) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.BaseURL = strings.TrimSpace(r.BaseURL)
	r.HealthCheckURL = strings.TrimSpace(r.HealthCheckURL)
	if r.HealthCheckURL == "" && r.BaseURL != "" {
		r.HealthCheckURL = strings.TrimRight(r.BaseURL, "/") + DefaultHealthPath
	}
}

// Validate checks the fields a caller must supply.
func (r *ServiceRecord) Validate() error {
	if r.Name == "" {
		return ErrMissingName
	}
	if !isAbsoluteHTTPURL(r.BaseURL) {
		return ErrInvalidBaseURL
	}
	if r.HealthCheckURL != "" && !isAbsoluteHTTPURL(r.HealthCheckURL) {
		return ErrInvalidHealthURL
	}
	return nil
}

// Clone returns a deep copy, so callers never share pointers with the registry.
func (r ServiceRecord) Clone() ServiceRecord {
	out := r
	if r.LastChecked != nil {
		checked := *r.LastChecked
		out.LastChecked = &checked
	}
	if r.LastLatency != nil {
		latency := *r.LastLatency
		out.LastLatency = &latency
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func isAbsoluteHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
