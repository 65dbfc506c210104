package models

// ServiceList is the payload of GET /services.
type ServiceList struct {
	Services     []ServiceRecord `json:"services"`
	TotalCount   int             `json:"total_count"`
	HealthyCount int             `json:"healthy_count"`
}

// RegisterResponse is returned by POST /services.
type RegisterResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Service ServiceRecord `json:"service"`
}

// UnregisterResponse is returned by DELETE /services/:name.
type UnregisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GatewayHealth is the gateway's own liveness payload.
type GatewayHealth struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
