package api

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	// Constraint names the violated rule for argument errors, e.g. "required".
	Constraint string `json:"constraint,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Jobs          map[string]int `json:"jobs"`
	Streams       map[string]int `json:"streams"`
	Subscribers   int            `json:"event_subscribers"`
}
