// Package llm provides the wire representations exchanged between the relay,
// its browser clients and the upstream chat-completion API.
package llm

// ErrorResponse is the body of every failed relay response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body returned by the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
}
