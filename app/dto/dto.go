// Package dto contains Data Transfer Objects for websocket messages and the legacy API
package dto

import "encoding/json"

// InboundMessage is a single client frame
type InboundMessage struct {
	Credential string          `json:"credential,omitempty"`
	Action     string          `json:"action" validate:"required,max=64"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Envelope is the outbound frame for both results and errors
type Envelope struct {
	Status  int    `json:"status"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// HealthResponse is served on /health
type HealthResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    HealthData `json:"data"`
}

type HealthData struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
	Version           string `json:"version"`
	Timestamp         string `json:"timestamp"`
}

// AccountsChangedEvent is broadcast to every authenticated connection after a mutation
type AccountsChangedEvent struct {
	AccountID string `json:"account_id"`
	Operation string `json:"operation"`
	ActorID   string `json:"actor_id"`
}

// EmptyRequest is used by actions that take no payload
type EmptyRequest struct{}

// APIResponse is the JSON body of the plain HTTP endpoints
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
	Error   ErrorDetail `json:"error,omitzero"`
}

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
