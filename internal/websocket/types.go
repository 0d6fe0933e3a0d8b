package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeFileProcessed is emitted after each processed file
	EventTypeFileProcessed EventType = "file_processed"
	// EventTypeBatchSummary is emitted once a batch run completes
	EventTypeBatchSummary EventType = "batch_summary"
	// EventTypeUpload is emitted when a file is stored via the HTTP API
	EventTypeUpload EventType = "upload"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// FileProcessedEvent describes the outcome of one processed file
type FileProcessedEvent struct {
	Path      string   `json:"path"`
	Operation string   `json:"operation"`
	Succeeded bool     `json:"succeeded"`
	Skipped   bool     `json:"skipped"`
	ErrorKind string   `json:"error_kind,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	Outputs   []string `json:"outputs,omitempty"`
}

// BatchSummaryEvent describes a completed batch run
type BatchSummaryEvent struct {
	Root       string  `json:"root"`
	Operation  string  `json:"operation"`
	Discovered int     `json:"discovered"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	DurationMS float64 `json:"duration_ms"`
}

// UploadEvent describes a file stored through the HTTP API
type UploadEvent struct {
	Name     string `json:"name"`
	StoredAs string `json:"stored_as"`
	Size     int64  `json:"size"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
}
