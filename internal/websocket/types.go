package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeClassification is sent after each classified email
	EventTypeClassification EventType = "classification"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// ClassificationEvent describes one classification. It carries the masked
// email and entity labels, never the original text.
type ClassificationEvent struct {
	RequestID    string   `json:"request_id"`
	Category     string   `json:"category"`
	Confidence   float64  `json:"confidence"`
	MaskedEmail  string   `json:"masked_email"`
	Entities     []string `json:"entities"`
	Cached       bool     `json:"cached"`
	ClientIP     string   `json:"client_ip"`
	ProcessingMS float64  `json:"processing_ms"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status               string `json:"status"`
	Uptime               string `json:"uptime"`
	ModelLoaded          bool   `json:"model_loaded"`
	TotalClassifications int64  `json:"total_classifications"`
	TotalMaskedEntities  int64  `json:"total_masked_entities"`
	ActiveDetectors      int    `json:"active_detectors"`
	ConnectedClients     int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscriptionRequest limits a client to the listed event types
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.Mutex
	send         chan Event
	closed       bool
	subscription map[EventType]bool
}

func newClient(id string, conn *websocket.Conn, ip, userAgent string) *Client {
	return &Client{
		ID:          id,
		Conn:        conn,
		ConnectedAt: time.Now(),
		IP:          ip,
		UserAgent:   userAgent,
		send:        make(chan Event, 256),
	}
}

// trySend queues an event without blocking. It reports false when the
// client is closed or its queue is full.
func (c *Client) trySend(e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- e:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) subscribe(events []EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscription = make(map[EventType]bool, len(events))
	for _, e := range events {
		c.subscription[e] = true
	}
}

// wants reports whether the client's subscription includes t. Clients
// without a subscription receive everything.
func (c *Client) wants(t EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.subscription == nil || c.subscription[t]
}
