package clientmetrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// ClientMetrics tracks connection and message statistics of one hub connection.
// Message counters are atomic because sends and the read loop run concurrently.
type ClientMetrics struct {
	mu          sync.Mutex
	connectTime time.Time
	handshake   time.Duration

	starts       atomic.Int64
	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	errors       atomic.Int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkConnected records a completed handshake that took the given duration.
func (m *ClientMetrics) MarkConnected(handshake time.Duration) {
	m.starts.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Now()
	m.handshake = handshake
}

// IncrementSent counts one sent frame of the given size.
func (m *ClientMetrics) IncrementSent(bytes int64) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(bytes)
}

// IncrementReceived counts one received frame of the given size.
func (m *ClientMetrics) IncrementReceived(bytes int64) {
	m.messagesRecv.Add(1)
	m.bytesRecv.Add(bytes)
}

// IncrementErrors increments the error counter.
func (m *ClientMetrics) IncrementErrors() {
	m.errors.Add(1)
}

// Reset clears the connection time (used when disconnecting).
func (m *ClientMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Time{}
}

// Snapshot holds connection metrics at a point in time.
type Snapshot struct {
	ConnectionDuration time.Duration
	HandshakeDuration  time.Duration
	Starts             int64
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Snapshot returns all metrics. ConnectionDuration is 0 while disconnected.
func (m *ClientMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	duration := time.Duration(0)
	if !m.connectTime.IsZero() {
		duration = time.Since(m.connectTime)
	}
	handshake := m.handshake
	m.mu.Unlock()

	return Snapshot{
		ConnectionDuration: duration,
		HandshakeDuration:  handshake,
		Starts:             m.starts.Load(),
		MessagesSent:       m.messagesSent.Load(),
		MessagesReceived:   m.messagesRecv.Load(),
		BytesSent:          m.bytesSent.Load(),
		BytesReceived:      m.bytesRecv.Load(),
		Errors:             m.errors.Load(),
	}
}
