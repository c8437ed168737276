package services

import (
	"context"
	"log"
	"sync"
	"time"

	"nft-upgrade-system/models"
)

// SSEMessage is the wire payload pushed to subscribers.
type SSEMessage struct {
	Type             string                 `json:"type"`
	UpgradeRequestID string                 `json:"upgradeRequestId"`
	Status           models.UpgradeStatus   `json:"status,omitempty"`
	Message          string                 `json:"message"`
	Timestamp        string                 `json:"timestamp"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// SSEConnection is one live subscriber. The HTTP handler owns the read side
// of Messages; the manager owns registration and the cancellation handle.
type SSEConnection struct {
	ID               string
	UserID           string
	UpgradeRequestID string
	Messages         chan SSEMessage
	CreatedAt        time.Time
	LastActivity     time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSSEConnection builds a connection with its own cancellation handle
// derived from the request context.
func NewSSEConnection(parent context.Context, id, userID, upgradeRequestID string) *SSEConnection {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &SSEConnection{
		ID:               id,
		UserID:           userID,
		UpgradeRequestID: upgradeRequestID,
		Messages:         make(chan SSEMessage, 16),
		CreatedAt:        now,
		LastActivity:     now,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Context is done once the connection has been removed or evicted; the
// stream writer and heartbeat loop both watch it.
func (c *SSEConnection) Context() context.Context {
	return c.ctx
}

// SSEStats is the operational snapshot exposed on the health endpoint.
type SSEStats struct {
	TotalConnections      int            `json:"totalConnections"`
	ConnectionsByUser     map[string]int `json:"connectionsByUser"`
	ConnectionsByUpgrade  map[string]int `json:"connectionsByUpgrade"`
	OldestConnectionAgeMs int64          `json:"oldestConnectionAgeMs"`
}

// SSEManagerConfig bounds the resource usage of the manager.
type SSEManagerConfig struct {
	MaxConnections    int
	ConnectionTimeout time.Duration // inactivity before the sweep drops a connection
	HeartbeatInterval time.Duration
}

func DefaultSSEManagerConfig() SSEManagerConfig {
	return SSEManagerConfig{
		MaxConnections:    1000,
		ConnectionTimeout: 5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

// SSEConnectionManager tracks live SSE subscribers for this process only.
// Cross-instance fan-out is a deployment concern, not handled here.
type SSEConnectionManager struct {
	mu          sync.Mutex
	connections map[string]*SSEConnection
	config      SSEManagerConfig

	now func() time.Time

	// OnEvent, when set, receives observability events
	// (connection_added, connection_removed, connection_evicted).
	OnEvent func(event, connectionID, userID string)
}

func NewSSEConnectionManager(config SSEManagerConfig) *SSEConnectionManager {
	if config.MaxConnections <= 0 {
		config.MaxConnections = 1000
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = 5 * time.Minute
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	return &SSEConnectionManager{
		connections: make(map[string]*SSEConnection),
		config:      config,
		now:         time.Now,
	}
}

// AddConnection registers a subscriber. At capacity it evicts the oldest
// connection by creation time; it rejects only when eviction is impossible.
func (m *SSEConnectionManager) AddConnection(conn *SSEConnection) bool {
	m.mu.Lock()
	if len(m.connections) >= m.config.MaxConnections {
		if !m.evictOldestLocked() {
			m.mu.Unlock()
			log.Printf("[SSEManager] ❌ Capacity %d reached, rejecting connection %s", m.config.MaxConnections, conn.ID)
			return false
		}
	}
	m.connections[conn.ID] = conn
	total := len(m.connections)
	m.mu.Unlock()

	go m.heartbeatLoop(conn)

	m.emit("connection_added", conn.ID, conn.UserID)
	log.Printf("[SSEManager] Connection added: %s (total: %d)", conn.ID, total)
	return true
}

// RemoveConnection cancels and unregisters a connection. Idempotent.
func (m *SSEConnectionManager) RemoveConnection(connectionID string) bool {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.connections, connectionID)
	total := len(m.connections)
	m.mu.Unlock()

	conn.cancel()

	m.emit("connection_removed", conn.ID, conn.UserID)
	log.Printf("[SSEManager] Connection removed: %s (total: %d)", connectionID, total)
	return true
}

// SendToConnection queues a message for one subscriber. A subscriber whose
// buffer is full has a broken or stalled write path and is dropped.
func (m *SSEConnectionManager) SendToConnection(connectionID string, msg SSEMessage) bool {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	select {
	case conn.Messages <- msg:
		conn.LastActivity = m.now()
		m.mu.Unlock()
		return true
	default:
		m.mu.Unlock()
		log.Printf("[SSEManager] ❌ Connection %s not draining, dropping it", connectionID)
		m.RemoveConnection(connectionID)
		return false
	}
}

// BroadcastToUser fans a message out to every connection of one user and
// returns how many accepted it. Zero subscribers is not an error.
func (m *SSEConnectionManager) BroadcastToUser(userID string, msg SSEMessage) int {
	return m.broadcast(msg, func(c *SSEConnection) bool { return c.UserID == userID })
}

// BroadcastToUpgradeRequest fans a message out to every connection watching
// one upgrade request.
func (m *SSEConnectionManager) BroadcastToUpgradeRequest(upgradeRequestID string, msg SSEMessage) int {
	return m.broadcast(msg, func(c *SSEConnection) bool { return c.UpgradeRequestID == upgradeRequestID })
}

func (m *SSEConnectionManager) broadcast(msg SSEMessage, match func(*SSEConnection) bool) int {
	m.mu.Lock()
	var targets []string
	for id, conn := range m.connections {
		if match(conn) {
			targets = append(targets, id)
		}
	}
	m.mu.Unlock()

	sent := 0
	for _, id := range targets {
		if m.SendToConnection(id, msg) {
			sent++
		}
	}
	return sent
}

// CleanupStaleConnections drops connections idle past the inactivity timeout.
// Heartbeats keep healthy connections fresh; this catches the ones whose
// write path died silently.
func (m *SSEConnectionManager) CleanupStaleConnections() int {
	now := m.now()
	m.mu.Lock()
	var stale []string
	for id, conn := range m.connections {
		if now.Sub(conn.LastActivity) > m.config.ConnectionTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.RemoveConnection(id)
	}
	if len(stale) > 0 {
		log.Printf("[SSEManager] Cleaned up %d stale connection(s)", len(stale))
	}
	return len(stale)
}

// Stats snapshots connection counts for the health endpoint.
func (m *SSEConnectionManager) Stats() SSEStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := SSEStats{
		TotalConnections:     len(m.connections),
		ConnectionsByUser:    make(map[string]int),
		ConnectionsByUpgrade: make(map[string]int),
	}
	now := m.now()
	var oldest time.Duration
	for _, conn := range m.connections {
		stats.ConnectionsByUser[conn.UserID]++
		stats.ConnectionsByUpgrade[conn.UpgradeRequestID]++
		if age := now.Sub(conn.CreatedAt); age > oldest {
			oldest = age
		}
	}
	stats.OldestConnectionAgeMs = oldest.Milliseconds()
	return stats
}

// Shutdown cancels every connection, typically on process exit.
func (m *SSEConnectionManager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.RemoveConnection(id)
	}
	log.Printf("[SSEManager] Shutdown complete, closed %d connection(s)", len(ids))
}

// evictOldestLocked removes the oldest connection by creation time.
// Caller holds m.mu.
func (m *SSEConnectionManager) evictOldestLocked() bool {
	var oldest *SSEConnection
	for _, conn := range m.connections {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	if oldest == nil {
		return false
	}
	delete(m.connections, oldest.ID)
	oldest.cancel()
	m.emit("connection_evicted", oldest.ID, oldest.UserID)
	log.Printf("[SSEManager] Evicted oldest connection %s (age %s)", oldest.ID, m.now().Sub(oldest.CreatedAt))
	return true
}

func (m *SSEConnectionManager) heartbeatLoop(conn *SSEConnection) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.ctx.Done():
			return
		case <-ticker.C:
			m.SendToConnection(conn.ID, SSEMessage{
				Type:             "heartbeat",
				UpgradeRequestID: conn.UpgradeRequestID,
				Message:          "Connection alive",
				Timestamp:        m.now().UTC().Format(time.RFC3339),
			})
		}
	}
}

func (m *SSEConnectionManager) emit(event, connectionID, userID string) {
	if m.OnEvent != nil {
		m.OnEvent(event, connectionID, userID)
	}
}
