package federation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"federegistry/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

const (
	circuitFailureThreshold = 3
	circuitCooldown         = 30 * time.Second
)

// ConnectionPool manages gRPC connections to peer nodes, one per identity
type ConnectionPool struct {
	mu          sync.RWMutex
	connections map[types.UserID]*PooledConnection
	dialOption  grpc.DialOption
	logger      *zap.Logger

	// Configuration
	idleTimeout         time.Duration
	healthCheckInterval time.Duration
	now                 func() time.Time

	// Cleanup
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// PooledConnection wraps a gRPC connection with metadata
type PooledConnection struct {
	conn     *grpc.ClientConn
	peer     types.UserID
	endpoint string
	created  time.Time
	lastUsed time.Time
	useCount int64
	mu       sync.RWMutex

	// Circuit breaker state
	failures     int
	lastFailure  time.Time
	circuitState CircuitState
}

// CircuitState represents the circuit breaker state
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// NewConnectionPool creates a new connection pool. dialOption carries the
// transport credentials; nil means plaintext.
func NewConnectionPool(dialOption grpc.DialOption, logger *zap.Logger) *ConnectionPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialOption == nil {
		dialOption = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	cp := &ConnectionPool{
		connections:         make(map[types.UserID]*PooledConnection),
		dialOption:          dialOption,
		logger:              logger,
		idleTimeout:         5 * time.Minute,
		healthCheckInterval: 30 * time.Second,
		now:                 time.Now,
		stopCleanup:         make(chan struct{}),
	}

	// Start background maintenance
	go cp.maintainConnections()

	return cp
}

// GetConnection returns a connection to peer at endpoint. A pooled
// connection to a different endpoint is replaced, since a peer's address
// can change when it is re-resolved.
func (cp *ConnectionPool) GetConnection(peer types.UserID, endpoint string) (*grpc.ClientConn, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint available for %s", peer)
	}

	cp.mu.RLock()
	pooled, exists := cp.connections[peer]
	cp.mu.RUnlock()

	if exists {
		if err := pooled.admit(cp.now()); err != nil {
			return nil, fmt.Errorf("%w for %s", err, peer)
		}
		if pooled.endpoint == endpoint && pooled.isUsable() {
			pooled.recordUse(cp.now())
			return pooled.conn, nil
		}
	}

	return cp.createConnection(peer, endpoint)
}

// createConnection creates a new connection to peer
func (cp *ConnectionPool) createConnection(peer types.UserID, endpoint string) (*grpc.ClientConn, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	// Check again after acquiring write lock
	old, exists := cp.connections[peer]
	if exists && old.endpoint == endpoint && old.isUsable() {
		old.recordUse(cp.now())
		return old.conn, nil
	}

	conn, err := grpc.NewClient(endpoint, cp.dialOption)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s at %s: %w", peer, endpoint, err)
	}

	pooled := &PooledConnection{
		conn:         conn,
		peer:         peer,
		endpoint:     endpoint,
		created:      cp.now(),
		lastUsed:     cp.now(),
		circuitState: CircuitClosed,
	}
	// failures carry over a redial so a dead peer still trips the breaker
	if exists {
		old.mu.RLock()
		pooled.failures = old.failures
		pooled.lastFailure = old.lastFailure
		pooled.circuitState = old.circuitState
		old.mu.RUnlock()
		old.conn.Close()
	}

	cp.connections[peer] = pooled
	cp.logger.Debug("Established connection to peer",
		zap.String("peer", string(peer)),
		zap.String("endpoint", endpoint))

	return conn, nil
}

// MarkUnhealthy records a failed call to peer
func (cp *ConnectionPool) MarkUnhealthy(peer types.UserID) {
	cp.mu.RLock()
	pooled, exists := cp.connections[peer]
	cp.mu.RUnlock()

	if !exists {
		return
	}

	pooled.mu.Lock()
	defer pooled.mu.Unlock()

	pooled.failures++
	pooled.lastFailure = cp.now()

	// Circuit breaker logic
	if pooled.failures >= circuitFailureThreshold && pooled.circuitState != CircuitOpen {
		pooled.circuitState = CircuitOpen
		cp.logger.Warn("Circuit breaker opened for peer",
			zap.String("peer", string(peer)),
			zap.Int("failures", pooled.failures))
	}
}

// MarkHealthy records a successful call to peer
func (cp *ConnectionPool) MarkHealthy(peer types.UserID) {
	cp.mu.RLock()
	pooled, exists := cp.connections[peer]
	cp.mu.RUnlock()

	if exists {
		pooled.recordSuccess(cp.now())
	}
}

// CircuitState returns the breaker state for peer.
func (cp *ConnectionPool) CircuitState(peer types.UserID) CircuitState {
	cp.mu.RLock()
	pooled, exists := cp.connections[peer]
	cp.mu.RUnlock()

	if !exists {
		return CircuitClosed
	}
	pooled.mu.RLock()
	defer pooled.mu.RUnlock()
	return pooled.circuitState
}

// maintainConnections performs periodic maintenance
func (cp *ConnectionPool) maintainConnections() {
	ticker := time.NewTicker(cp.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cp.performMaintenance()

		case <-cp.stopCleanup:
			return
		}
	}
}

// performMaintenance cleans up idle connections
func (cp *ConnectionPool) performMaintenance() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	now := cp.now()
	for peer, pooled := range cp.connections {
		pooled.mu.RLock()
		idleTime := now.Sub(pooled.lastUsed)
		open := pooled.circuitState == CircuitOpen
		pooled.mu.RUnlock()

		// open circuits are kept so the failure history survives
		if idleTime <= cp.idleTimeout || open {
			continue
		}

		pooled.conn.Close()
		delete(cp.connections, peer)
		cp.logger.Debug("Removed idle connection",
			zap.String("peer", string(peer)))
	}
}

// GetStatistics returns pool statistics
func (cp *ConnectionPool) GetStatistics() map[string]interface{} {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	healthy, unhealthy, open := 0, 0, 0
	for _, pooled := range cp.connections {
		if pooled.isUsable() {
			healthy++
		} else {
			unhealthy++
		}
		pooled.mu.RLock()
		if pooled.circuitState == CircuitOpen {
			open++
		}
		pooled.mu.RUnlock()
	}

	return map[string]interface{}{
		"total_connections": len(cp.connections),
		"healthy":           healthy,
		"unhealthy":         unhealthy,
		"circuit_open":      open,
	}
}

// Close closes all connections and stops maintenance
func (cp *ConnectionPool) Close() error {
	cp.closeOnce.Do(func() { close(cp.stopCleanup) })

	cp.mu.Lock()
	defer cp.mu.Unlock()

	for _, pooled := range cp.connections {
		pooled.conn.Close()
	}

	cp.connections = make(map[types.UserID]*PooledConnection)
	return nil
}

// Helper methods for PooledConnection

// admit rejects calls while the circuit is open and moves it to half-open
// once the cooldown has passed.
func (pc *PooledConnection) admit(now time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.circuitState != CircuitOpen {
		return nil
	}
	if now.Sub(pc.lastFailure) < circuitCooldown {
		return ErrCircuitOpen
	}
	pc.circuitState = CircuitHalfOpen
	pc.failures = circuitFailureThreshold - 1
	return nil
}

func (pc *PooledConnection) isUsable() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	if pc.circuitState == CircuitOpen {
		return false
	}

	return pc.conn.GetState() != connectivity.Shutdown
}

func (pc *PooledConnection) recordUse(now time.Time) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.lastUsed = now
	pc.useCount++
}

func (pc *PooledConnection) recordSuccess(now time.Time) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.lastUsed = now
	pc.failures = 0
	pc.circuitState = CircuitClosed
}
