package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConnectionPool_ReusesConnection(t *testing.T) {
	pool := NewConnectionPool(nil, zaptest.NewLogger(t))
	defer pool.Close()

	first, err := pool.GetConnection("alice", "127.0.0.1:19001")
	require.NoError(t, err)
	second, err := pool.GetConnection("alice", "127.0.0.1:19001")
	require.NoError(t, err)
	assert.Same(t, first, second)

	assert.Equal(t, 1, pool.GetStatistics()["total_connections"])
}

func TestConnectionPool_RedialsOnAddressChange(t *testing.T) {
	pool := NewConnectionPool(nil, zaptest.NewLogger(t))
	defer pool.Close()

	first, err := pool.GetConnection("alice", "127.0.0.1:19001")
	require.NoError(t, err)
	second, err := pool.GetConnection("alice", "127.0.0.1:19002")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "127.0.0.1:19002", second.Target())
	assert.Equal(t, 1, pool.GetStatistics()["total_connections"])
}

func TestConnectionPool_RequiresEndpoint(t *testing.T) {
	pool := NewConnectionPool(nil, nil)
	defer pool.Close()

	_, err := pool.GetConnection("alice", "")
	assert.Error(t, err)
}

func TestConnectionPool_CircuitBreaker(t *testing.T) {
	pool := NewConnectionPool(nil, zaptest.NewLogger(t))
	defer pool.Close()

	now := time.Now()
	pool.now = func() time.Time { return now }

	_, err := pool.GetConnection("bob", "127.0.0.1:19003")
	require.NoError(t, err)

	for i := 0; i < circuitFailureThreshold; i++ {
		pool.MarkUnhealthy("bob")
	}
	assert.Equal(t, CircuitOpen, pool.CircuitState("bob"))
	assert.Equal(t, 1, pool.GetStatistics()["circuit_open"])

	_, err = pool.GetConnection("bob", "127.0.0.1:19003")
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// after the cooldown one probe is let through
	now = now.Add(circuitCooldown + time.Second)
	_, err = pool.GetConnection("bob", "127.0.0.1:19003")
	require.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, pool.CircuitState("bob"))

	// a failed probe reopens immediately
	pool.MarkUnhealthy("bob")
	assert.Equal(t, CircuitOpen, pool.CircuitState("bob"))

	now = now.Add(circuitCooldown + time.Second)
	_, err = pool.GetConnection("bob", "127.0.0.1:19003")
	require.NoError(t, err)
	pool.MarkHealthy("bob")
	assert.Equal(t, CircuitClosed, pool.CircuitState("bob"))
}

func TestConnectionPool_IdleCleanup(t *testing.T) {
	pool := NewConnectionPool(nil, zaptest.NewLogger(t))
	defer pool.Close()

	now := time.Now()
	pool.now = func() time.Time { return now }

	_, err := pool.GetConnection("carol", "127.0.0.1:19004")
	require.NoError(t, err)

	now = now.Add(pool.idleTimeout + time.Minute)
	pool.performMaintenance()
	assert.Equal(t, 0, pool.GetStatistics()["total_connections"])
}

func TestConnectionPool_CloseTwice(t *testing.T) {
	pool := NewConnectionPool(nil, nil)
	assert.NoError(t, pool.Close())
	assert.NoError(t, pool.Close())
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
