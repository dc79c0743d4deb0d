package federation

import (
	"context"
	"fmt"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/protocol"
	"federegistry/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PeerFunc is one call against a peer node.
type PeerFunc func(ctx context.Context, client protocol.NodeClient) error

// PeerClient makes authenticated calls to peers known in the trust store.
// Each call is attempted once; callers decide whether to retry.
type PeerClient struct {
	self   types.UserID
	trust  *TrustStore
	pool   *ConnectionPool
	logger *zap.Logger

	callTimeout time.Duration
}

// NewPeerClient creates a client that calls peers as self.
func NewPeerClient(self types.UserID, trust *TrustStore, pool *ConnectionPool, logger *zap.Logger) *PeerClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PeerClient{
		self:        self,
		trust:       trust,
		pool:        pool,
		logger:      logger,
		callTimeout: 10 * time.Second,
	}
}

// SetCallTimeout bounds every call made through the client.
func (pc *PeerClient) SetCallTimeout(d time.Duration) {
	pc.callTimeout = d
}

// Self returns the identity calls are made as.
func (pc *PeerClient) Self() types.UserID {
	return pc.self
}

// Call runs fn against peer using its imported address and guest credential.
func (pc *PeerClient) Call(ctx context.Context, peer types.UserID, operation string, fn PeerFunc) error {
	addr, err := pc.trust.Address(ctx, peer)
	if err != nil {
		return fmt.Errorf("no address for %s: %w", peer, err)
	}
	token, err := pc.trust.Credential(ctx, peer)
	if err != nil {
		return fmt.Errorf("no credential for %s: %w", peer, err)
	}

	conn, err := pc.pool.GetConnection(peer, addr)
	if err != nil {
		return err
	}

	callCtx := auth.OutgoingContext(ctx, token, pc.self)
	if pc.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, pc.callTimeout)
		defer cancel()
	}

	err = fn(callCtx, protocol.NewNodeClient(conn))
	if err != nil && isTransportError(err) {
		pc.pool.MarkUnhealthy(peer)
		pc.logger.Debug("Peer call failed",
			zap.String("peer", string(peer)),
			zap.String("operation", operation),
			zap.Error(err))
		return err
	}

	// any application-level reply means the peer is reachable
	pc.pool.MarkHealthy(peer)
	return err
}

// isTransportError reports whether err means the peer could not be reached
// rather than that it rejected the call.
func isTransportError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		// not from the wire, e.g. a reply that failed to decode
		return false
	}

	switch st.Code() {
	case codes.Unavailable,
		codes.DeadlineExceeded,
		codes.ResourceExhausted,
		codes.Aborted:
		return true
	case codes.Unknown:
		// Sometimes network errors come as Unknown
		return true
	default:
		return false
	}
}
