package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"go.uber.org/zap"
)

var ErrUnknownPeer = errors.New("unknown peer")

const (
	trustAttrCredential = "jwt"
	trustAttrAddress    = "addr"
)

// Peer is what this node has learned about another node.
type Peer struct {
	UserID     types.UserID
	Address    string
	Credential string
	UpdatedAt  time.Time
}

// TrustStore is the node's local trust state: guest credentials and core
// addresses of peers discovered through registries. Imports are
// idempotent; a later import of the same attribute replaces the earlier one.
type TrustStore struct {
	mu    sync.RWMutex
	peers map[types.UserID]*Peer

	// optional persistence
	store  store.RecordStore
	logger *zap.Logger
}

// NewTrustStore creates a trust store. When s is non-nil every import is
// also written to it so imports survive a restart.
func NewTrustStore(s store.RecordStore, logger *zap.Logger) *TrustStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TrustStore{
		peers:  make(map[types.UserID]*Peer),
		store:  s,
		logger: logger,
	}
}

// ImportCredential records token as the guest credential of the node it
// names and returns that node's identity.
func (ts *TrustStore) ImportCredential(ctx context.Context, token string) (types.UserID, error) {
	id, err := auth.DeriveIdentity(token)
	if err != nil {
		return "", fmt.Errorf("failed to import credential: %w", err)
	}

	ts.mu.Lock()
	ts.peerLocked(id).Credential = token
	ts.mu.Unlock()

	if err := ts.persist(ctx, id, trustAttrCredential, token); err != nil {
		return id, err
	}

	ts.logger.Debug("Imported peer credential", zap.String("peer", string(id)))
	return id, nil
}

// ImportAddress records addr as the core address of id.
func (ts *TrustStore) ImportAddress(ctx context.Context, id types.UserID, addr string) error {
	if id == "" {
		return fmt.Errorf("cannot import an address without an identity")
	}

	ts.mu.Lock()
	ts.peerLocked(id).Address = addr
	ts.mu.Unlock()

	if err := ts.persist(ctx, id, trustAttrAddress, addr); err != nil {
		return err
	}

	ts.logger.Debug("Imported peer address",
		zap.String("peer", string(id)),
		zap.String("address", addr))
	return nil
}

// Credential returns the guest credential held for id.
func (ts *TrustStore) Credential(ctx context.Context, id types.UserID) (string, error) {
	return ts.lookup(ctx, id, trustAttrCredential)
}

// Address returns the core address held for id.
func (ts *TrustStore) Address(ctx context.Context, id types.UserID) (string, error) {
	return ts.lookup(ctx, id, trustAttrAddress)
}

// Peers returns every peer known in memory, sorted by identity.
func (ts *TrustStore) Peers() []Peer {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	peers := make([]Peer, 0, len(ts.peers))
	for _, p := range ts.peers {
		peers = append(peers, *p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].UserID < peers[j].UserID })
	return peers
}

// peerLocked returns the entry for id, creating it (must be called with
// lock held).
func (ts *TrustStore) peerLocked(id types.UserID) *Peer {
	p, ok := ts.peers[id]
	if !ok {
		p = &Peer{UserID: id}
		ts.peers[id] = p
	}
	p.UpdatedAt = time.Now()
	return p
}

func (ts *TrustStore) lookup(ctx context.Context, id types.UserID, attr string) (string, error) {
	ts.mu.RLock()
	var value string
	if p, ok := ts.peers[id]; ok {
		value = p.attr(attr)
	}
	ts.mu.RUnlock()

	if value != "" {
		return value, nil
	}
	if ts.store == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}

	raw, err := ts.store.Read(ctx, types.TrustKey(id, attr))
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read trust state for %s: %w", id, err)
	}

	ts.mu.Lock()
	p := ts.peerLocked(id)
	p.setAttr(attr, string(raw))
	ts.mu.Unlock()

	return string(raw), nil
}

func (ts *TrustStore) persist(ctx context.Context, id types.UserID, attr, value string) error {
	if ts.store == nil {
		return nil
	}
	if err := ts.store.Write(ctx, types.TrustKey(id, attr), []byte(value)); err != nil {
		return fmt.Errorf("failed to persist trust state for %s: %w", id, err)
	}
	return nil
}

func (p *Peer) attr(name string) string {
	if name == trustAttrCredential {
		return p.Credential
	}
	return p.Address
}

func (p *Peer) setAttr(name, value string) {
	if name == trustAttrCredential {
		p.Credential = value
		return
	}
	p.Address = value
}
