// Package remote reads and writes entries that another node holds on this
// node's behalf. A call either goes straight to the provider's
// remote-storage RPCs or is brokered through a two-party task the provider
// runs; callers see one Storage interface either way.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"federegistry/pkg/federation"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrRemoteCall means the provider could not be reached or refused the
// call. The registry it stands for cannot help; callers move on.
var ErrRemoteCall = errors.New("remote call failed")

// Storage is the remote-storage capability.
//
// provider is the node holding the entry. Write and Delete always address
// the entry the provider holds for this node; Read names the holder whose
// entry is wanted. A missing entry is reported as store.ErrNotFound.
type Storage interface {
	Read(ctx context.Context, provider types.UserID, keyName string, isPublic bool, holder types.UserID) ([]byte, error)
	Write(ctx context.Context, provider types.UserID, keyName string, payload []byte, isPublic bool) error
	Delete(ctx context.Context, provider types.UserID, keyName string, isPublic bool) error
}

// Caller makes authenticated calls to a peer. *federation.PeerClient
// implements it.
type Caller interface {
	Self() types.UserID
	Call(ctx context.Context, peer types.UserID, operation string, fn federation.PeerFunc) error
}

// Mode selects how remote storage calls reach the provider.
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeBrokered Mode = "brokered"
)

// ParseMode validates a configured mode. Empty means direct.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDirect:
		return ModeDirect, nil
	case ModeBrokered:
		return ModeBrokered, nil
	default:
		return "", fmt.Errorf("unknown remote mode: %s", s)
	}
}

// Client is the Storage used by the registry core. It routes every call
// through the configured mode and records call metrics.
type Client struct {
	mode    Mode
	backend Storage
	metrics *federation.RegistryMetrics
}

// NewClient builds a Client over caller in the given mode. metrics may be nil.
func NewClient(mode Mode, caller Caller, metrics *federation.RegistryMetrics, opts ...BrokeredOption) *Client {
	var backend Storage
	switch mode {
	case ModeBrokered:
		backend = NewBrokeredClient(caller, opts...)
	default:
		mode = ModeDirect
		backend = NewDirectClient(caller)
	}

	return &Client{
		mode:    mode,
		backend: backend,
		metrics: metrics,
	}
}

// Mode returns the mode calls are made in.
func (c *Client) Mode() Mode {
	return c.mode
}

func (c *Client) Read(ctx context.Context, provider types.UserID, keyName string, isPublic bool, holder types.UserID) ([]byte, error) {
	started := time.Now()
	payload, err := c.backend.Read(ctx, provider, keyName, isPublic, holder)
	c.observe("read", started, err)
	return payload, err
}

func (c *Client) Write(ctx context.Context, provider types.UserID, keyName string, payload []byte, isPublic bool) error {
	started := time.Now()
	err := c.backend.Write(ctx, provider, keyName, payload, isPublic)
	c.observe("write", started, err)
	return err
}

func (c *Client) Delete(ctx context.Context, provider types.UserID, keyName string, isPublic bool) error {
	started := time.Now()
	err := c.backend.Delete(ctx, provider, keyName, isPublic)
	c.observe("delete", started, err)
	return err
}

func (c *Client) observe(op string, started time.Time, err error) {
	// a missing entry is an answer, not a failed call
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	c.metrics.ObserveRemoteCall(op, string(c.mode), started, err)
}

// callError maps an RPC failure onto the package's error kinds.
func callError(op string, provider types.UserID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s on %s: %w", op, provider, store.ErrNotFound)
	}
	return fmt.Errorf("%w: %s on %s: %v", ErrRemoteCall, op, provider, err)
}
