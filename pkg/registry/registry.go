// Package registry keeps a node's record published on the registries it
// trusts and resolves other nodes' records through them.
//
// A node's directory is an ordered list of registries. Replacing it
// withdraws the node's record from the old registries, stores the new list
// and publishes a freshly credentialed record to each registry in it.
// Resolution walks the directory in order and stops at the first registry
// that knows the target, retrying whole passes a bounded number of times.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/federation"
	"federegistry/pkg/remote"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"go.uber.org/zap"
)

// ErrUnresolved means no registry produced the target's record within the
// allowed passes. The target may exist but is currently unreachable.
var ErrUnresolved = errors.New("target unresolved")

// RetractionPolicy decides what a failed retraction does to a directory
// update.
type RetractionPolicy string

const (
	// BestEffort logs and counts retraction failures and carries on.
	BestEffort RetractionPolicy = "best_effort"
	// Strict aborts the directory update before the new list is stored.
	Strict RetractionPolicy = "strict"
)

// ParseRetractionPolicy validates a configured policy. Empty means
// BestEffort.
func ParseRetractionPolicy(s string) (RetractionPolicy, error) {
	switch RetractionPolicy(s) {
	case "", BestEffort:
		return BestEffort, nil
	case Strict:
		return Strict, nil
	default:
		return "", fmt.Errorf("unknown retraction policy: %s", s)
	}
}

const (
	DefaultMaxPasses   = 3
	DefaultPassBackoff = time.Second
)

// Options tune the protocol. The zero value is usable.
type Options struct {
	RetractionPolicy RetractionPolicy
	// MaxPasses bounds full directory scans per resolve.
	MaxPasses int
	// PassBackoff is the pause between passes. Zero means
	// DefaultPassBackoff, negative means no pause.
	PassBackoff time.Duration
	// PublishConcurrency bounds parallel per-registry publish and retract
	// calls. 1 or less is sequential.
	PublishConcurrency int
	// Sleep replaces the backoff wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.RetractionPolicy == "" {
		o.RetractionPolicy = BestEffort
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = DefaultMaxPasses
	}
	if o.PassBackoff < 0 {
		o.PassBackoff = 0
	} else if o.PassBackoff == 0 {
		o.PassBackoff = DefaultPassBackoff
	}
	if o.PublishConcurrency < 1 {
		o.PublishConcurrency = 1
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// Trust is the local trust state discovered peers are imported into.
// *federation.TrustStore implements it.
type Trust interface {
	ImportCredential(ctx context.Context, token string) (types.UserID, error)
	ImportAddress(ctx context.Context, id types.UserID, addr string) error
}

// Deps are the collaborators the protocol runs against.
type Deps struct {
	// CoreAddr is the address this node advertises in its record.
	CoreAddr string
	Store    store.RecordStore
	Remote   remote.Storage
	Issuer   auth.CredentialIssuer
	Trust    Trust
	// Identity derives a registry's identity from its guest credential.
	// Defaults to auth.DeriveIdentity.
	Identity func(token string) (types.UserID, error)
	// Metrics may be nil.
	Metrics *federation.RegistryMetrics
	Logger  *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Identity == nil {
		d.Identity = auth.DeriveIdentity
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

func (d Deps) self() types.UserID {
	return d.Issuer.UserID()
}

// registryTarget is a registry with its identity decoded.
type registryTarget struct {
	types.Registry
	ID   types.UserID
	Self bool
}

// target derives reg's identity. The identity is unverified; it only picks
// the local or remote path.
func (d Deps) target(reg types.Registry) (registryTarget, error) {
	id, err := d.Identity(reg.GuestJWT)
	if err != nil {
		return registryTarget{}, fmt.Errorf("cannot identify registry at %s: %w", reg.Address, err)
	}
	return registryTarget{Registry: reg, ID: id, Self: id == d.self()}, nil
}

// trustRegistry imports a remote registry's credential and address so calls
// to it are authenticated. Imports are idempotent.
func (d Deps) trustRegistry(ctx context.Context, t registryTarget) error {
	if _, err := d.Trust.ImportCredential(ctx, t.GuestJWT); err != nil {
		return err
	}
	return d.Trust.ImportAddress(ctx, t.ID, t.Address)
}

// forEachRegistry runs fn for every registry with at most limit running at
// once and joins their errors. One registry failing never stops the rest.
func forEachRegistry(regs []types.Registry, limit int, fn func(reg types.Registry) error) error {
	if limit <= 1 || len(regs) <= 1 {
		var errs []error
		for _, reg := range regs {
			if err := fn(reg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	sem := make(chan struct{}, limit)
	for _, reg := range regs {
		wg.Add(1)
		sem <- struct{}{}
		go func(reg types.Registry) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(reg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(reg)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
