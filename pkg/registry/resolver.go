package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"federegistry/pkg/federation"
	"federegistry/pkg/protocol"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"go.uber.org/zap"
)

// Resolver finds another node's record through the directory.
type Resolver struct {
	deps      Deps
	opts      Options
	directory *Directory
}

func NewResolver(deps Deps, opts Options, directory *Directory) *Resolver {
	return &Resolver{
		deps:      deps.withDefaults(),
		opts:      opts.withDefaults(),
		directory: directory,
	}
}

// Resolve returns target's record from the first registry in directory
// order that holds it, and imports the record's address and credential
// into trust state. Registries are queried one at a time and none after the
// first hit. A pass that finds nothing is repeated after PassBackoff, up to
// MaxPasses; then ErrUnresolved is returned.
func (r *Resolver) Resolve(ctx context.Context, target types.UserID) (*types.UserRecord, error) {
	started := time.Now()
	record, err := r.resolve(ctx, target)

	if m := r.deps.Metrics; m != nil {
		m.ResolveLatency.Observe(time.Since(started).Seconds())
		outcome := federation.OutcomeResolved
		switch {
		case err == nil:
		case errors.Is(err, ErrUnresolved):
			outcome = federation.OutcomeUnresolved
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			outcome = federation.OutcomeCancelled
		default:
			outcome = federation.OutcomeFailed
		}
		m.ResolveOutcomes.WithLabelValues(outcome).Inc()
	}
	return record, err
}

func (r *Resolver) resolve(ctx context.Context, target types.UserID) (*types.UserRecord, error) {
	if target == "" {
		return nil, fmt.Errorf("resolve requires a target identity")
	}
	logger := r.deps.Logger.With(zap.String("target", string(target)))

	regs, err := r.directory.Get(ctx)
	if err != nil {
		return nil, err
	}
	if regs.Len() == 0 {
		return nil, fmt.Errorf("%w: %s: directory is empty", ErrUnresolved, target)
	}

	for pass := 1; pass <= r.opts.MaxPasses; pass++ {
		if m := r.deps.Metrics; m != nil {
			m.ResolvePasses.Inc()
		}

		for i, reg := range regs.Registries {
			record, err := r.fetch(ctx, reg, target)
			if err != nil {
				logger.Debug("Registry could not resolve target",
					zap.Int("pass", pass),
					zap.Int("index", i),
					zap.String("registry_address", reg.Address),
					zap.Error(err))
				continue
			}

			if err := r.importRecord(ctx, record); err != nil {
				return nil, err
			}
			logger.Info("Resolved target",
				zap.Int("pass", pass),
				zap.String("core_addr", record.CoreAddr))
			return record, nil
		}

		if pass == r.opts.MaxPasses {
			break
		}
		if err := r.opts.Sleep(ctx, r.opts.PassBackoff); err != nil {
			return nil, err
		}
	}

	logger.Warn("Target unresolved", zap.Int("passes", r.opts.MaxPasses))
	return nil, fmt.Errorf("%w: %s after %d passes", ErrUnresolved, target, r.opts.MaxPasses)
}

// fetch asks one registry for target's record. Any error means this
// registry cannot help.
func (r *Resolver) fetch(ctx context.Context, reg types.Registry, target types.UserID) (*types.UserRecord, error) {
	t, err := r.deps.target(reg)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if t.Self {
		payload, err = r.deps.Store.Read(ctx, types.PublicKey(target, types.UserRecordKeyName))
	} else if err = r.deps.trustRegistry(ctx, t); err == nil {
		payload, err = r.deps.Remote.Read(ctx, t.ID, types.UserRecordKeyName, true, target)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s does not know %s: %w", t.ID, target, err)
		}
		return nil, err
	}

	record, err := protocol.DecodeUserRecord(payload)
	if err != nil {
		return nil, fmt.Errorf("record from %s: %w", t.ID, err)
	}

	// a registry cannot hand out a record naming someone else
	if record.UserID != target {
		return nil, fmt.Errorf("record from %s names %s, not %s", t.ID, record.UserID, target)
	}
	if id, err := r.deps.Identity(record.GuestJWT); err != nil || id != target {
		return nil, fmt.Errorf("record from %s carries a credential not issued by %s", t.ID, target)
	}
	return &record, nil
}

func (r *Resolver) importRecord(ctx context.Context, record *types.UserRecord) error {
	if _, err := r.deps.Trust.ImportCredential(ctx, record.GuestJWT); err != nil {
		return fmt.Errorf("failed to import credential of %s: %w", record.UserID, err)
	}
	if err := r.deps.Trust.ImportAddress(ctx, record.UserID, record.CoreAddr); err != nil {
		return fmt.Errorf("failed to import address of %s: %w", record.UserID, err)
	}
	return nil
}
