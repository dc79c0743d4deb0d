package registry

import (
	"context"
	"fmt"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/federation"
	"federegistry/pkg/protocol"
	"federegistry/pkg/types"

	"go.uber.org/zap"
)

// Publisher pushes this node's record to registries.
type Publisher struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func NewPublisher(deps Deps, opts Options) *Publisher {
	return &Publisher{
		deps: deps.withDefaults(),
		opts: opts.withDefaults(),
		now:  time.Now,
	}
}

// Record builds a fresh record for this node. The guest credential is
// issued anew on every call so its expiry is refreshed.
func (p *Publisher) Record() (types.UserRecord, error) {
	self := p.deps.self()
	token, err := p.deps.Issuer.Issue(self, p.now().Add(auth.GuestExpiry), auth.PrivilegeGuest)
	if err != nil {
		return types.UserRecord{}, fmt.Errorf("failed to issue guest credential: %w", err)
	}

	return types.UserRecord{
		UserID:   self,
		CoreAddr: p.deps.CoreAddr,
		GuestJWT: token,
	}, nil
}

// Publish writes one fresh record to every registry in regs. Failures are
// isolated per registry; the joined error reports which ones failed.
func (p *Publisher) Publish(ctx context.Context, regs types.Registries) error {
	record, err := p.Record()
	if err != nil {
		return err
	}
	payload := protocol.EncodeUserRecord(record)

	return forEachRegistry(regs.Registries, p.opts.PublishConcurrency, func(reg types.Registry) error {
		return p.publishOne(ctx, reg, payload)
	})
}

func (p *Publisher) publishOne(ctx context.Context, reg types.Registry, payload []byte) error {
	logger := p.deps.Logger.With(zap.String("registry_address", reg.Address))

	t, err := p.deps.target(reg)
	if err != nil {
		logger.Warn("Skipping registry with unreadable credential", zap.Error(err))
		return err
	}
	logger = logger.With(zap.String("registry", string(t.ID)))
	kind := federation.KindOf(t.Self)
	if m := p.deps.Metrics; m != nil {
		m.PublishAttempts.WithLabelValues(kind).Inc()
	}

	if t.Self {
		err = p.deps.Store.Write(ctx, types.PublicKey(t.ID, types.UserRecordKeyName), payload)
	} else if err = p.deps.trustRegistry(ctx, t); err == nil {
		err = p.deps.Remote.Write(ctx, t.ID, types.UserRecordKeyName, payload, true)
	}

	if err != nil {
		if m := p.deps.Metrics; m != nil {
			m.PublishFailures.WithLabelValues(kind).Inc()
		}
		logger.Warn("Failed to publish record", zap.String("kind", kind), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", t.ID, err)
	}

	logger.Debug("Published record", zap.String("kind", kind))
	return nil
}
