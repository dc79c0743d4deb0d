package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/bootstrap"
	"federegistry/pkg/protocol"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"go.uber.org/zap"
)

// SelfRegistryExpiry is the lifetime of the guest credential a node hands
// itself when it bootstraps as its own registry.
const SelfRegistryExpiry = 365 * 24 * time.Hour

// Bootstrap supplies the initial directory. *bootstrap.FileBootstrap
// implements it. LoadOrCreate returns bootstrap.ErrNoBootstrap when there is
// nothing to load from; create fills an existing but empty source.
type Bootstrap interface {
	LoadOrCreate(create func() (types.Registries, error)) (types.Registries, error)
}

// Service exposes the registry protocol entries.
type Service struct {
	deps      Deps
	boot      Bootstrap
	publisher *Publisher
	retractor *Retractor
	directory *Directory
	resolver  *Resolver
}

// NewService wires the protocol components. boot may be nil, in which case
// Init falls back to the store's default registry keys.
func NewService(deps Deps, opts Options, boot Bootstrap) *Service {
	deps = deps.withDefaults()
	publisher := NewPublisher(deps, opts)
	retractor := NewRetractor(deps, opts)
	directory := NewDirectory(deps, publisher, retractor)

	return &Service{
		deps:      deps,
		boot:      boot,
		publisher: publisher,
		retractor: retractor,
		directory: directory,
		resolver:  NewResolver(deps, opts, directory),
	}
}

func (s *Service) Directory() *Directory {
	return s.directory
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Init sets the directory from the bootstrap source. With no bootstrap file
// the default registry keys in the store are used; without those either,
// the node registers with itself.
func (s *Service) Init(ctx context.Context) error {
	regs, err := s.initialDirectory(ctx)
	if err != nil {
		return err
	}

	s.deps.Logger.Info("Initializing directory", zap.Int("registries", regs.Len()))
	return s.directory.Set(ctx, regs)
}

func (s *Service) initialDirectory(ctx context.Context) (types.Registries, error) {
	if s.boot != nil {
		regs, err := s.boot.LoadOrCreate(s.selfDirectory)
		if err == nil {
			return regs, nil
		}
		if !errors.Is(err, bootstrap.ErrNoBootstrap) {
			return types.Registries{}, fmt.Errorf("failed to load bootstrap directory: %w", err)
		}
	}

	reg, err := s.defaultRegistry(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.deps.Logger.Debug("No default registry configured, registering with self")
		return s.selfDirectory()
	}
	if err != nil {
		return types.Registries{}, err
	}
	return types.Registries{Registries: []types.Registry{reg}}, nil
}

func (s *Service) defaultRegistry(ctx context.Context) (types.Registry, error) {
	addr, err := s.deps.Store.Read(ctx, types.DefaultRegistryAddr)
	if err != nil {
		return types.Registry{}, err
	}
	token, err := s.deps.Store.Read(ctx, types.DefaultRegistryJWT)
	if err != nil {
		return types.Registry{}, err
	}
	return types.Registry{Address: string(addr), GuestJWT: string(token)}, nil
}

// selfDirectory is a directory naming only this node.
func (s *Service) selfDirectory() (types.Registries, error) {
	token, err := s.deps.Issuer.Issue(s.deps.self(), time.Now().Add(SelfRegistryExpiry), auth.PrivilegeGuest)
	if err != nil {
		return types.Registries{}, fmt.Errorf("failed to issue self registry credential: %w", err)
	}
	return types.Registries{Registries: []types.Registry{{
		Address:  s.deps.CoreAddr,
		GuestJWT: token,
	}}}, nil
}

// Refresh publishes a freshly credentialed record to every registry in the
// current directory, renewing the guest credential before it expires.
func (s *Service) Refresh(ctx context.Context) error {
	regs, err := s.directory.Get(ctx)
	if err != nil {
		return err
	}
	if regs.Len() == 0 {
		return nil
	}
	return s.publisher.Publish(ctx, regs)
}

// UpdateRegistries replaces the directory with the encoded Registries in
// param.
func (s *Service) UpdateRegistries(ctx context.Context, param []byte) error {
	regs, err := protocol.DecodeRegistries(param)
	if err != nil {
		return fmt.Errorf("update registries: %w", err)
	}
	return s.directory.Set(ctx, regs)
}

// Query resolves the user named by the encoded UserRecord in param. Only
// its UserID is read.
func (s *Service) Query(ctx context.Context, param []byte) (*types.UserRecord, error) {
	target, err := protocol.DecodeUserRecord(param)
	if err != nil {
		return nil, fmt.Errorf("query registries: %w", err)
	}
	return s.resolver.Resolve(ctx, target.UserID)
}

// Entries returns the registry entries keyed by protocol name.
func (s *Service) Entries() map[string]protocol.EntryFunc {
	return map[string]protocol.EntryFunc{
		protocol.EntryRegistryInit: func(ctx context.Context, _ []byte, _ []types.Participant) ([]byte, error) {
			return nil, s.Init(ctx)
		},
		protocol.EntryUpdateRegistry: func(ctx context.Context, param []byte, _ []types.Participant) ([]byte, error) {
			return nil, s.UpdateRegistries(ctx, param)
		},
		protocol.EntryQueryRegistry: func(ctx context.Context, param []byte, _ []types.Participant) ([]byte, error) {
			record, err := s.Query(ctx, param)
			if err != nil {
				return nil, err
			}
			return protocol.EncodeUserRecord(*record), nil
		},
		protocol.EntryGetRegistries: func(ctx context.Context, _ []byte, _ []types.Participant) ([]byte, error) {
			regs, err := s.directory.Get(ctx)
			if err != nil {
				return nil, err
			}
			return protocol.EncodeRegistries(regs), nil
		},
	}
}
