package remote

import (
	"context"
	"errors"
	"fmt"

	"federegistry/pkg/protocol"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"go.uber.org/zap"
)

var (
	// ErrInvalidRequest is returned for a malformed remote-storage request.
	ErrInvalidRequest = errors.New("invalid remote storage request")
	// ErrForbidden is returned when a requester touches another holder's
	// entry it may not.
	ErrForbidden = errors.New("remote storage access denied")
)

// Provider serves remote-storage requests against the local store. Entries
// are kept under the holder-scoped remote-storage keys; writes and deletes
// only ever touch the requester's own entries. The requester is taken from
// the caller's x-requester-id claim, which is not verified against the
// caller's credential, so holder scoping is only as strong as that claim.
type Provider struct {
	store      store.RecordStore
	maxPayload int64
	logger     *zap.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithMaxPayload rejects updates larger than n bytes. Zero means no limit.
func WithMaxPayload(n int64) ProviderOption {
	return func(p *Provider) {
		p.maxPayload = n
	}
}

func NewProvider(s store.RecordStore, logger *zap.Logger, opts ...ProviderOption) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{store: s, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Update stores req's payload for requester.
func (p *Provider) Update(ctx context.Context, requester types.UserID, req protocol.RemoteStorageRequest) error {
	if err := checkRequest(requester, req); err != nil {
		return err
	}
	if p.maxPayload > 0 && int64(len(req.Payload)) > p.maxPayload {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidRequest, len(req.Payload), p.maxPayload)
	}

	key := types.HolderKey(requester, req.KeyName, req.IsPublic)
	if err := p.store.Write(ctx, key, req.Payload); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	p.logger.Debug("Stored remote entry",
		zap.String("holder", string(requester)),
		zap.String("key", req.KeyName))
	return nil
}

// Read returns the entry held for req.HolderID. Private entries can only be
// read by their holder.
func (p *Provider) Read(ctx context.Context, requester types.UserID, req protocol.RemoteStorageRequest) ([]byte, error) {
	if req.KeyName == "" {
		return nil, fmt.Errorf("%w: no key name", ErrInvalidRequest)
	}
	holder := req.HolderID
	if holder == "" {
		holder = requester
	}
	if !req.IsPublic && holder != requester {
		return nil, fmt.Errorf("%w: private entry of %s cannot be read by %s", ErrForbidden, holder, requester)
	}

	return p.store.Read(ctx, types.HolderKey(holder, req.KeyName, req.IsPublic))
}

// Delete removes requester's entry. Deleting an absent entry succeeds.
func (p *Provider) Delete(ctx context.Context, requester types.UserID, req protocol.RemoteStorageRequest) error {
	if err := checkRequest(requester, req); err != nil {
		return err
	}

	key := types.HolderKey(requester, req.KeyName, req.IsPublic)
	if err := p.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	p.logger.Debug("Deleted remote entry",
		zap.String("holder", string(requester)),
		zap.String("key", req.KeyName))
	return nil
}

func checkRequest(requester types.UserID, req protocol.RemoteStorageRequest) error {
	if requester == "" {
		return fmt.Errorf("%w: no requester", ErrInvalidRequest)
	}
	if req.KeyName == "" {
		return fmt.Errorf("%w: no key name", ErrInvalidRequest)
	}
	if req.HolderID != "" && req.HolderID != requester {
		return fmt.Errorf("%w: %s cannot modify entries held for %s", ErrForbidden, requester, req.HolderID)
	}
	return nil
}

// Entries returns the provider side of the remote_storage task entries. The
// requester is the task participant in the requester role.
func (p *Provider) Entries() map[string]protocol.EntryFunc {
	decode := func(param []byte, participants []types.Participant) (types.UserID, protocol.RemoteStorageRequest, error) {
		req, err := protocol.DecodeRemoteStorageRequest(param)
		if err != nil {
			return "", req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return Requester(participants), req, nil
	}

	return map[string]protocol.EntryFunc{
		protocol.EntryRemoteStorageUpdate: func(ctx context.Context, param []byte, participants []types.Participant) ([]byte, error) {
			requester, req, err := decode(param, participants)
			if err != nil {
				return nil, err
			}
			return nil, p.Update(ctx, requester, req)
		},
		protocol.EntryRemoteStorageRead: func(ctx context.Context, param []byte, participants []types.Participant) ([]byte, error) {
			requester, req, err := decode(param, participants)
			if err != nil {
				return nil, err
			}
			return p.Read(ctx, requester, req)
		},
		protocol.EntryRemoteStorageDelete: func(ctx context.Context, param []byte, participants []types.Participant) ([]byte, error) {
			requester, req, err := decode(param, participants)
			if err != nil {
				return nil, err
			}
			return nil, p.Delete(ctx, requester, req)
		},
	}
}

// Requester returns the participant in the requester role, or "".
func Requester(participants []types.Participant) types.UserID {
	for _, p := range participants {
		if p.Role == types.RoleRequester {
			return p.UserID
		}
	}
	return ""
}
