package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"federegistry/pkg/protocol"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTaskTimeout  = 10 * time.Second
)

var errTaskTimeout = errors.New("timed out waiting for task")

// BrokeredClient runs each call as a two-party task on the provider, with
// this node as requester, and waits for the task's status and output keys.
type BrokeredClient struct {
	caller       Caller
	pollInterval time.Duration
	taskTimeout  time.Duration
}

// BrokeredOption configures a BrokeredClient.
type BrokeredOption func(*BrokeredClient)

// WithPollInterval sets how often task keys are polled.
func WithPollInterval(d time.Duration) BrokeredOption {
	return func(b *BrokeredClient) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithTaskTimeout bounds how long a call waits for its task to finish.
func WithTaskTimeout(d time.Duration) BrokeredOption {
	return func(b *BrokeredClient) {
		if d > 0 {
			b.taskTimeout = d
		}
	}
}

func NewBrokeredClient(caller Caller, opts ...BrokeredOption) *BrokeredClient {
	b := &BrokeredClient{
		caller:       caller,
		pollInterval: DefaultPollInterval,
		taskTimeout:  DefaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BrokeredClient) Read(ctx context.Context, provider types.UserID, keyName string, isPublic bool, holder types.UserID) ([]byte, error) {
	req := protocol.RemoteStorageRequest{
		HolderID:    holder,
		KeyName:     keyName,
		IsPublic:    isPublic,
		RequesterID: b.caller.Self(),
	}
	payload, err := b.run(ctx, provider, protocol.EntryRemoteStorageRead, req, true)
	if err != nil {
		return nil, callError("read", provider, err)
	}
	return payload, nil
}

func (b *BrokeredClient) Write(ctx context.Context, provider types.UserID, keyName string, payload []byte, isPublic bool) error {
	req := protocol.RemoteStorageRequest{
		HolderID:    b.caller.Self(),
		KeyName:     keyName,
		Payload:     payload,
		IsPublic:    isPublic,
		RequesterID: b.caller.Self(),
	}
	_, err := b.run(ctx, provider, protocol.EntryRemoteStorageUpdate, req, false)
	return callError("write", provider, err)
}

func (b *BrokeredClient) Delete(ctx context.Context, provider types.UserID, keyName string, isPublic bool) error {
	req := protocol.RemoteStorageRequest{
		HolderID:    b.caller.Self(),
		KeyName:     keyName,
		IsPublic:    isPublic,
		RequesterID: b.caller.Self(),
	}
	_, err := b.run(ctx, provider, protocol.EntryRemoteStorageDelete, req, false)
	return callError("delete", provider, err)
}

func (b *BrokeredClient) run(ctx context.Context, provider types.UserID, entry string, req protocol.RemoteStorageRequest, wantOutput bool) ([]byte, error) {
	return b.RunTask(ctx, provider, protocol.TaskRequest{
		ProtocolName: entry,
		Param:        protocol.EncodeRemoteStorageRequest(req),
		Participants: []types.Participant{
			{UserID: b.caller.Self(), Role: types.RoleRequester},
			{UserID: provider, Role: types.RoleProvider},
		},
	}, wantOutput)
}

// RunTask starts task on provider and blocks until it finishes, the task
// timeout passes, or ctx is done. The output is read only if wantOutput.
// A task that failed on a missing entry is reported as store.ErrNotFound.
func (b *BrokeredClient) RunTask(ctx context.Context, provider types.UserID, task protocol.TaskRequest, wantOutput bool) ([]byte, error) {
	entry := task.ProtocolName

	var started protocol.TaskStatus
	err := b.caller.Call(ctx, provider, entry, func(ctx context.Context, client protocol.NodeClient) error {
		resp, err := client.StartTask(ctx, wrapperspb.Bytes(protocol.EncodeTaskRequest(task)))
		if err != nil {
			return err
		}
		started, err = protocol.DecodeTaskStatus(resp.GetValue())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", entry, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.taskTimeout)
	defer cancel()

	final, err := b.wait(waitCtx, provider, started)
	if err != nil {
		return nil, err
	}
	if final.State == protocol.TaskFailed {
		if final.Error == protocol.TaskErrorNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("task %s failed: %s", final.TaskID, final.Error)
	}
	if !wantOutput {
		return nil, nil
	}

	return b.readEntry(waitCtx, provider, types.TaskOutputKey(final.TaskID))
}

func (b *BrokeredClient) wait(ctx context.Context, provider types.UserID, current protocol.TaskStatus) (protocol.TaskStatus, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for !current.Finished() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return current, fmt.Errorf("%w %s", errTaskTimeout, current.TaskID)
			}
			return current, ctx.Err()
		case <-ticker.C:
		}

		raw, err := b.readEntry(ctx, provider, types.TaskStatusKey(current.TaskID))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return current, err
		}
		if current, err = protocol.DecodeTaskStatus(raw); err != nil {
			return current, err
		}
	}

	return current, nil
}

func (b *BrokeredClient) readEntry(ctx context.Context, provider types.UserID, key string) ([]byte, error) {
	var value []byte
	err := b.caller.Call(ctx, provider, "read_entry", func(ctx context.Context, client protocol.NodeClient) error {
		resp, err := client.ReadEntry(ctx, wrapperspb.String(key))
		if err != nil {
			return err
		}
		value = resp.GetValue()
		return nil
	})
	if err != nil {
		// a missing key is reported by the provider as NotFound
		if callErr := callError("read_entry", provider, err); errors.Is(callErr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}
