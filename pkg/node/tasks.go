package node

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/protocol"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// taskEntry is a protocol entry and the privilege needed to start it.
// A zero timeout leaves the entry bounded only by the node's lifetime.
type taskEntry struct {
	run       protocol.EntryFunc
	privilege auth.Privilege
	timeout   time.Duration
}

type taskInfo struct {
	requester  types.UserID
	finishedAt time.Time
}

// taskRunner runs protocol entries in the background and leaves their
// status and output under the task keys for the requester to poll.
type taskRunner struct {
	ctx     context.Context
	store   store.RecordStore
	entries map[string]taskEntry
	logger  *zap.Logger

	mu    sync.Mutex
	tasks map[string]*taskInfo
	wg    sync.WaitGroup
}

func newTaskRunner(ctx context.Context, s store.RecordStore, entries map[string]taskEntry, logger *zap.Logger) *taskRunner {
	return &taskRunner{
		ctx:     ctx,
		store:   s,
		entries: entries,
		logger:  logger,
		tasks:   make(map[string]*taskInfo),
	}
}

// start validates req and runs it. The returned status is always running.
func (r *taskRunner) start(identity *auth.Identity, self types.UserID, req protocol.TaskRequest) (protocol.TaskStatus, error) {
	entry, ok := r.entries[req.ProtocolName]
	if !ok {
		return protocol.TaskStatus{}, status.Errorf(codes.NotFound, "no protocol entry %s", req.ProtocolName)
	}
	if !identity.Privilege.Allows(entry.privilege) {
		return protocol.TaskStatus{}, status.Errorf(codes.PermissionDenied, "%s requires %s privilege", req.ProtocolName, entry.privilege)
	}
	participants, err := checkParticipants(identity.RequesterID, self, req.Participants)
	if err != nil {
		return protocol.TaskStatus{}, err
	}

	id := uuid.NewString()
	running := protocol.TaskStatus{TaskID: id, State: protocol.TaskRunning}
	if err := r.store.Write(r.ctx, types.TaskStatusKey(id), protocol.EncodeTaskStatus(running)); err != nil {
		return protocol.TaskStatus{}, status.Errorf(codes.Internal, "failed to record task: %v", err)
	}

	r.mu.Lock()
	r.tasks[id] = &taskInfo{requester: identity.RequesterID}
	r.mu.Unlock()

	r.logger.Debug("Task started",
		zap.String("task_id", id),
		zap.String("entry", req.ProtocolName),
		zap.String("requester", string(identity.RequesterID)))

	r.wg.Add(1)
	go r.run(id, req.ProtocolName, entry, req.Param, participants)
	return running, nil
}

func (r *taskRunner) run(id, name string, entry taskEntry, param []byte, participants []types.Participant) {
	defer r.wg.Done()

	ctx := r.ctx
	var cancel context.CancelFunc
	if entry.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, entry.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	output, err := entry.run(ctx, param, participants)

	// results are written even if the node is stopping
	writeCtx := context.WithoutCancel(r.ctx)
	final := protocol.TaskStatus{TaskID: id, State: protocol.TaskDone}
	if err != nil {
		final.State = protocol.TaskFailed
		final.Error = err.Error()
		if errors.Is(err, store.ErrNotFound) {
			final.Error = protocol.TaskErrorNotFound
		}
		r.logger.Debug("Task failed", zap.String("task_id", id), zap.String("entry", name), zap.Error(err))
	} else if err := r.store.Write(writeCtx, types.TaskOutputKey(id), output); err != nil {
		final.State = protocol.TaskFailed
		final.Error = err.Error()
	}

	if err := r.store.Write(writeCtx, types.TaskStatusKey(id), protocol.EncodeTaskStatus(final)); err != nil {
		r.logger.Warn("Failed to record task status", zap.String("task_id", id), zap.Error(err))
	}

	r.mu.Lock()
	if info, ok := r.tasks[id]; ok {
		info.finishedAt = time.Now()
	}
	r.mu.Unlock()
}

// readable reports whether requester may read the task key.
func (r *taskRunner) readable(key string, requester types.UserID) bool {
	id := taskIDFromKey(key)

	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tasks[id]
	return ok && info.requester == requester
}

// prune forgets tasks that finished before cutoff and deletes their keys.
func (r *taskRunner) prune(cutoff time.Time) int {
	r.mu.Lock()
	var expired []string
	for id, info := range r.tasks {
		if !info.finishedAt.IsZero() && info.finishedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(r.tasks, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.store.Delete(r.ctx, types.TaskStatusKey(id))
		r.store.Delete(r.ctx, types.TaskOutputKey(id))
	}
	return len(expired)
}

// wait blocks until every running task has finished.
func (r *taskRunner) wait() {
	r.wg.Wait()
}

// checkParticipants binds the requester participant to the caller and the
// provider participant to this node. A missing requester is filled in.
func checkParticipants(requester, self types.UserID, participants []types.Participant) ([]types.Participant, error) {
	out := make([]types.Participant, 0, len(participants)+1)
	hasRequester := false
	for _, p := range participants {
		switch p.Role {
		case types.RoleRequester:
			if p.UserID != requester {
				return nil, status.Errorf(codes.PermissionDenied, "requester %s does not match caller %s", p.UserID, requester)
			}
			hasRequester = true
		case types.RoleProvider:
			if p.UserID != self {
				return nil, status.Errorf(codes.InvalidArgument, "task is addressed to %s, not %s", p.UserID, self)
			}
		}
		out = append(out, p)
	}
	if !hasRequester && requester != "" {
		out = append(out, types.Participant{UserID: requester, Role: types.RoleRequester})
	}
	return out, nil
}

// taskIDFromKey returns the task id of a _task:<id>:<attr> key.
func taskIDFromKey(key string) string {
	rest := strings.TrimPrefix(key, types.TaskKeyPrefix)
	if i := strings.LastIndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return rest
}
