package protocol

import (
	"federegistry/pkg/types"

	"google.golang.org/protobuf/encoding/protowire"
)

// RemoteStorageRequest addresses one entry held by a provider on behalf of
// a holder. Payload is only set for updates.
type RemoteStorageRequest struct {
	HolderID    types.UserID
	KeyName     string
	Payload     []byte
	IsPublic    bool
	RequesterID types.UserID
}

// TaskRequest asks a node to run a named protocol entry.
type TaskRequest struct {
	ProtocolName string
	Param        []byte
	Participants []types.Participant
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// TaskErrorNotFound is the Error of a failed task whose entry was absent.
const TaskErrorNotFound = "not_found"

// TaskStatus reports a task's id and lifecycle state.
type TaskStatus struct {
	TaskID string
	State  TaskState
	Error  string
}

// Finished reports whether the task reached a terminal state.
func (s TaskStatus) Finished() bool {
	return s.State == TaskDone || s.State == TaskFailed
}

// EncodeRemoteStorageRequest encodes r.
func EncodeRemoteStorageRequest(r RemoteStorageRequest) []byte {
	var b []byte
	b = appendString(b, 1, string(r.HolderID))
	b = appendString(b, 2, r.KeyName)
	b = appendBytes(b, 3, r.Payload)
	b = appendBool(b, 4, r.IsPublic)
	b = appendString(b, 5, string(r.RequesterID))
	return b
}

// DecodeRemoteStorageRequest decodes a RemoteStorageRequest.
func DecodeRemoteStorageRequest(b []byte) (RemoteStorageRequest, error) {
	var r RemoteStorageRequest
	var holder, requester string
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &holder)
		case 2:
			return consumeString(typ, b, &r.KeyName)
		case 3:
			return consumeBytes(typ, b, &r.Payload)
		case 4:
			return consumeBool(typ, b, &r.IsPublic)
		case 5:
			return consumeString(typ, b, &requester)
		}
		return -1
	})
	if err != nil {
		return RemoteStorageRequest{}, err
	}
	r.HolderID = types.UserID(holder)
	r.RequesterID = types.UserID(requester)
	return r, nil
}

func encodeParticipant(p types.Participant) []byte {
	var b []byte
	b = appendString(b, 1, string(p.UserID))
	b = appendString(b, 2, p.Role)
	return b
}

func decodeParticipant(b []byte) (types.Participant, error) {
	var p types.Participant
	var id string
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &id)
		case 2:
			return consumeString(typ, b, &p.Role)
		}
		return -1
	})
	p.UserID = types.UserID(id)
	return p, err
}

// EncodeTaskRequest encodes t.
func EncodeTaskRequest(t TaskRequest) []byte {
	var b []byte
	b = appendString(b, 1, t.ProtocolName)
	b = appendBytes(b, 2, t.Param)
	for _, p := range t.Participants {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeParticipant(p))
	}
	return b
}

// DecodeTaskRequest decodes a TaskRequest.
func DecodeTaskRequest(b []byte) (TaskRequest, error) {
	var t TaskRequest
	var inner error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &t.ProtocolName)
		case 2:
			return consumeBytes(typ, b, &t.Param)
		case 3:
			if typ != protowire.BytesType {
				return -1
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			p, err := decodeParticipant(v)
			if err != nil {
				inner = err
				return len(b)
			}
			t.Participants = append(t.Participants, p)
			return n
		}
		return -1
	})
	if inner != nil {
		return TaskRequest{}, inner
	}
	if err != nil {
		return TaskRequest{}, err
	}
	return t, nil
}

// EncodeTaskStatus encodes s.
func EncodeTaskStatus(s TaskStatus) []byte {
	var b []byte
	b = appendString(b, 1, s.TaskID)
	b = appendString(b, 2, string(s.State))
	b = appendString(b, 3, s.Error)
	return b
}

// DecodeTaskStatus decodes a TaskStatus.
func DecodeTaskStatus(b []byte) (TaskStatus, error) {
	var s TaskStatus
	var state string
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &s.TaskID)
		case 2:
			return consumeString(typ, b, &state)
		case 3:
			return consumeString(typ, b, &s.Error)
		}
		return -1
	})
	if err != nil {
		return TaskStatus{}, err
	}
	s.State = TaskState(state)
	return s, nil
}
