package types

import "fmt"

// UserID identifies a node's owning user. It is only ever learned by
// decoding a credential, never from a separately supplied field.
type UserID string

// Registry is a trusted intermediary: where to reach it and the guest
// credential it handed out. Replaced wholesale, never patched.
type Registry struct {
	Address  string
	GuestJWT string
}

// Registries is the ordered directory of trusted registries. Order is the
// priority order used for resolution.
type Registries struct {
	Registries []Registry
}

// Len returns the number of registries in the directory.
func (r Registries) Len() int {
	return len(r.Registries)
}

// Clone returns a copy that shares no backing array with r.
func (r Registries) Clone() Registries {
	out := Registries{Registries: make([]Registry, len(r.Registries))}
	copy(out.Registries, r.Registries)
	return out
}

// UserRecord is how to reach and authenticate to a node.
type UserRecord struct {
	UserID   UserID
	CoreAddr string
	GuestJWT string
}

// Participant is one side of a two-party task.
type Participant struct {
	UserID UserID
	Role   string
}

const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
)

// Persisted key layout.
const (
	RegistriesKey       = "_registry:registries"
	UserRecordKeyName   = "_registry:user_record"
	DefaultRegistryAddr = "_registry:init:default_registry_addr"
	DefaultRegistryJWT  = "_registry:init:default_registry_jwt"

	TaskKeyPrefix = "_task:"
)

// PublicKey returns the store key of a public remote-storage entry held on
// behalf of owner.
func PublicKey(owner UserID, name string) string {
	return fmt.Sprintf("_remote_storage:public:%s:%s", owner, name)
}

// PrivateKey returns the store key of a private remote-storage entry held on
// behalf of owner.
func PrivateKey(owner UserID, name string) string {
	return fmt.Sprintf("_remote_storage:private:%s:%s", owner, name)
}

// HolderKey picks PublicKey or PrivateKey.
func HolderKey(owner UserID, name string, isPublic bool) string {
	if isPublic {
		return PublicKey(owner, name)
	}
	return PrivateKey(owner, name)
}

// TaskOutputKey is where a finished task leaves its output.
func TaskOutputKey(taskID string) string {
	return TaskKeyPrefix + taskID + ":output"
}

// TaskStatusKey is where a task records its lifecycle state.
func TaskStatusKey(taskID string) string {
	return TaskKeyPrefix + taskID + ":status"
}

// TrustKey is where an imported peer attribute is persisted.
func TrustKey(id UserID, attr string) string {
	return fmt.Sprintf("_registry:trust:%s:%s", id, attr)
}
