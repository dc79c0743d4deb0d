package protocol

import (
	"context"

	"federegistry/pkg/types"
)

// Protocol entry names a node can be asked to run.
const (
	EntryRegistryInit   = "registry:@init"
	EntryUpdateRegistry = "registry:update_registries"
	EntryQueryRegistry  = "registry:query_from_registries"
	EntryGetRegistries  = "registry:get_registries"

	EntryRemoteStorageUpdate = "remote_storage.update"
	EntryRemoteStorageRead   = "remote_storage.read"
	EntryRemoteStorageDelete = "remote_storage.delete"
)

// EntryFunc runs one protocol entry. param is the entry's encoded
// parameter; the returned bytes become the task output.
type EntryFunc func(ctx context.Context, param []byte, participants []types.Participant) ([]byte, error)
