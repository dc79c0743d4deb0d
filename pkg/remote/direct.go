package remote

import (
	"context"

	"federegistry/pkg/protocol"
	"federegistry/pkg/types"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DirectClient makes one authenticated remote-storage RPC per call.
type DirectClient struct {
	caller Caller
}

func NewDirectClient(caller Caller) *DirectClient {
	return &DirectClient{caller: caller}
}

func (d *DirectClient) Read(ctx context.Context, provider types.UserID, keyName string, isPublic bool, holder types.UserID) ([]byte, error) {
	req := protocol.RemoteStorageRequest{
		HolderID:    holder,
		KeyName:     keyName,
		IsPublic:    isPublic,
		RequesterID: d.caller.Self(),
	}

	var payload []byte
	err := d.caller.Call(ctx, provider, protocol.EntryRemoteStorageRead, func(ctx context.Context, client protocol.NodeClient) error {
		resp, err := client.RemoteStorageRead(ctx, wrapperspb.Bytes(protocol.EncodeRemoteStorageRequest(req)))
		if err != nil {
			return err
		}
		payload = resp.GetValue()
		return nil
	})
	if err != nil {
		return nil, callError("read", provider, err)
	}
	return payload, nil
}

func (d *DirectClient) Write(ctx context.Context, provider types.UserID, keyName string, payload []byte, isPublic bool) error {
	req := protocol.RemoteStorageRequest{
		HolderID:    d.caller.Self(),
		KeyName:     keyName,
		Payload:     payload,
		IsPublic:    isPublic,
		RequesterID: d.caller.Self(),
	}

	err := d.caller.Call(ctx, provider, protocol.EntryRemoteStorageUpdate, func(ctx context.Context, client protocol.NodeClient) error {
		_, err := client.RemoteStorageUpdate(ctx, wrapperspb.Bytes(protocol.EncodeRemoteStorageRequest(req)))
		return err
	})
	return callError("write", provider, err)
}

func (d *DirectClient) Delete(ctx context.Context, provider types.UserID, keyName string, isPublic bool) error {
	req := protocol.RemoteStorageRequest{
		HolderID:    d.caller.Self(),
		KeyName:     keyName,
		IsPublic:    isPublic,
		RequesterID: d.caller.Self(),
	}

	err := d.caller.Call(ctx, provider, protocol.EntryRemoteStorageDelete, func(ctx context.Context, client protocol.NodeClient) error {
		_, err := client.RemoteStorageDelete(ctx, wrapperspb.Bytes(protocol.EncodeRemoteStorageRequest(req)))
		return err
	})
	return callError("delete", provider, err)
}
