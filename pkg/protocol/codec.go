package protocol

import (
	"errors"
	"fmt"

	"federegistry/pkg/types"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode is returned for any malformed encoded message.
var ErrDecode = errors.New("malformed message")

// Field numbers match proto/colink_registry.proto so that peers built from
// the .proto definitions interoperate byte for byte.
const (
	fieldRegistryAddress  protowire.Number = 1
	fieldRegistryGuestJWT protowire.Number = 2

	fieldRegistriesList protowire.Number = 1

	fieldUserRecordUserID   protowire.Number = 1
	fieldUserRecordCoreAddr protowire.Number = 2
	fieldUserRecordGuestJWT protowire.Number = 3
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

// fieldFunc handles one field. It returns the number of bytes consumed, or
// -1 to have the field skipped as unknown.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		m := fn(num, typ, b)
		if m == -1 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return -1
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return -1
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) int {
	if typ != protowire.VarintType {
		return -1
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}

// EncodeRegistry encodes a single Registry message.
func EncodeRegistry(r types.Registry) []byte {
	var b []byte
	b = appendString(b, fieldRegistryAddress, r.Address)
	b = appendString(b, fieldRegistryGuestJWT, r.GuestJWT)
	return b
}

// DecodeRegistry decodes a single Registry message.
func DecodeRegistry(b []byte) (types.Registry, error) {
	var r types.Registry
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case fieldRegistryAddress:
			return consumeString(typ, b, &r.Address)
		case fieldRegistryGuestJWT:
			return consumeString(typ, b, &r.GuestJWT)
		}
		return -1
	})
	return r, err
}

// EncodeRegistries encodes a directory.
func EncodeRegistries(regs types.Registries) []byte {
	var b []byte
	for _, r := range regs.Registries {
		b = protowire.AppendTag(b, fieldRegistriesList, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeRegistry(r))
	}
	return b
}

// DecodeRegistries decodes a directory, preserving order.
func DecodeRegistries(b []byte) (types.Registries, error) {
	var regs types.Registries
	var inner error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != fieldRegistriesList || typ != protowire.BytesType {
			return -1
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		r, err := DecodeRegistry(v)
		if err != nil {
			inner = err
			return len(b)
		}
		regs.Registries = append(regs.Registries, r)
		return n
	})
	if inner != nil {
		return types.Registries{}, inner
	}
	if err != nil {
		return types.Registries{}, err
	}
	return regs, nil
}

// EncodeUserRecord encodes a UserRecord.
func EncodeUserRecord(u types.UserRecord) []byte {
	var b []byte
	b = appendString(b, fieldUserRecordUserID, string(u.UserID))
	b = appendString(b, fieldUserRecordCoreAddr, u.CoreAddr)
	b = appendString(b, fieldUserRecordGuestJWT, u.GuestJWT)
	return b
}

// DecodeUserRecord decodes a UserRecord.
func DecodeUserRecord(b []byte) (types.UserRecord, error) {
	var u types.UserRecord
	var userID string
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case fieldUserRecordUserID:
			return consumeString(typ, b, &userID)
		case fieldUserRecordCoreAddr:
			return consumeString(typ, b, &u.CoreAddr)
		case fieldUserRecordGuestJWT:
			return consumeString(typ, b, &u.GuestJWT)
		}
		return -1
	})
	if err != nil {
		return types.UserRecord{}, err
	}
	u.UserID = types.UserID(userID)
	return u, nil
}
