package auth

import (
	"context"
	"fmt"
	"strings"

	"federegistry/pkg/types"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	TokenMetadataKey     = "authorization"
	RequesterMetadataKey = "x-requester-id"
)

// AuthInterceptor authenticates inbound calls by the bearer credential they
// carry, which must have been issued by this node.
type AuthInterceptor struct {
	validator   TokenValidator
	requireAuth bool
}

// NewAuthInterceptor creates a new authentication interceptor
func NewAuthInterceptor(validator TokenValidator, requireAuth bool) *AuthInterceptor {
	return &AuthInterceptor{
		validator:   validator,
		requireAuth: requireAuth,
	}
}

// UnaryServerInterceptor returns a gRPC unary server interceptor for authentication
func (ai *AuthInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		newCtx, err := ai.authenticate(ctx)
		if err != nil {
			if ai.requireAuth {
				return nil, status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
			}
			newCtx = ctx
		}

		return handler(newCtx, req)
	}
}

// UnaryClientInterceptor attaches a fixed credential to every call. Used by
// operator tooling that talks to a single node.
func UnaryClientInterceptor(token string, requester types.UserID) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = OutgoingContext(ctx, token, requester)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// OutgoingContext adds the credential and requester identity to ctx's
// outgoing metadata.
func OutgoingContext(ctx context.Context, token string, requester types.UserID) context.Context {
	pairs := []string{}
	if token != "" {
		pairs = append(pairs, TokenMetadataKey, fmt.Sprintf("Bearer %s", token))
	}
	if requester != "" {
		pairs = append(pairs, RequesterMetadataKey, string(requester))
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// authenticate extracts and validates identity from the request context
func (ai *AuthInterceptor) authenticate(ctx context.Context) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, fmt.Errorf("no metadata in context")
	}

	authHeaders := md.Get(TokenMetadataKey)
	if len(authHeaders) == 0 {
		return ctx, fmt.Errorf("no authorization header")
	}

	token, found := strings.CutPrefix(authHeaders[0], "Bearer ")
	if !found || token == "" {
		return ctx, fmt.Errorf("invalid authorization header format")
	}

	claims, err := ai.validator.Validate(token)
	if err != nil {
		return ctx, fmt.Errorf("token validation failed: %w", err)
	}

	identity := &Identity{
		Issuer:    claims.UserID,
		Privilege: claims.Privilege,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	if requester := md.Get(RequesterMetadataKey); len(requester) > 0 {
		identity.RequesterID = types.UserID(requester[0])
	}

	return WithIdentity(ctx, identity), nil
}

// RequirePrivilege returns the caller identity if it holds required.
func RequirePrivilege(ctx context.Context, required Privilege) (*Identity, error) {
	identity, ok := GetIdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no identity in context")
	}

	if !identity.Privilege.Allows(required) {
		return nil, status.Errorf(codes.PermissionDenied, "requires %s privilege, got %s", required, identity.Privilege)
	}

	return identity, nil
}
