package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"federegistry/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var testSecret = []byte("test-signing-secret")

func TestIssuerRoundTrip(t *testing.T) {
	issuer := NewIssuer("alice", testSecret)

	token, err := issuer.IssueGuest(time.Now().Add(GuestExpiry))
	require.NoError(t, err)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, types.UserID("alice"), claims.UserID)
	assert.Equal(t, PrivilegeGuest, claims.Privilege)
	assert.WithinDuration(t, time.Now().Add(GuestExpiry), claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssuerValidateRejects(t *testing.T) {
	issuer := NewIssuer("alice", testSecret)
	otherSecret := NewIssuer("alice", []byte("another-secret"))
	otherNode := NewIssuer("bob", testSecret)

	expired, err := issuer.IssueGuest(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	wrongKey, err := otherSecret.IssueGuest(time.Now().Add(time.Hour))
	require.NoError(t, err)
	wrongIssuer, err := otherNode.IssueGuest(time.Now().Add(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "expired", token: expired, wantErr: ErrTokenExpired},
		{name: "wrong signing secret", token: wrongKey, wantErr: ErrInvalidToken},
		{name: "issued by another node", token: wrongIssuer, wantErr: ErrInvalidToken},
		{name: "garbage", token: "not-a-jwt", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Validate(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	issuer := NewIssuer("alice", testSecret)
	_, err := issuer.Issue("", time.Now().Add(time.Hour), PrivilegeGuest)
	assert.Error(t, err)
}

func TestDeriveIdentity(t *testing.T) {
	// signature and expiry are not checked
	expired, err := NewIssuer("registry-1", []byte("unknown")).IssueGuest(time.Now().Add(-time.Hour))
	require.NoError(t, err)

	id, err := DeriveIdentity(expired)
	require.NoError(t, err)
	assert.Equal(t, types.UserID("registry-1"), id)

	_, err = DeriveIdentity("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPrivilegeAllows(t *testing.T) {
	assert.True(t, PrivilegeUser.Allows(PrivilegeUser))
	assert.True(t, PrivilegeUser.Allows(PrivilegeGuest))
	assert.True(t, PrivilegeGuest.Allows(PrivilegeGuest))
	assert.False(t, PrivilegeGuest.Allows(PrivilegeUser))
	assert.False(t, Privilege("").Allows(PrivilegeGuest))
}

func TestAuthConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    AuthConfig
		wantError bool
	}{
		{
			name:   "disabled auth config",
			config: AuthConfig{Enabled: false},
		},
		{
			name:      "enabled without certificates",
			config:    AuthConfig{Enabled: true},
			wantError: true,
		},
		{
			name: "enabled with paths",
			config: AuthConfig{
				Enabled:  true,
				CAPath:   "/tmp/ca.crt",
				CertPath: "/tmp/cert.crt",
				KeyPath:  "/tmp/key.pem",
			},
		},
		{
			name: "client auth without client CA",
			config: AuthConfig{
				Enabled:           true,
				CAPath:            "/tmp/ca.crt",
				CertPath:          "/tmp/cert.crt",
				KeyPath:           "/tmp/key.pem",
				RequireClientAuth: true,
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultAuthConfig(t *testing.T) {
	config := DefaultAuthConfig()
	assert.False(t, config.Enabled)
	assert.False(t, config.RequireClientAuth)
	assert.Equal(t, "1.2", config.MinTLSVersion)
}

func TestAuthInterceptor(t *testing.T) {
	issuer := NewIssuer("alice", testSecret)
	token, err := issuer.IssueGuest(time.Now().Add(time.Hour))
	require.NoError(t, err)

	info := &grpc.UnaryServerInfo{FullMethod: "/federegistry.v1.Node/RemoteStorageRead"}
	var seen *Identity
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen, _ = GetIdentityFromContext(ctx)
		return "ok", nil
	}

	incoming := func(pairs ...string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
	}

	t.Run("valid bearer token", func(t *testing.T) {
		seen = nil
		interceptor := NewAuthInterceptor(issuer, true).UnaryServerInterceptor()
		ctx := incoming(TokenMetadataKey, "Bearer "+token, RequesterMetadataKey, "bob")

		_, err := interceptor(ctx, nil, info, handler)
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, types.UserID("alice"), seen.Issuer)
		assert.Equal(t, types.UserID("bob"), seen.RequesterID)
		assert.Equal(t, PrivilegeGuest, seen.Privilege)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		interceptor := NewAuthInterceptor(issuer, true).UnaryServerInterceptor()
		_, err := interceptor(incoming(RequesterMetadataKey, "bob"), nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		interceptor := NewAuthInterceptor(issuer, true).UnaryServerInterceptor()
		_, err := interceptor(incoming(TokenMetadataKey, token), nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("optional auth passes through", func(t *testing.T) {
		seen = nil
		interceptor := NewAuthInterceptor(issuer, false).UnaryServerInterceptor()
		_, err := interceptor(context.Background(), nil, info, handler)
		require.NoError(t, err)
		assert.Nil(t, seen)
	})
}

func TestOutgoingContext(t *testing.T) {
	ctx := OutgoingContext(context.Background(), "tok", "bob")
	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"Bearer tok"}, md.Get(TokenMetadataKey))
	assert.Equal(t, []string{"bob"}, md.Get(RequesterMetadataKey))

	bare := OutgoingContext(context.Background(), "", "")
	_, ok = metadata.FromOutgoingContext(bare)
	assert.False(t, ok)
}

func TestRequirePrivilege(t *testing.T) {
	_, err := RequirePrivilege(context.Background(), PrivilegeGuest)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	guest := WithIdentity(context.Background(), &Identity{Issuer: "alice", Privilege: PrivilegeGuest})
	identity, err := RequirePrivilege(guest, PrivilegeGuest)
	require.NoError(t, err)
	assert.Equal(t, types.UserID("alice"), identity.Issuer)

	_, err = RequirePrivilege(guest, PrivilegeUser)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func writeTestCertificate(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Registry Test"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "node.crt")
	keyPath = filepath.Join(dir, "node.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certPath, keyPath
}

func TestTLSConfigBuilder(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		builder, err := NewTLSConfigBuilder(nil)
		require.NoError(t, err)

		serverConfig, err := builder.BuildServerConfig()
		require.NoError(t, err)
		assert.Nil(t, serverConfig)

		opt, err := builder.ServerOption()
		require.NoError(t, err)
		assert.Nil(t, opt)

		dial, err := builder.DialOption()
		require.NoError(t, err)
		assert.NotNil(t, dial)
	})

	t.Run("enabled with mutual TLS", func(t *testing.T) {
		certPath, keyPath := writeTestCertificate(t, t.TempDir())
		builder, err := NewTLSConfigBuilder(&AuthConfig{
			Enabled:           true,
			CAPath:            certPath,
			CertPath:          certPath,
			KeyPath:           keyPath,
			ClientCAPath:      certPath,
			RequireClientAuth: true,
			MinTLSVersion:     "1.3",
		})
		require.NoError(t, err)

		serverConfig, err := builder.BuildServerConfig()
		require.NoError(t, err)
		assert.Len(t, serverConfig.Certificates, 1)
		assert.Equal(t, tls.RequireAndVerifyClientCert, serverConfig.ClientAuth)
		assert.Equal(t, uint16(tls.VersionTLS13), serverConfig.MinVersion)

		clientConfig, err := builder.BuildClientConfig()
		require.NoError(t, err)
		assert.NotNil(t, clientConfig.RootCAs)
		assert.Len(t, clientConfig.Certificates, 1)
	})

	t.Run("missing CA file", func(t *testing.T) {
		certPath, keyPath := writeTestCertificate(t, t.TempDir())
		builder, err := NewTLSConfigBuilder(&AuthConfig{
			Enabled:  true,
			CAPath:   filepath.Join(t.TempDir(), "missing.crt"),
			CertPath: certPath,
			KeyPath:  keyPath,
		})
		require.NoError(t, err)

		_, err = builder.BuildClientConfig()
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewTLSConfigBuilder(&AuthConfig{Enabled: true})
		assert.Error(t, err)
	})
}
