package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/bootstrap"
	"federegistry/pkg/federation"
	"federegistry/pkg/protocol"
	"federegistry/pkg/remote"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRemote plays every remote registry. entries holds, per provider, the
// store keys that provider would hold.
type fakeRemote struct {
	t      *testing.T
	self   types.UserID
	forbid bool

	mu      sync.Mutex
	entries map[types.UserID]map[string][]byte
	down    map[types.UserID]bool
	calls   []string
}

func newFakeRemote(t *testing.T, self types.UserID) *fakeRemote {
	return &fakeRemote{
		t:       t,
		self:    self,
		entries: make(map[types.UserID]map[string][]byte),
		down:    make(map[types.UserID]bool),
	}
}

func (f *fakeRemote) enter(op string, provider types.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forbid {
		f.t.Errorf("unexpected remote %s to %s", op, provider)
	}
	f.calls = append(f.calls, op+":"+string(provider))
	if f.down[provider] {
		return fmt.Errorf("%w: %s unreachable", remote.ErrRemoteCall, provider)
	}
	return nil
}

func (f *fakeRemote) Read(_ context.Context, provider types.UserID, keyName string, isPublic bool, holder types.UserID) ([]byte, error) {
	if err := f.enter("read", provider); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[provider][types.HolderKey(holder, keyName, isPublic)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (f *fakeRemote) Write(_ context.Context, provider types.UserID, keyName string, payload []byte, isPublic bool) error {
	if err := f.enter("write", provider); err != nil {
		return err
	}
	f.put(provider, types.HolderKey(f.self, keyName, isPublic), payload)
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, provider types.UserID, keyName string, isPublic bool) error {
	if err := f.enter("delete", provider); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries[provider], types.HolderKey(f.self, keyName, isPublic))
	return nil
}

func (f *fakeRemote) put(provider types.UserID, key string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries[provider] == nil {
		f.entries[provider] = make(map[string][]byte)
	}
	f.entries[provider][key] = payload
}

func (f *fakeRemote) record(provider, owner types.UserID) (types.UserRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[provider][types.PublicKey(owner, types.UserRecordKeyName)]
	if !ok {
		return types.UserRecord{}, false
	}
	record, err := protocol.DecodeUserRecord(v)
	require.NoError(f.t, err)
	return record, true
}

func (f *fakeRemote) takeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	return calls
}

type testNode struct {
	id      types.UserID
	issuer  *auth.Issuer
	store   *store.MemoryStore
	trust   *federation.TrustStore
	remote  *fakeRemote
	metrics *federation.RegistryMetrics
	service *Service
	sleeps  atomic.Int32
}

func newTestNode(t *testing.T, id types.UserID, opts Options, boot Bootstrap) *testNode {
	t.Helper()
	logger := zaptest.NewLogger(t)

	n := &testNode{
		id:      id,
		issuer:  auth.NewIssuer(id, []byte(string(id)+"-secret")),
		store:   store.NewMemoryStore(),
		remote:  newFakeRemote(t, id),
		metrics: federation.NewRegistryMetrics(prometheus.NewRegistry()),
	}
	n.trust = federation.NewTrustStore(n.store, logger)

	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, _ time.Duration) error {
			n.sleeps.Add(1)
			return ctx.Err()
		}
	}

	deps := Deps{
		CoreAddr: "http://" + string(id) + ":9000",
		Store:    n.store,
		Remote:   n.remote,
		Issuer:   n.issuer,
		Trust:    n.trust,
		Metrics:  n.metrics,
		Logger:   logger,
	}
	n.service = NewService(deps, opts, boot)
	return n
}

// selfRegistry is a directory entry pointing at n itself.
func (n *testNode) selfRegistry(t *testing.T) types.Registry {
	t.Helper()
	token, err := n.issuer.IssueGuest(time.Now().Add(time.Hour))
	require.NoError(t, err)
	return types.Registry{Address: "http://" + string(n.id) + ":9000", GuestJWT: token}
}

// setDirectory stores regs without publishing.
func (n *testNode) setDirectory(t *testing.T, regs ...types.Registry) {
	t.Helper()
	payload := protocol.EncodeRegistries(types.Registries{Registries: regs})
	require.NoError(t, n.store.Write(context.Background(), types.RegistriesKey, payload))
}

func registryFor(t *testing.T, id types.UserID) types.Registry {
	t.Helper()
	token, err := auth.NewIssuer(id, []byte(string(id)+"-secret")).IssueGuest(time.Now().Add(time.Hour))
	require.NoError(t, err)
	return types.Registry{Address: "http://" + string(id) + ":9000", GuestJWT: token}
}

func recordFor(t *testing.T, id types.UserID, addr string) []byte {
	t.Helper()
	token, err := auth.NewIssuer(id, []byte(string(id)+"-secret")).IssueGuest(time.Now().Add(time.Hour))
	require.NoError(t, err)
	return protocol.EncodeUserRecord(types.UserRecord{UserID: id, CoreAddr: addr, GuestJWT: token})
}

func directory(regs ...types.Registry) types.Registries {
	return types.Registries{Registries: regs}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, BestEffort, opts.RetractionPolicy)
	assert.Equal(t, 3, opts.MaxPasses)
	assert.Equal(t, time.Second, opts.PassBackoff)
	assert.Equal(t, 1, opts.PublishConcurrency)
	assert.NotNil(t, opts.Sleep)

	assert.Equal(t, time.Duration(0), Options{PassBackoff: -1}.withDefaults().PassBackoff)
}

func TestParseRetractionPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RetractionPolicy
		wantErr bool
	}{
		{"", BestEffort, false},
		{"best_effort", BestEffort, false},
		{"strict", Strict, false},
		{"lenient", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRetractionPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRetractionPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRetractionPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, "alice", Options{}, nil)
	r1 := registryFor(t, "r1")
	regs := directory(r1, n.selfRegistry(t))

	// credentials carry second precision and are validated against the real clock
	first := time.Now().Truncate(time.Second)
	n.service.publisher.now = func() time.Time { return first }
	require.NoError(t, n.service.publisher.Publish(ctx, regs))

	second := first.Add(48 * time.Hour)
	n.service.publisher.now = func() time.Time { return second }
	require.NoError(t, n.service.publisher.Publish(ctx, regs))

	remoteRecord, ok := n.remote.record("r1", "alice")
	require.True(t, ok)

	raw, err := n.store.Read(ctx, types.PublicKey("alice", types.UserRecordKeyName))
	require.NoError(t, err)
	localRecord, err := protocol.DecodeUserRecord(raw)
	require.NoError(t, err)

	for _, record := range []types.UserRecord{remoteRecord, localRecord} {
		assert.Equal(t, types.UserID("alice"), record.UserID)
		assert.Equal(t, "http://alice:9000", record.CoreAddr)

		claims, err := n.issuer.Validate(record.GuestJWT)
		require.NoError(t, err)
		assert.Equal(t, auth.PrivilegeGuest, claims.Privilege)
		assert.True(t, claims.ExpiresAt.Time.Equal(second.Add(auth.GuestExpiry)),
			"stored credential should be the latest one, expires %v", claims.ExpiresAt.Time)
	}
	assert.Equal(t, remoteRecord, localRecord)
}

func TestPublishIsolatesFailures(t *testing.T) {
	n := newTestNode(t, "alice", Options{PublishConcurrency: 4}, nil)
	ids := []types.UserID{"r1", "r2", "r3", "r4", "r5"}
	var regs []types.Registry
	for _, id := range ids {
		regs = append(regs, registryFor(t, id))
	}
	n.remote.down["r3"] = true

	err := n.service.publisher.Publish(context.Background(), directory(regs...))
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrRemoteCall)
	assert.Contains(t, err.Error(), "r3")

	for _, id := range ids {
		_, ok := n.remote.record(id, "alice")
		assert.Equal(t, id != "r3", ok, "record on %s", id)
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(n.metrics.PublishAttempts.WithLabelValues(federation.KindRemote)))
	assert.Equal(t, 1.0, testutil.ToFloat64(n.metrics.PublishFailures.WithLabelValues(federation.KindRemote)))
}

func TestPublishSkipsUnreadableCredential(t *testing.T) {
	n := newTestNode(t, "alice", Options{}, nil)
	regs := directory(types.Registry{Address: "bad:1", GuestJWT: "not-a-token"}, registryFor(t, "r1"))

	err := n.service.publisher.Publish(context.Background(), regs)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, ok := n.remote.record("r1", "alice")
	assert.True(t, ok)
}

func TestSetRetractsStaleRegistries(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, "alice", Options{}, nil)
	r1, r2, r3 := registryFor(t, "r1"), registryFor(t, "r2"), registryFor(t, "r3")

	require.NoError(t, n.service.Directory().Set(ctx, directory(r1, r2)))
	before, ok := n.remote.record("r2", "alice")
	require.True(t, ok)
	n.remote.takeCalls()

	n.service.publisher.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, n.service.Directory().Set(ctx, directory(r2, r3)))

	_, ok = n.remote.record("r1", "alice")
	assert.False(t, ok, "r1 should no longer hold the record")

	after, ok := n.remote.record("r2", "alice")
	require.True(t, ok)
	assert.NotEqual(t, before.GuestJWT, after.GuestJWT, "r2 record should be refreshed")

	_, ok = n.remote.record("r3", "alice")
	assert.True(t, ok)

	// retraction runs over the old directory before publishing the new one
	assert.Equal(t, []string{"delete:r1", "delete:r2", "write:r2", "write:r3"}, n.remote.takeCalls())

	got, err := n.service.Directory().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, directory(r2, r3), got)
	assert.Equal(t, 2.0, testutil.ToFloat64(n.metrics.DirectorySize))
}

func TestSetRetractionPolicy(t *testing.T) {
	ctx := context.Background()
	r1, r2 := registryFor(t, "r1"), registryFor(t, "r2")

	t.Run("best effort carries on", func(t *testing.T) {
		n := newTestNode(t, "alice", Options{}, nil)
		require.NoError(t, n.service.Directory().Set(ctx, directory(r1)))
		n.remote.down["r1"] = true

		require.NoError(t, n.service.Directory().Set(ctx, directory(r2)))

		got, err := n.service.Directory().Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, directory(r2), got)
		assert.Equal(t, 1.0, testutil.ToFloat64(n.metrics.RetractFailures.WithLabelValues(federation.KindRemote)))
	})

	t.Run("strict aborts", func(t *testing.T) {
		n := newTestNode(t, "alice", Options{RetractionPolicy: Strict}, nil)
		require.NoError(t, n.service.Directory().Set(ctx, directory(r1)))
		n.remote.down["r1"] = true

		err := n.service.Directory().Set(ctx, directory(r2))
		require.Error(t, err)
		assert.ErrorIs(t, err, remote.ErrRemoteCall)

		got, err := n.service.Directory().Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, directory(r1), got)

		_, ok := n.remote.record("r2", "alice")
		assert.False(t, ok, "nothing is published when the update is aborted")
	})
}

func TestSelfRegistryShortcut(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, "alice", Options{}, nil)
	n.remote.forbid = true
	self := n.selfRegistry(t)

	require.NoError(t, n.service.Directory().Set(ctx, directory(self)))
	_, err := n.store.Read(ctx, types.PublicKey("alice", types.UserRecordKeyName))
	require.NoError(t, err)

	// bob published to alice, who is his registry too
	require.NoError(t, n.store.Write(ctx, types.PublicKey("bob", types.UserRecordKeyName), recordFor(t, "bob", "http://bob:9000")))

	record, err := n.service.Resolver().Resolve(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "http://bob:9000", record.CoreAddr)

	require.NoError(t, n.service.Directory().Set(ctx, directory()))
	_, err = n.store.Read(ctx, types.PublicKey("alice", types.UserRecordKeyName))
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Empty(t, n.remote.takeCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(n.metrics.PublishAttempts.WithLabelValues(federation.KindSelf)))
}

func TestResolveFirstMatchWins(t *testing.T) {
	ctx := context.Background()
	ra, rb, rc := registryFor(t, "ra"), registryFor(t, "rb"), registryFor(t, "rc")

	t.Run("queries in order until a hit", func(t *testing.T) {
		n := newTestNode(t, "alice", Options{}, nil)
		n.setDirectory(t, ra, rb, rc)
		n.remote.put("rb", types.PublicKey("bob", types.UserRecordKeyName), recordFor(t, "bob", "http://bob:9000"))
		n.remote.put("rc", types.PublicKey("bob", types.UserRecordKeyName), recordFor(t, "bob", "http://stale:9000"))

		record, err := n.service.Resolver().Resolve(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, types.UserID("bob"), record.UserID)
		assert.Equal(t, "http://bob:9000", record.CoreAddr)
		assert.Equal(t, []string{"read:ra", "read:rb"}, n.remote.takeCalls())

		addr, err := n.trust.Address(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "http://bob:9000", addr)
		cred, err := n.trust.Credential(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, record.GuestJWT, cred)

		assert.Equal(t, 1.0, testutil.ToFloat64(n.metrics.ResolveOutcomes.WithLabelValues(federation.OutcomeResolved)))
		assert.Equal(t, int32(0), n.sleeps.Load())
	})

	t.Run("unreachable registry is skipped", func(t *testing.T) {
		n := newTestNode(t, "alice", Options{}, nil)
		n.setDirectory(t, ra, rb)
		n.remote.down["ra"] = true
		n.remote.put("rb", types.PublicKey("bob", types.UserRecordKeyName), recordFor(t, "bob", "http://bob:9000"))

		_, err := n.service.Resolver().Resolve(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"read:ra", "read:rb"}, n.remote.takeCalls())
	})

	t.Run("registry credential is imported before the call", func(t *testing.T) {
		n := newTestNode(t, "alice", Options{}, nil)
		n.setDirectory(t, ra)
		n.remote.put("ra", types.PublicKey("bob", types.UserRecordKeyName), recordFor(t, "bob", "http://bob:9000"))

		_, err := n.service.Resolver().Resolve(ctx, "bob")
		require.NoError(t, err)

		addr, err := n.trust.Address(ctx, "ra")
		require.NoError(t, err)
		assert.Equal(t, ra.Address, addr)
	})
}

func TestResolveRejectsBadRecords(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, "alice", Options{}, nil)
	ra, rb, rc, rd := registryFor(t, "ra"), registryFor(t, "rb"), registryFor(t, "rc"), registryFor(t, "rd")
	n.setDirectory(t, ra, rb, rc, rd)

	key := types.PublicKey("bob", types.UserRecordKeyName)
	// undecodable
	n.remote.put("ra", key, []byte{0x0a, 0x05, 'b'})
	// names someone else
	n.remote.put("rb", key, recordFor(t, "mallory", "http://mallory:9000"))
	// right name, credential issued by someone else
	malloryToken, err := auth.NewIssuer("mallory", []byte("m")).IssueGuest(time.Now().Add(time.Hour))
	require.NoError(t, err)
	n.remote.put("rc", key, protocol.EncodeUserRecord(types.UserRecord{UserID: "bob", CoreAddr: "http://mallory:9000", GuestJWT: malloryToken}))
	n.remote.put("rd", key, recordFor(t, "bob", "http://bob:9000"))

	record, err := n.service.Resolver().Resolve(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "http://bob:9000", record.CoreAddr)

	_, err = n.trust.Address(ctx, "mallory")
	assert.ErrorIs(t, err, federation.ErrUnknownPeer)
}

func TestResolveBoundedRetry(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, "alice", Options{}, nil)
	n.setDirectory(t, registryFor(t, "ra"), registryFor(t, "rb"))

	record, err := n.service.Resolver().Resolve(ctx, "bob")
	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrUnresolved)

	calls := n.remote.takeCalls()
	assert.Len(t, calls, 6, "three full passes over two registries")
	for pass := 0; pass < 3; pass++ {
		assert.Equal(t, []string{"read:ra", "read:rb"}, calls[pass*2:pass*2+2])
	}
	assert.Equal(t, int32(2), n.sleeps.Load(), "no sleep after the final pass")
	assert.Equal(t, 3.0, testutil.ToFloat64(n.metrics.ResolvePasses))
	assert.Equal(t, 1.0, testutil.ToFloat64(n.metrics.ResolveOutcomes.WithLabelValues(federation.OutcomeUnresolved)))
}

func TestResolveBackoffTiming(t *testing.T) {
	backoff := 50 * time.Millisecond
	n := newTestNode(t, "alice", Options{PassBackoff: backoff, Sleep: sleepContext}, nil)
	n.setDirectory(t, registryFor(t, "ra"))

	started := time.Now()
	_, err := n.service.Resolver().Resolve(context.Background(), "bob")
	elapsed := time.Since(started)

	assert.ErrorIs(t, err, ErrUnresolved)
	assert.GreaterOrEqual(t, elapsed, 2*backoff)
	assert.Less(t, elapsed, 2*backoff+time.Second)
}

func TestResolveCancelledDuringBackoff(t *testing.T) {
	n := newTestNode(t, "alice", Options{Sleep: sleepContext}, nil)
	n.setDirectory(t, registryFor(t, "ra"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := n.service.Resolver().Resolve(ctx, "bob")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), DefaultPassBackoff)
	assert.Equal(t, 1.0, testutil.ToFloat64(n.metrics.ResolveOutcomes.WithLabelValues(federation.OutcomeCancelled)))
}

func TestResolveEmptyDirectory(t *testing.T) {
	n := newTestNode(t, "alice", Options{}, nil)

	_, err := n.service.Resolver().Resolve(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, int32(0), n.sleeps.Load())

	_, err = n.service.Resolver().Resolve(context.Background(), "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnresolved)
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	t.Run("registers with self without any bootstrap", func(t *testing.T) {
		n := newTestNode(t, "alice", Options{}, nil)
		n.remote.forbid = true
		require.NoError(t, n.service.Init(ctx))

		regs, err := n.service.Directory().Get(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, regs.Len())
		assert.Equal(t, "http://alice:9000", regs.Registries[0].Address)

		id, err := auth.DeriveIdentity(regs.Registries[0].GuestJWT)
		require.NoError(t, err)
		assert.Equal(t, types.UserID("alice"), id)

		_, err = n.store.Read(ctx, types.PublicKey("alice", types.UserRecordKeyName))
		assert.NoError(t, err)
	})

	t.Run("uses default registry keys", func(t *testing.T) {
		n := newTestNode(t, "alice", Options{}, nil)
		r1 := registryFor(t, "r1")
		require.NoError(t, n.store.Write(ctx, types.DefaultRegistryAddr, []byte(r1.Address)))
		require.NoError(t, n.store.Write(ctx, types.DefaultRegistryJWT, []byte(r1.GuestJWT)))

		require.NoError(t, n.service.Init(ctx))

		regs, err := n.service.Directory().Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, directory(r1), regs)
		_, ok := n.remote.record("r1", "alice")
		assert.True(t, ok)
	})

	t.Run("missing bootstrap file falls back to store keys", func(t *testing.T) {
		boot := bootstrap.NewFileBootstrap(filepath.Join(t.TempDir(), bootstrap.FileName))
		n := newTestNode(t, "alice", Options{}, boot)
		r1 := registryFor(t, "r1")
		require.NoError(t, n.store.Write(ctx, types.DefaultRegistryAddr, []byte(r1.Address)))
		require.NoError(t, n.store.Write(ctx, types.DefaultRegistryJWT, []byte(r1.GuestJWT)))

		require.NoError(t, n.service.Init(ctx))

		regs, err := n.service.Directory().Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, directory(r1), regs)
	})

	t.Run("empty bootstrap file is filled with self", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), bootstrap.FileName)
		require.NoError(t, os.WriteFile(path, nil, 0600))
		boot := bootstrap.NewFileBootstrap(path)
		n := newTestNode(t, "alice", Options{}, boot)
		n.remote.forbid = true

		require.NoError(t, n.service.Init(ctx))

		saved, err := boot.Load()
		require.NoError(t, err)
		require.NotNil(t, saved)

		regs, err := n.service.Directory().Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, *saved, regs)
	})

	t.Run("bootstrap file wins", func(t *testing.T) {
		r2 := registryFor(t, "r2")
		boot := bootstrap.NewFileBootstrap(filepath.Join(t.TempDir(), bootstrap.FileName))
		require.NoError(t, boot.Save(directory(r2)))
		n := newTestNode(t, "alice", Options{}, boot)

		require.NoError(t, n.service.Init(ctx))

		regs, err := n.service.Directory().Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, directory(r2), regs)
	})
}

func TestEntries(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, "alice", Options{}, nil)
	entries := n.service.Entries()
	require.Contains(t, entries, protocol.EntryRegistryInit)

	r1 := registryFor(t, "r1")
	_, err := entries[protocol.EntryUpdateRegistry](ctx, protocol.EncodeRegistries(directory(r1)), nil)
	require.NoError(t, err)
	_, ok := n.remote.record("r1", "alice")
	assert.True(t, ok)

	n.remote.put("r1", types.PublicKey("bob", types.UserRecordKeyName), recordFor(t, "bob", "http://bob:9000"))
	out, err := entries[protocol.EntryQueryRegistry](ctx, protocol.EncodeUserRecord(types.UserRecord{UserID: "bob"}), nil)
	require.NoError(t, err)
	record, err := protocol.DecodeUserRecord(out)
	require.NoError(t, err)
	assert.Equal(t, "http://bob:9000", record.CoreAddr)

	out, err = entries[protocol.EntryGetRegistries](ctx, nil, nil)
	require.NoError(t, err)
	regs, err := protocol.DecodeRegistries(out)
	require.NoError(t, err)
	assert.Equal(t, directory(r1), regs)

	_, err = entries[protocol.EntryUpdateRegistry](ctx, []byte{0x0a, 0x09}, nil)
	assert.ErrorIs(t, err, protocol.ErrDecode)
}

func TestForEachRegistryBoundsConcurrency(t *testing.T) {
	var regs []types.Registry
	for i := 0; i < 10; i++ {
		regs = append(regs, types.Registry{Address: fmt.Sprintf("r%d", i)})
	}

	var running, peak atomic.Int32
	boom := errors.New("boom")
	err := forEachRegistry(regs, 3, func(reg types.Registry) error {
		now := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if reg.Address == "r4" {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}
