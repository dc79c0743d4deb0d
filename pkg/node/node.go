package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/bootstrap"
	"federegistry/pkg/config"
	"federegistry/pkg/federation"
	"federegistry/pkg/protocol"
	"federegistry/pkg/registry"
	"federegistry/pkg/remote"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Node hosts the registry protocol for one user: it serves remote storage
// to peers, runs protocol entries as tasks and keeps the user's record
// published.
type Node struct {
	protocol.UnimplementedNodeServer

	cfg    *config.Config
	userID types.UserID
	logger *zap.Logger

	store    store.RecordStore
	issuer   *auth.Issuer
	trust    *federation.TrustStore
	pool     *federation.ConnectionPool
	peers    *federation.PeerClient
	remote   *remote.Client
	provider *remote.Provider
	boot     registry.Bootstrap
	opts     registry.Options

	metricsRegistry *prometheus.Registry
	metrics         *federation.RegistryMetrics
	metricsServer   *http.Server

	// set by Listen
	service  *registry.Service
	tasks    *taskRunner
	server   *grpc.Server
	listener net.Listener
	coreAddr string

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
}

// New builds a node from cfg. Nothing is bound until Listen.
func New(cfg *config.Config, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mode, err := remote.ParseMode(cfg.RemoteMode)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.RegistryOptions()
	if err != nil {
		return nil, err
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	st, err := store.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var dialOpt grpc.DialOption
	if cfg.Auth != nil && cfg.Auth.Enabled {
		tlsBuilder, err := auth.NewTLSConfigBuilder(cfg.Auth)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		if dialOpt, err = tlsBuilder.DialOption(); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to build client TLS config: %w", err)
		}
	}

	userID := types.UserID(cfg.UserID)
	logger = logger.With(zap.String("user_id", cfg.UserID))
	promRegistry := prometheus.NewRegistry()
	metrics := federation.NewRegistryMetrics(promRegistry)

	trust := federation.NewTrustStore(st, logger)
	pool := federation.NewConnectionPool(dialOpt, logger)
	peers := federation.NewPeerClient(userID, trust, pool, logger)
	peers.SetCallTimeout(time.Duration(cfg.CallTimeout))

	var boot registry.Bootstrap
	if cfg.BootstrapPath != "" {
		boot = bootstrap.NewFileBootstrap(cfg.BootstrapPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:             cfg,
		userID:          userID,
		logger:          logger,
		store:           st,
		issuer:          auth.NewIssuer(userID, []byte(cfg.SigningSecret)),
		trust:           trust,
		pool:            pool,
		peers:           peers,
		remote:          remote.NewClient(mode, peers, metrics, remote.WithTaskTimeout(time.Duration(cfg.TaskTimeout))),
		provider:        remote.NewProvider(st, logger, remote.WithMaxPayload(int64(cfg.MaxEntrySize))),
		boot:            boot,
		opts:            opts,
		metricsRegistry: promRegistry,
		metrics:         metrics,
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// Listen binds the node's address and prepares the protocol. The advertised
// core address is the configured one, or else the bound address.
func (n *Node) Listen() error {
	if n.listener != nil {
		return errors.New("node is already listening")
	}

	listener, err := net.Listen("tcp", n.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.Address, err)
	}
	n.listener = listener

	n.coreAddr = n.cfg.CoreAddr
	if n.coreAddr == "" {
		n.coreAddr = listener.Addr().String()
	}

	n.service = registry.NewService(registry.Deps{
		CoreAddr: n.coreAddr,
		Store:    n.store,
		Remote:   n.remote,
		Issuer:   n.issuer,
		Trust:    n.trust,
		Metrics:  n.metrics,
		Logger:   n.logger,
	}, n.opts, n.boot)

	// Registry entries walk the whole directory, one call per registry per
	// pass, so they get their own budget. Storage entries touch the local
	// store only.
	entries := make(map[string]taskEntry)
	for name, fn := range n.service.Entries() {
		entries[name] = taskEntry{run: fn, privilege: auth.PrivilegeUser, timeout: time.Duration(n.cfg.RegistryTaskTimeout)}
	}
	for name, fn := range n.provider.Entries() {
		entries[name] = taskEntry{run: fn, privilege: auth.PrivilegeGuest, timeout: time.Duration(n.cfg.TaskTimeout)}
	}
	n.tasks = newTaskRunner(n.ctx, n.store, entries, n.logger)

	serverOpts := []grpc.ServerOption{
		grpc.UnaryInterceptor(auth.NewAuthInterceptor(n.issuer, true).UnaryServerInterceptor()),
	}
	if n.cfg.Auth != nil && n.cfg.Auth.Enabled {
		tlsBuilder, err := auth.NewTLSConfigBuilder(n.cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		creds, err := tlsBuilder.ServerOption()
		if err != nil {
			return fmt.Errorf("failed to build server TLS config: %w", err)
		}
		serverOpts = append(serverOpts, creds)
		n.logger.Info("TLS enabled for node")
	}

	n.server = grpc.NewServer(serverOpts...)
	protocol.RegisterNodeServer(n.server, n)
	return nil
}

// Serve serves gRPC on the bound listener until Stop.
func (n *Node) Serve() error {
	if n.listener == nil {
		return errors.New("node is not listening")
	}

	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	if n.cfg.MetricsAddress != "" {
		n.metricsServer = federation.StartMetricsServer(n.cfg.MetricsAddress, n.metricsRegistry, n.logger)
	}
	n.wg.Add(1)
	go n.maintenanceLoop()
	n.mu.Unlock()

	n.logger.Info("Node starting",
		zap.String("address", n.listener.Addr().String()),
		zap.String("core_addr", n.coreAddr),
		zap.String("remote_mode", string(n.remote.Mode())))

	if err := n.server.Serve(n.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Start listens and serves. It blocks until Stop.
func (n *Node) Start() error {
	if err := n.Listen(); err != nil {
		return err
	}
	return n.Serve()
}

func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.stopped = true
		n.mu.Unlock()
		n.cancel()

		if n.server != nil {
			n.server.GracefulStop()
		} else if n.listener != nil {
			n.listener.Close()
		}
		if n.tasks != nil {
			n.tasks.wait()
		}
		n.wg.Wait()

		if n.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n.metricsServer.Shutdown(ctx)
			cancel()
		}
		n.pool.Close()
		if err := n.store.Close(); err != nil {
			n.logger.Warn("Failed to close store", zap.Error(err))
		}
	})
}

// Addr returns the bound address, or nil before Listen.
func (n *Node) Addr() net.Addr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

func (n *Node) UserID() types.UserID {
	return n.userID
}

// CoreAddr returns the address advertised in this node's record.
func (n *Node) CoreAddr() string {
	return n.coreAddr
}

// Service returns the registry protocol service. Nil before Listen.
func (n *Node) Service() *registry.Service {
	return n.service
}

func (n *Node) Issuer() *auth.Issuer {
	return n.issuer
}

func (n *Node) Trust() *federation.TrustStore {
	return n.trust
}

func (n *Node) Store() store.RecordStore {
	return n.store
}

func (n *Node) Metrics() *federation.RegistryMetrics {
	return n.metrics
}

// requester returns the authenticated caller's claimed identity if its
// credential holds required.
func (n *Node) requester(ctx context.Context, required auth.Privilege) (*auth.Identity, error) {
	identity, err := auth.RequirePrivilege(ctx, required)
	if err != nil {
		return nil, err
	}
	// an operator token is issued by and for this node
	if identity.RequesterID == "" && identity.Privilege == auth.PrivilegeUser {
		identity.RequesterID = n.userID
	}
	return identity, nil
}

func (n *Node) RemoteStorageUpdate(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	identity, err := n.requester(ctx, auth.PrivilegeGuest)
	if err != nil {
		return nil, err
	}
	req, err := protocol.DecodeRemoteStorageRequest(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if err := n.provider.Update(ctx, identity.RequesterID, req); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (n *Node) RemoteStorageRead(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	identity, err := n.requester(ctx, auth.PrivilegeGuest)
	if err != nil {
		return nil, err
	}
	req, err := protocol.DecodeRemoteStorageRequest(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	payload, err := n.provider.Read(ctx, identity.RequesterID, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(payload), nil
}

func (n *Node) RemoteStorageDelete(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	identity, err := n.requester(ctx, auth.PrivilegeGuest)
	if err != nil {
		return nil, err
	}
	req, err := protocol.DecodeRemoteStorageRequest(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if err := n.provider.Delete(ctx, identity.RequesterID, req); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (n *Node) StartTask(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	identity, err := n.requester(ctx, auth.PrivilegeGuest)
	if err != nil {
		return nil, err
	}
	if n.tasks == nil {
		return nil, status.Error(codes.Unavailable, "node is not ready")
	}
	req, err := protocol.DecodeTaskRequest(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}

	started, err := n.tasks.start(identity, n.userID, req)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(protocol.EncodeTaskStatus(started)), nil
}

// ReadEntry serves task status and output keys to the task's requester.
func (n *Node) ReadEntry(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	identity, err := n.requester(ctx, auth.PrivilegeGuest)
	if err != nil {
		return nil, err
	}
	key := in.GetValue()
	if !strings.HasPrefix(key, types.TaskKeyPrefix) {
		return nil, status.Errorf(codes.PermissionDenied, "entry %s is not readable", key)
	}
	if n.tasks == nil || !n.tasks.readable(key, identity.RequesterID) {
		return nil, status.Errorf(codes.NotFound, "no task entry %s", key)
	}

	value, err := n.store.Read(ctx, key)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(value), nil
}

// toStatus maps a local failure onto a gRPC status.
func toStatus(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, remote.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, remote.ErrInvalidRequest), errors.Is(err, protocol.ErrDecode):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
