package main

import (
	"context"
	"fmt"
	"strings"

	"federegistry/pkg/auth"
	"federegistry/pkg/config"
	"federegistry/pkg/federation"
	"federegistry/pkg/protocol"
	"federegistry/pkg/remote"
	"federegistry/pkg/types"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// nodeSession is an operator connection to one node.
type nodeSession struct {
	cfg    *config.ClientConfig
	conn   *grpc.ClientConn
	tasks  *remote.BrokeredClient
	target types.UserID
}

// clientConfig loads the saved client config with --node and --token
// applied on top.
func clientConfig() (*config.ClientConfig, error) {
	path, err := config.GetClientConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadClientConfig(path)
	if err != nil {
		return nil, err
	}
	if nodeAddr != "" {
		cfg.Node = nodeAddr
	}
	if token != "" {
		cfg.Token = token
	}
	if cfg.Node == "" {
		return nil, fmt.Errorf("no node address: pass --node or run 'registry use'")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("no operator token: pass --token or run 'registry use'")
	}
	return cfg, nil
}

func openSession() (*nodeSession, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, err
	}

	// the operator token names the node it was issued by
	target, err := auth.DeriveIdentity(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("unreadable operator token: %w", err)
	}

	transport := grpc.WithTransportCredentials(insecure.NewCredentials())
	if cfg.TLSEnabled() {
		builder, err := auth.NewTLSConfigBuilder(&auth.AuthConfig{
			Enabled:  true,
			CAPath:   cfg.CACert,
			CertPath: cfg.ClientCert,
			KeyPath:  cfg.ClientKey,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid client TLS config: %w", err)
		}
		if transport, err = builder.DialOption(); err != nil {
			return nil, err
		}
	}

	conn, err := grpc.NewClient(cfg.Node, transport,
		grpc.WithUnaryInterceptor(auth.UnaryClientInterceptor(cfg.Token, "")))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Node, err)
	}

	s := &nodeSession{cfg: cfg, conn: conn, target: target}
	s.tasks = remote.NewBrokeredClient(s, remote.WithTaskTimeout(cfg.CallTimeout()))
	return s, nil
}

func (s *nodeSession) Close() error {
	return s.conn.Close()
}

// Self is empty: the node fills in its own user for operator tokens.
func (s *nodeSession) Self() types.UserID {
	return ""
}

func (s *nodeSession) Call(ctx context.Context, _ types.UserID, _ string, fn federation.PeerFunc) error {
	return fn(ctx, protocol.NewNodeClient(s.conn))
}

// run runs one registry entry on the node and returns its output.
func (s *nodeSession) run(ctx context.Context, entry string, param []byte, wantOutput bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
	defer cancel()
	return s.tasks.RunTask(ctx, s.target, protocol.TaskRequest{ProtocolName: entry, Param: param}, wantOutput)
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *nodeSession) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(cmd.Context(), s)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the node's directory",
		Long: `Run the node's registry init: load the bootstrap directory (or
register with itself) and publish the user's record.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *nodeSession) error {
				if _, err := s.run(ctx, protocol.EntryRegistryInit, nil, false); err != nil {
					return err
				}
				fmt.Println(successStyle.Render("✓ Directory initialized"))
				return nil
			})
		},
	}
}

func setRegistriesCmd() *cobra.Command {
	var registries []string

	cmd := &cobra.Command{
		Use:   "set-registries",
		Short: "Replace the node's directory",
		Long: `Replace the node's directory with the given registries, in order.
The record is published to every new registry and retracted from the
ones that were dropped.`,
		Example: `  registry set-registries --registry 10.0.0.5:7100=eyJhbGciOi... --registry 10.0.0.6:7100=eyJhbGciOi...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			regs, err := parseRegistries(registries)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *nodeSession) error {
				if _, err := s.run(ctx, protocol.EntryUpdateRegistry, protocol.EncodeRegistries(regs), false); err != nil {
					return err
				}
				fmt.Println(successStyle.Render(fmt.Sprintf("✓ Directory set to %d registries", regs.Len())))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&registries, "registry", nil, "registry as address=guest_jwt (repeatable, in order)")
	return cmd
}

// parseRegistries parses address=jwt pairs. An empty list is an empty
// directory.
func parseRegistries(pairs []string) (types.Registries, error) {
	var regs types.Registries
	for _, pair := range pairs {
		addr, jwt, ok := strings.Cut(pair, "=")
		if !ok || addr == "" || jwt == "" {
			return types.Registries{}, fmt.Errorf("invalid registry %q: want address=guest_jwt", pair)
		}
		regs.Registries = append(regs.Registries, types.Registry{Address: addr, GuestJWT: jwt})
	}
	return regs, nil
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <user_id>",
		Short: "Look a user up through the node's directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *nodeSession) error {
				param := protocol.EncodeUserRecord(types.UserRecord{UserID: types.UserID(args[0])})
				out, err := s.run(ctx, protocol.EntryQueryRegistry, param, true)
				if err != nil {
					return err
				}
				record, err := protocol.DecodeUserRecord(out)
				if err != nil {
					return err
				}
				fmt.Println(renderRecord(record))
				return nil
			})
		},
	}
}

func directoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "directory",
		Short: "Show the node's directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *nodeSession) error {
				out, err := s.run(ctx, protocol.EntryGetRegistries, nil, true)
				if err != nil {
					return err
				}
				regs, err := protocol.DecodeRegistries(out)
				if err != nil {
					return err
				}
				fmt.Println(renderDirectory(s.target, regs))
				return nil
			})
		},
	}
}

func useCmd() *cobra.Command {
	var timeout string

	cmd := &cobra.Command{
		Use:   "use",
		Short: "Save the node and operator token to use by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := clientConfig()
			if err != nil {
				return err
			}
			if timeout != "" {
				if _, err := config.ParseDuration(timeout); err != nil {
					return err
				}
				cfg.Timeout = timeout
			}

			path, err := config.GetClientConfigPath()
			if err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("✓ Using node %s (saved to %s)\n", cfg.Node, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&timeout, "timeout", "", "per-command timeout")
	return cmd
}
