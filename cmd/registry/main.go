package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"federegistry/pkg/config"
	"federegistry/pkg/node"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "v0.1.0"

var (
	configFile string
	verbose    bool
	nodeAddr   string
	token      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "registry",
		Short: "Federated registry node",
		Long: `Each user runs a node that publishes their record to a directory of
registries and looks other users up through the same directory.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "node config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&nodeAddr, "node", "", "node address (defaults to the saved client config)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "operator token (defaults to the saved client config)")

	rootCmd.AddCommand(
		nodeCmd(),
		initCmd(),
		setRegistriesCmd(),
		resolveCmd(),
		directoryCmd(),
		createRegistryCmd(),
		tokenCmd(),
		useCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadNodeConfig reads the node config from --config, or the environment
// when no file is given.
func loadNodeConfig() (*config.Config, error) {
	if configFile != "" {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}

func nodeCmd() *cobra.Command {
	var (
		userID   string
		address  string
		coreAddr string
		dataDir  string
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a registry node",
		Long:  `Start a node that serves remote storage to peers and keeps its user's record published.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadNodeConfig()
			if err != nil {
				return err
			}

			// flags override the file
			if cmd.Flags().Changed("user-id") {
				cfg.UserID = userID
			}
			if cmd.Flags().Changed("address") {
				cfg.Address = address
			}
			if cmd.Flags().Changed("core-addr") {
				cfg.CoreAddr = coreAddr
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
				cfg.Store = "sqlite"
			}
			if cmd.Flags().Changed("remote-mode") {
				cfg.RemoteMode = mode
			}

			n, err := node.New(cfg, logger)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-sigChan
				logger.Info("Shutting down node")
				n.Stop()
			}()

			logger.Info("Starting node",
				zap.String("user_id", cfg.UserID),
				zap.String("address", cfg.Address),
				zap.String("remote_mode", cfg.RemoteMode))

			return n.Start()
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "user this node serves")
	cmd.Flags().StringVar(&address, "address", config.DefaultAddress, "listen address")
	cmd.Flags().StringVar(&coreAddr, "core-addr", "", "address advertised to peers (defaults to the listen address)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "keep entries in a sqlite store under this directory")
	cmd.Flags().StringVar(&mode, "remote-mode", "direct", "remote storage mode (direct|brokered)")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Federated Registry %s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
