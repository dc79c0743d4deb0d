package main

import (
	"fmt"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/config"
	"federegistry/pkg/registry"
	"federegistry/pkg/types"

	"github.com/spf13/cobra"
)

// issuerFromConfig builds the node's credential issuer from its config.
func issuerFromConfig() (*auth.Issuer, *config.Config, error) {
	cfg, err := loadNodeConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.UserID == "" || cfg.SigningSecret == "" {
		return nil, nil, fmt.Errorf("user_id and signing_secret are required to issue tokens")
	}
	return auth.NewIssuer(types.UserID(cfg.UserID), []byte(cfg.SigningSecret)), cfg, nil
}

func createRegistryCmd() *cobra.Command {
	var (
		validity time.Duration
		address  string
	)

	cmd := &cobra.Command{
		Use:   "create-registry",
		Short: "Offer this node as a registry",
		Long: `Issue a long-lived guest credential for this node and print the
address=guest_jwt pair other users add to their directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, cfg, err := issuerFromConfig()
			if err != nil {
				return err
			}

			if address == "" {
				address = cfg.CoreAddr
			}
			if address == "" {
				address = cfg.Address
			}

			jwt, err := issuer.IssueGuest(time.Now().Add(validity))
			if err != nil {
				return fmt.Errorf("failed to issue guest credential: %w", err)
			}

			fmt.Println(renderRegistryOffer(issuer.UserID(), address, jwt, validity))
			return nil
		},
	}

	cmd.Flags().DurationVar(&validity, "validity", registry.SelfRegistryExpiry, "guest credential lifetime")
	cmd.Flags().StringVar(&address, "address", "", "address to advertise (defaults to core_addr)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var validity time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for this node",
		Long:  `Issue a user-privilege token for driving this node with the registry commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, _, err := issuerFromConfig()
			if err != nil {
				return err
			}

			jwt, err := issuer.Issue(issuer.UserID(), time.Now().Add(validity), auth.PrivilegeUser)
			if err != nil {
				return fmt.Errorf("failed to issue operator token: %w", err)
			}
			fmt.Println(jwt)
			return nil
		},
	}

	cmd.Flags().DurationVar(&validity, "validity", 30*24*time.Hour, "token lifetime")
	return cmd
}
