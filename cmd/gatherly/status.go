package main

import (
	"fmt"

	gatherly "github.com/gatherly-hq/gatherly-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, gatherly.DefaultBaseURL))

		fmt.Println()
		fmt.Println("Session:")
		if cfg.Auth.Token == "" {
			fmt.Println("  Token:    (not set)")
			return nil
		}
		fmt.Printf("  Token:    %s\n", maskToken(cfg.Auth.Token))

		session := gatherly.NewSession()
		session.SetToken(cfg.Auth.Token)
		if user := session.CurrentUser(); user != nil {
			fmt.Printf("  User:     %s (%s)\n", user.Username, user.ID)
		} else if cfg.Auth.Username != "" {
			fmt.Printf("  User:     %s (%s)\n", cfg.Auth.Username, cfg.Auth.UserID)
		} else {
			fmt.Println("  User:     (unknown)")
		}
		return nil
	},
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// maskToken shows only the first and last few characters of a credential.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:6] + "..." + token[len(token)-4:]
}
