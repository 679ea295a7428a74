package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	gatherly "github.com/gatherly-hq/gatherly-go"
)

// envOverrides are applied on top of the config file. The token override
// makes the CLI usable in scripts without touching ~/.gatherly.
type envOverrides struct {
	Token   string `env:"GATHERLY_TOKEN"`
	BaseURL string `env:"GATHERLY_BASE_URL"`
}

// resolveConfig loads the config file and applies environment overrides.
func resolveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("cannot parse environment: %w", err)
	}
	if ov.Token != "" {
		cfg.Auth.Token = ov.Token
	}
	if ov.BaseURL != "" {
		cfg.Default.BaseURL = ov.BaseURL
	}
	return cfg, nil
}

// getClient creates an authenticated Gatherly client and its session.
func getClient() (*gatherly.Client, *gatherly.Session) {
	cfg, err := resolveConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'gatherly login <token>' first.")
		os.Exit(1)
	}

	session := gatherly.NewSession()
	session.SetToken(cfg.Auth.Token)

	var opts []gatherly.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, gatherly.WithBaseURL(cfg.Default.BaseURL))
	}
	return gatherly.NewClient(session, opts...), session
}

// getMessenger creates a messenger over an authenticated client.
func getMessenger() *gatherly.Messenger {
	client, session := getClient()
	return gatherly.NewMessenger(client, session, nil)
}
