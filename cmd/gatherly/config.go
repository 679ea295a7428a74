package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// configField binds a dot-notation key to its Config accessor. The slice
// order is the display order for "config keys" and error hints.
type configField struct {
	key string
	get func(*Config) string
	set func(*Config, string)
}

var configFields = []configField{
	{
		key: "default.base_url",
		get: func(c *Config) string { return c.Default.BaseURL },
		set: func(c *Config, v string) { c.Default.BaseURL = v },
	},
	{
		key: "auth.token",
		get: func(c *Config) string { return c.Auth.Token },
		set: func(c *Config, v string) { c.Auth.Token = v },
	},
	{
		key: "auth.user_id",
		get: func(c *Config) string { return c.Auth.UserID },
		set: func(c *Config, v string) { c.Auth.UserID = v },
	},
	{
		key: "auth.username",
		get: func(c *Config) string { return c.Auth.Username },
		set: func(c *Config, v string) { c.Auth.Username = v },
	},
}

func configKeys() []string {
	keys := make([]string, len(configFields))
	for i, f := range configFields {
		keys[i] = f.key
	}
	return keys
}

func lookupConfigField(key string) (*configField, error) {
	for i := range configFields {
		if configFields[i].key == key {
			return &configFields[i], nil
		}
	}
	return nil, fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(configKeys(), ", "))
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Gatherly configuration",
	Long: "View or modify the Gatherly CLI configuration stored in ~/.gatherly/config.toml.\n\n" +
		"Valid keys: " + strings.Join(configKeys(), ", "),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if path, err := configPath(); err == nil {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				fmt.Println("No configuration file found. Run 'gatherly login <token>' to create one.")
				return nil
			}
		}
		for _, f := range configFields {
			value := f.get(cfg)
			if f.key == "auth.token" && value != "" {
				value = maskToken(value)
			}
			fmt.Printf("%s = %s\n", f.key, valueOrDefault(value, "(unset)"))
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a single configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := lookupConfigField(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Println(field.get(cfg))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value by key.\nExample: gatherly config set default.base_url https://api.gatherly.events",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := lookupConfigField(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		field.set(cfg, args[1])
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("Set %s\n", field.key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Clear a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := lookupConfigField(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		field.set(cfg, "")
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("Cleared %s\n", field.key)
		return nil
	},
}
