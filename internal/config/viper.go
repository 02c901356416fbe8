package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete application configuration, resolved from defaults,
// an optional config file, and BANKSYNC_* environment variables.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`

	Sync struct {
		LookbackDays          int      `mapstructure:"lookback_days" yaml:"lookback_days"`
		PerformReconciliation bool     `mapstructure:"perform_reconciliation" yaml:"perform_reconciliation"`
		DriftThreshold        string   `mapstructure:"drift_threshold" yaml:"drift_threshold"`
		AccountScope          []string `mapstructure:"account_scope" yaml:"account_scope"`
		StateFile             string   `mapstructure:"state_file" yaml:"state_file"`
		IgnoreRulesFile       string   `mapstructure:"ignore_rules_file" yaml:"ignore_rules_file"`
	} `mapstructure:"sync" yaml:"sync"`

	Sheets struct {
		SpreadsheetID   string `mapstructure:"spreadsheet_id" yaml:"spreadsheet_id"`
		TransactionsTab string `mapstructure:"transactions_tab" yaml:"transactions_tab"`
		CategoryMapTab  string `mapstructure:"category_map_tab" yaml:"category_map_tab"`
	} `mapstructure:"sheets" yaml:"sheets"`

	Akahu struct {
		BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
		UserToken string `mapstructure:"user_token" yaml:"-"` // Never serialize tokens
		AppToken  string `mapstructure:"app_token" yaml:"-"`
		PageSize  int    `mapstructure:"page_size" yaml:"page_size"`
	} `mapstructure:"akahu" yaml:"akahu"`
}

// Load initializes Viper configuration with hierarchical loading.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.bank-sync")
	v.AddConfigPath(".bank-sync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BANKSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Continue with defaults and env vars
			fmt.Printf("Warning: error reading config file %s: %v\n", v.ConfigFileUsed(), err)
		}
	}

	// Tokens come from unprefixed env vars shared with other Akahu tooling.
	if err := v.BindEnv("akahu.user_token", "AKAHU_USER_TOKEN"); err != nil {
		fmt.Printf("Warning: failed to bind AKAHU_USER_TOKEN environment variable: %v\n", err)
	}
	if err := v.BindEnv("akahu.app_token", "AKAHU_APP_TOKEN"); err != nil {
		fmt.Printf("Warning: failed to bind AKAHU_APP_TOKEN environment variable: %v\n", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("sync.lookback_days", 7)
	v.SetDefault("sync.perform_reconciliation", true)
	v.SetDefault("sync.drift_threshold", "0.10")
	v.SetDefault("sync.account_scope", []string{})
	v.SetDefault("sync.state_file", "sync_state.json")
	v.SetDefault("sync.ignore_rules_file", "ignore_rules.yaml")

	v.SetDefault("sheets.transactions_tab", "Transactions")
	v.SetDefault("sheets.category_map_tab", "CategoryMap")

	v.SetDefault("akahu.base_url", "https://api.akahu.io/v1")
	v.SetDefault("akahu.page_size", 250)
}

func validateConfig(config *Config) error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(config.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	if config.Sync.LookbackDays <= 0 {
		return fmt.Errorf("sync.lookback_days must be positive, got %d", config.Sync.LookbackDays)
	}
	if config.Akahu.PageSize <= 0 {
		return fmt.Errorf("akahu.page_size must be positive, got %d", config.Akahu.PageSize)
	}
	return nil
}
