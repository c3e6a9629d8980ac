// Package config loads component configuration from Viper with environment
// variable fallbacks.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/mailflow/internal/llm"
	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
	"github.com/Veraticus/mailflow/internal/providers/gmail"
	"github.com/Veraticus/mailflow/internal/providers/imap"
)

// ExpandPath expands a leading ~ and $VAR style environment variables in a
// file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}
	return os.ExpandEnv(path)
}

// DatabasePath returns the SQLite database path, defaulting under the
// user's home directory.
func DatabasePath() string {
	if v := viper.GetString("database.path"); v != "" {
		return ExpandPath(v)
	}
	return ExpandPath("~/.local/share/mailflow/mailflow.db")
}

// LoadLLMConfig loads the language model configuration. Precedence: Viper
// (config file or MAILFLOW_ env vars), then provider-specific environment
// variables.
func LoadLLMConfig() (llm.Config, error) {
	cfg := llm.Config{
		Provider:    viper.GetString("llm.provider"),
		APIKey:      viper.GetString("llm.api_key"),
		Model:       viper.GetString("llm.model"),
		RateLimit:   viper.GetInt("llm.rate_limit"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
		Temperature: viper.GetFloat64("llm.temperature"),
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	if cfg.APIKey == "" {
		switch strings.ToLower(cfg.Provider) {
		case "openai":
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.APIKey == "" {
		return cfg, fmt.Errorf("no API key configured for LLM provider %s", cfg.Provider)
	}
	return cfg, nil
}

// LoadGmailConfig loads Gmail OAuth credentials for one account. Account
// settings live under accounts.<id>.gmail; the client credentials fall back
// to the shared gmail section and GMAIL_* environment variables.
func LoadGmailConfig(accountID string) (gmail.Config, error) {
	prefix := "accounts." + accountID + ".gmail."
	cfg := gmail.Config{
		ClientID:     viper.GetString(prefix + "client_id"),
		ClientSecret: viper.GetString(prefix + "client_secret"),
		RefreshToken: viper.GetString(prefix + "refresh_token"),
	}

	if cfg.ClientID == "" {
		cfg.ClientID = viper.GetString("gmail.client_id")
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = viper.GetString("gmail.client_secret")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("GMAIL_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	}
	if cfg.RefreshToken == "" {
		cfg.RefreshToken = os.Getenv("GMAIL_REFRESH_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("gmail config for account %s: %w", accountID, err)
	}
	return cfg, nil
}

// LoadIMAPConfig loads IMAP/SMTP connection settings for one account from
// accounts.<id>.imap.
func LoadIMAPConfig(accountID string) (imap.Config, error) {
	prefix := "accounts." + accountID + ".imap."
	cfg := imap.Config{
		IMAPHost: viper.GetString(prefix + "host"),
		IMAPPort: viper.GetString(prefix + "port"),
		SMTPHost: viper.GetString(prefix + "smtp_host"),
		SMTPPort: viper.GetString(prefix + "smtp_port"),
		Username: viper.GetString(prefix + "username"),
		Password: viper.GetString(prefix + "password"),
		TLS:      true,
	}
	if viper.IsSet(prefix + "tls") {
		cfg.TLS = viper.GetBool(prefix + "tls")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("IMAP_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("imap config for account %s: %w", accountID, err)
	}
	return cfg, nil
}

// NewProviderFactory builds the provider factory the engine and scheduler
// share. Credentials are resolved per account at call time so config
// changes apply without restart.
func NewProviderFactory() providers.Factory {
	return func(ctx context.Context, account *model.Account) (providers.Provider, error) {
		switch account.Provider {
		case model.ProviderGmail:
			cfg, err := LoadGmailConfig(account.ID)
			if err != nil {
				return nil, err
			}
			return gmail.NewClient(ctx, cfg)
		case model.ProviderIMAP:
			cfg, err := LoadIMAPConfig(account.ID)
			if err != nil {
				return nil, err
			}
			return imap.NewClient(cfg)
		default:
			return nil, fmt.Errorf("unsupported provider %q for account %s", account.Provider, account.ID)
		}
	}
}
