package creditserver

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	DB      DBConfig      `toml:"db"`
	Auth    AuthConfig    `toml:"auth"`
	Credits CreditsConfig `toml:"credits"`
	Store   StoreConfig   `toml:"store"`
	Spaces  struct {
		Key         string `toml:"key"`
		Secret      string `toml:"secret"`
		Region      string `toml:"region"`
		Bucket      string `toml:"bucket"`
		PreviewRoot string `toml:"previewroot"`
	} `toml:"spaces"`
	Generator GeneratorConfig `toml:"generator"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type AuthConfig struct {
	// HS256 secret used to validate client bearer tokens.
	Secret string `toml:"secret"`
	Issuer string `toml:"issuer"`
}

// CreditsConfig tunes the ledger economy. Zero values fall back to the
// defaults in config/constants.go.
type CreditsConfig struct {
	StartingBalance int64  `toml:"starting_balance"`
	DailyAmount     int64  `toml:"daily_amount"`
	Timezone        string `toml:"timezone"`
}

// StoreConfig selects the purchase verification backend.
type StoreConfig struct {
	// "appstore" or "sandbox"
	Provider     string `toml:"provider"`
	SharedSecret string `toml:"shared_secret"`
	VerifyURL    string `toml:"verify_url"`
}

type GeneratorConfig struct {
	// "http" or "stub"
	Provider string `toml:"provider"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
}
