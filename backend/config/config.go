package config

import (
	"github.com/stylemirror/credits-server/creditserver"
)

// WebAppConfig contains web-specific configuration
type WebAppConfig struct {
	Config      *creditserver.Config
	Debug       bool
	Environment string
}

// NewWebAppConfig creates a new web app configuration
func NewWebAppConfig(cfg *creditserver.Config, debug bool) *WebAppConfig {
	environment := "production"
	if debug {
		environment = "development"
	}

	return &WebAppConfig{
		Config:      cfg,
		Debug:       debug,
		Environment: environment,
	}
}

// GetDatabaseConfig returns the database configuration
func (w *WebAppConfig) GetDatabaseConfig() creditserver.DBConfig {
	return w.Config.DB
}

// GetServerConfig returns the HTTP server configuration
func (w *WebAppConfig) GetServerConfig() creditserver.ServerConfig {
	return w.Config.Server
}

// GetAuthConfig returns the auth configuration
func (w *WebAppConfig) GetAuthConfig() creditserver.AuthConfig {
	return w.Config.Auth
}

// GetLogConfig returns the log configuration
func (w *WebAppConfig) GetLogConfig() creditserver.LogConfig {
	return w.Config.Log
}
