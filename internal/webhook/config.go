package webhook

import (
	"fmt"
	"time"

	"github.com/mattjoyce/dingtalk-gw/internal/config"
)

// Config holds webhook server configuration.
type Config struct {
	Listen       string
	MaxBodySize  int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	AllowedOrigins   []string
	AllowCredentials bool

	// APIToken guards /v1/events; empty disables those routes.
	APIToken string
}

// FromGlobalConfig converts the loaded config to a webhook.Config.
func FromGlobalConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}

	maxBodySize, err := config.ParseSize(cfg.Server.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("invalid server.max_body_size %q: %w", cfg.Server.MaxBodySize, err)
	}

	return Config{
		Listen:           cfg.Server.Listen,
		MaxBodySize:      maxBodySize,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
		APIToken:         cfg.API.Token,
	}, nil
}
