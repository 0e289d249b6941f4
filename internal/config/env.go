package config

import (
	"net"
	"os"
	"strings"
)

// Environment variable names accepted in env-only mode and .env files.
const (
	EnvToken        = "token"
	EnvAESKey       = "ase_key"
	EnvClientID     = "Client_ID"
	EnvClientSecret = "Client_Secret"
	EnvCorpID       = "CorpID"
	EnvRobotCode    = "RobotCode"
	EnvAppID        = "AppID"
	EnvAgentID      = "AgentID"
	EnvAPIToken     = "API_Token"
	EnvServerHost   = "SERVER_HOST"
	EnvServerPort   = "SERVER_PORT"
	EnvLogLevel     = "LOG_LEVEL"
	EnvJournalPath  = "JOURNAL_PATH"
)

// applyEnv overlays values from the process environment onto cfg. Only set,
// non-empty variables take effect.
func applyEnv(cfg *Config) {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	set(&cfg.DingTalk.Token, EnvToken)
	set(&cfg.DingTalk.AESKey, EnvAESKey)
	set(&cfg.DingTalk.ClientID, EnvClientID)
	set(&cfg.DingTalk.ClientSecret, EnvClientSecret)
	set(&cfg.DingTalk.CorpID, EnvCorpID)
	set(&cfg.DingTalk.RobotCode, EnvRobotCode)
	set(&cfg.DingTalk.AppID, EnvAppID)
	set(&cfg.DingTalk.AgentID, EnvAgentID)
	set(&cfg.API.Token, EnvAPIToken)
	set(&cfg.Journal.Path, EnvJournalPath)
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Service.LogLevel = strings.ToLower(v)
	}

	host := strings.TrimSpace(os.Getenv(EnvServerHost))
	port := strings.TrimSpace(os.Getenv(EnvServerPort))
	if host != "" || port != "" {
		curHost, curPort, err := net.SplitHostPort(cfg.Server.Listen)
		if err != nil {
			curHost, curPort = "127.0.0.1", "8000"
		}
		if host != "" {
			curHost = host
		}
		if port != "" {
			curPort = port
		}
		cfg.Server.Listen = net.JoinHostPort(curHost, curPort)
	}
}
