package config

import "time"

// Config represents the complete dingtalk-gw configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	DingTalk DingTalkConfig `yaml:"dingtalk"`
	API      APIConfig      `yaml:"api,omitempty"`
	Journal  JournalConfig  `yaml:"journal,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ServerConfig defines the inbound HTTP listener.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	MaxBodySize  string        `yaml:"max_body_size"` // e.g. "1MB", "65536"
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORS         CORSConfig    `yaml:"cors"`
}

// CORSConfig is passed through to rs/cors.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// DingTalkConfig holds the platform secrets. None of these values are ever
// logged or written back out.
type DingTalkConfig struct {
	// Token is the callback verification token.
	Token string `yaml:"token"`
	// AESKey is the 43 character EncodingAESKey.
	AESKey string `yaml:"aes_key"`
	// ClientID (formerly AppKey / SuiteKey) is embedded in callback frames.
	ClientID string `yaml:"client_id"`
	// ClientSecret (formerly AppSecret) keys the robot HMAC.
	ClientSecret string `yaml:"client_secret"`
	CorpID       string `yaml:"corp_id"`
	RobotCode    string `yaml:"robot_code,omitempty"`
	AppID        string `yaml:"app_id,omitempty"`
	AgentID      string `yaml:"agent_id,omitempty"`
	// TimestampUnit is "ms" (default) or "s" for outbound timeStamp.
	TimestampUnit string `yaml:"timestamp_unit,omitempty"`
}

// CallbackAppKey is the identifier the callback codec binds frames to:
// client_id when set, otherwise corp_id.
func (d DingTalkConfig) CallbackAppKey() string {
	if d.ClientID != "" {
		return d.ClientID
	}
	return d.CorpID
}

// APIConfig guards the admin endpoints. An empty token disables them.
type APIConfig struct {
	Token string `yaml:"token"`
}

// JournalConfig enables the sqlite delivery journal when Path is set.
type JournalConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "dingtalk-gw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Server: ServerConfig{
			Listen:       "127.0.0.1:8000",
			MaxBodySize:  "1MB",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			CORS: CORSConfig{
				AllowedOrigins:   []string{"*"},
				AllowCredentials: true,
			},
		},
		DingTalk: DingTalkConfig{
			TimestampUnit: "ms",
		},
		Journal: JournalConfig{
			Retention: 30 * 24 * time.Hour,
		},
	}
}
