package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultJWTExpiresIn    = "24h"
	DefaultStorageDriver   = "postgres"
	DefaultSQLitePath      = "data/wadesk.db"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "wadesk"
	DefaultPGSSLMode       = "disable"
	DefaultGraphBaseURL    = "https://graph.facebook.com"
	DefaultGraphAPIVersion = "v21.0"
	DefaultStatusPolicy    = "monotonic"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	WhatsApp   WhatsAppConfig   `toml:"whatsapp"`
	Outbound   OutboundConfig   `toml:"outbound"`
	Media      MediaConfig      `toml:"media"`
	Assignment AssignmentConfig `toml:"assignment"`
	Delivery   DeliveryConfig   `toml:"delivery"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// WhatsAppConfig holds the Cloud API credentials. Missing access token or
// phone number id disables outbound sending only.
type WhatsAppConfig struct {
	AccessToken    string  `toml:"access_token"`
	PhoneNumberID  string  `toml:"phone_number_id"`
	AppSecret      string  `toml:"app_secret"`
	VerifyToken    string  `toml:"verify_token"`
	APIBaseURL     string  `toml:"api_base_url"`
	APIVersion     string  `toml:"api_version"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// OutboundEnabled reports whether credentials for sending are present.
func (c WhatsAppConfig) OutboundEnabled() bool {
	return strings.TrimSpace(c.AccessToken) != "" && strings.TrimSpace(c.PhoneNumberID) != ""
}

type OutboundConfig struct {
	Workers int `toml:"workers"`
}

type MediaConfig struct {
	FFmpegPath       string `toml:"ffmpeg_path"`
	TranscodeWorkers int    `toml:"transcode_workers"`
	// StagingDir holds uploaded files until they are sent. Empty uses the
	// system temp directory.
	StagingDir string `toml:"staging_dir"`
}

type AssignmentConfig struct {
	AutoAssign bool `toml:"auto_assign"`
}

type DeliveryConfig struct {
	StatusPolicy string `toml:"status_policy"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Storage: StorageConfig{
			Driver:     DefaultStorageDriver,
			SQLitePath: DefaultSQLitePath,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			APIBaseURL:     DefaultGraphBaseURL,
			APIVersion:     DefaultGraphAPIVersion,
			TimeoutSeconds: 30,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Outbound: OutboundConfig{
			Workers: 8,
		},
		Media: MediaConfig{
			FFmpegPath:       "ffmpeg",
			TranscodeWorkers: 2,
		},
		Assignment: AssignmentConfig{
			AutoAssign: true,
		},
		Delivery: DeliveryConfig{
			StatusPolicy: DefaultStatusPolicy,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ApplyEnv overrides secrets and deployment specific values from the
// environment. Unset variables leave the loaded value untouched.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	strs := map[string]*string{
		"WADESK_HTTP_ADDR":         &cfg.Server.Addr,
		"WADESK_JWT_SECRET":        &cfg.Auth.JWTSecret,
		"WADESK_STORAGE_DRIVER":    &cfg.Storage.Driver,
		"WADESK_SQLITE_PATH":       &cfg.Storage.SQLitePath,
		"WADESK_PG_HOST":           &cfg.Postgres.Host,
		"WADESK_PG_USER":           &cfg.Postgres.User,
		"WADESK_PG_PASSWORD":       &cfg.Postgres.Password,
		"WADESK_PG_DATABASE":       &cfg.Postgres.Database,
		"WHATSAPP_ACCESS_TOKEN":    &cfg.WhatsApp.AccessToken,
		"WHATSAPP_PHONE_NUMBER_ID": &cfg.WhatsApp.PhoneNumberID,
		"WHATSAPP_APP_SECRET":      &cfg.WhatsApp.AppSecret,
		"WHATSAPP_VERIFY_TOKEN":    &cfg.WhatsApp.VerifyToken,
	}
	for key, dst := range strs {
		if value, ok := lookup(key); ok {
			*dst = strings.TrimSpace(value)
		}
	}
	if value, ok := lookup("WADESK_PG_PORT"); ok {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return cfg, fmt.Errorf("invalid WADESK_PG_PORT: %w", err)
		}
		cfg.Postgres.Port = port
	}
	return cfg, nil
}
