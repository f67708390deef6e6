package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if !cfg.Assignment.AutoAssign {
		t.Fatal("auto assign should default to enabled")
	}
	if cfg.Delivery.StatusPolicy != DefaultStatusPolicy {
		t.Fatalf("status policy = %q", cfg.Delivery.StatusPolicy)
	}
	if cfg.WhatsApp.OutboundEnabled() {
		t.Fatal("outbound must be disabled without credentials")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[storage]
driver = "sqlite"
sqlite_path = "/tmp/wadesk.db"

[whatsapp]
access_token = "token"
phone_number_id = "1234"
app_secret = "secret"

[assignment]
auto_assign = false

[delivery]
status_policy = "last_write_wins"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "/tmp/wadesk.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.WhatsApp.OutboundEnabled() {
		t.Fatal("outbound should be enabled")
	}
	if cfg.WhatsApp.APIVersion != DefaultGraphAPIVersion {
		t.Fatalf("api version default lost: %q", cfg.WhatsApp.APIVersion)
	}
	if cfg.Assignment.AutoAssign {
		t.Fatal("auto assign should be disabled")
	}
	if cfg.Delivery.StatusPolicy != "last_write_wins" {
		t.Fatalf("status policy = %q", cfg.Delivery.StatusPolicy)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"WHATSAPP_ACCESS_TOKEN":    " abc ",
		"WHATSAPP_PHONE_NUMBER_ID": "555",
		"WADESK_PG_PORT":           "6543",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err = ApplyEnv(cfg, lookup)
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.WhatsApp.AccessToken != "abc" || cfg.WhatsApp.PhoneNumberID != "555" {
		t.Fatalf("whatsapp = %+v", cfg.WhatsApp)
	}
	if cfg.Postgres.Port != 6543 {
		t.Fatalf("port = %d", cfg.Postgres.Port)
	}

	env["WADESK_PG_PORT"] = "nope"
	if _, err := ApplyEnv(cfg, lookup); err == nil {
		t.Fatal("expected error for invalid port")
	}
}
