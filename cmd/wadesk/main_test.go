package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{"serve", "migrate", "agent", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
	if cmd, _, err := root.Find([]string{"agent", "add"}); err != nil || cmd.Name() != "add" {
		t.Fatalf("agent add not registered: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if got := out.String(); !strings.HasPrefix(got, "wadesk version ") {
		t.Fatalf("output = %q", got)
	}
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "sideways", "--config", filepath.Join(t.TempDir(), "missing.toml")})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "sideways") {
		t.Fatalf("err = %v, want unknown direction", err)
	}
}

func TestAgentAddAndListOnSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	dbPath := filepath.Join(dir, "wadesk.db")
	body := "[storage]\ndriver = \"sqlite\"\nsqlite_path = \"" + filepath.ToSlash(dbPath) + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	run := func(args ...string) string {
		t.Helper()
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append(args, "--config", cfgPath))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	if got := run("agent", "add", "--username", "alice", "--password", "correct-horse"); !strings.Contains(got, "created agent alice") {
		t.Fatalf("add output = %q", got)
	}
	if got := run("agent", "list"); !strings.Contains(got, "alice") || !strings.Contains(got, "active") {
		t.Fatalf("list output = %q", got)
	}
}
