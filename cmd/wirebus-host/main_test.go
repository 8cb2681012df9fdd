package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wirebus/wirebus-go/pkg/config"
)

func TestOpenStateFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.state")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	store, err := openStateFile(path, logger)
	if err != nil {
		t.Fatalf("corrupt state should not be fatal: %v", err)
	}
	if len(store.Keys()) != 0 {
		t.Errorf("Keys() = %v, want an empty cache", store.Keys())
	}
	if !strings.Contains(buf.String(), "ignoring corrupt role cache") {
		t.Errorf("missing warning in log output:\n%s", buf.String())
	}

	if err := store.Set("temp", "0102030405060708:1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	reopened, err := openStateFile(path, logger)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if v, ok := reopened.Get("temp"); !ok || v != "0102030405060708:1" {
		t.Errorf("Get(temp) = %q, %v after rewrite", v, ok)
	}
}

func TestOpenStateFileUnreadable(t *testing.T) {
	// a directory cannot be read as a state file
	dir := t.TempDir()
	if _, err := openStateFile(dir, slog.New(slog.DiscardHandler)); err == nil {
		t.Error("expected an error for an unreadable state file")
	}
}

func TestRoleFlags(t *testing.T) {
	var r roleFlags
	if err := r.Set("temp=thermometer"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := r.Set("broken"); err == nil {
		t.Error("expected an error without '='")
	}
	if got := r.String(); got != "temp=thermometer" {
		t.Errorf("String() = %q", got)
	}

	roles, err := declaredRoles(&config.Config{Roles: []config.Role(r)})
	if err != nil {
		t.Fatalf("declaredRoles failed: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "temp" {
		t.Errorf("declaredRoles = %+v", roles)
	}
}
