package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/voicebridge/internal/store"
)

func TestPrintUsersAndGroups(t *testing.T) {
	ctx := context.Background()
	reg := store.NewMemoryRegistry()

	var buf bytes.Buffer
	if err := printUsers(ctx, &buf, reg); err != nil {
		t.Fatalf("printUsers: %v", err)
	}
	if !strings.Contains(buf.String(), "No users recorded.") {
		t.Errorf("empty users output = %q", buf.String())
	}

	_ = reg.AddUser(ctx, "@Alice", 7)
	_ = reg.AddGroup(ctx, "Team", -100)

	buf.Reset()
	if err := printUsers(ctx, &buf, reg); err != nil {
		t.Fatalf("printUsers: %v", err)
	}
	if !strings.Contains(buf.String(), "@alice") || !strings.Contains(buf.String(), "7") {
		t.Errorf("users output = %q", buf.String())
	}

	buf.Reset()
	if err := printGroups(ctx, &buf, reg); err != nil {
		t.Fatalf("printGroups: %v", err)
	}
	if !strings.Contains(buf.String(), "Team") || !strings.Contains(buf.String(), "-100") {
		t.Errorf("groups output = %q", buf.String())
	}
}

func TestResolveConfigPath(t *testing.T) {
	old := cfgFile
	defer func() { cfgFile = old }()

	cfgFile = ""
	t.Setenv("VOICEBRIDGE_CONFIG", "/etc/vb.json")
	if got := resolveConfigPath(); got != "/etc/vb.json" {
		t.Errorf("resolveConfigPath = %q", got)
	}
	cfgFile = "local.json"
	if got := resolveConfigPath(); got != "local.json" {
		t.Errorf("resolveConfigPath = %q", got)
	}
}
