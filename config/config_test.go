package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFolderConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anywire.yaml")
	yaml := "rid: home-node\nmedium: folder\nfolder:\n  dir: /var/spool/anywire\nsocks:\n  - capability: socks\n    listen: 127.0.0.1:1080\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Rid != "home-node" || c.Medium != "folder" {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.Folder == nil || c.Folder.Dir != "/var/spool/anywire" {
		t.Fatalf("folder section: %+v", c.Folder)
	}
	if len(c.Socks) != 1 || c.Socks[0].Listen != "127.0.0.1:1080" {
		t.Fatalf("socks section: %+v", c.Socks)
	}
	if c.PollBase != defaultPollBase || c.PollMax != defaultPollMax {
		t.Fatalf("expected defaulted poll intervals, got %v/%v", c.PollBase, c.PollMax)
	}
}

func TestLoadRejectsMissingRid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anywire.yaml")
	if err := os.WriteFile(path, []byte("medium: folder\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing rid")
	}
}

func TestBindingUnknownMedium(t *testing.T) {
	c := &Config{Rid: "x", Medium: "carrier-pigeon"}
	if _, err := c.Binding(StaticCred{}); err == nil {
		t.Fatal("expected error for unknown medium")
	}
}

type StaticCred map[string]string

func (s StaticCred) Lookup(name string) (string, error) { return s[name], nil }
