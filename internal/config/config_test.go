package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	if c.Defaults.Algorithm != "paris-traceroute" {
		t.Errorf("Algorithm = %q, want paris-traceroute", c.Defaults.Algorithm)
	}
	if c.Defaults.Protocol != "udp" {
		t.Errorf("Protocol = %q, want udp", c.Defaults.Protocol)
	}
	if c.Defaults.SourcePort != 3838 {
		t.Errorf("SourcePort = %d, want 3838", c.Defaults.SourcePort)
	}
	if c.Defaults.DestPort != 3000 {
		t.Errorf("DestPort = %d, want 3000", c.Defaults.DestPort)
	}
	if c.Defaults.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", c.Defaults.Timeout)
	}
	if c.Defaults.Bound != 0.05 {
		t.Errorf("Bound = %v, want 0.05", c.Defaults.Bound)
	}
}

func TestSaveAndLoadFrom(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowtrace.yaml")

	c := DefaultConfig()
	c.Defaults.MaxTTL = 42
	c.Aliases["dns"] = "8.8.8.8"

	if err := c.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if loaded.Defaults.MaxTTL != 42 {
		t.Errorf("MaxTTL = %d, want 42", loaded.Defaults.MaxTTL)
	}
	if loaded.Aliases["dns"] != "8.8.8.8" {
		t.Errorf("Aliases[dns] = %q, want 8.8.8.8", loaded.Aliases["dns"])
	}
}

func TestLoadFallsBackToDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Defaults.Algorithm != "paris-traceroute" {
		t.Errorf("expected default config, got Algorithm = %q", c.Defaults.Algorithm)
	}
}

func TestGenerateExampleIsValidYAMLShape(t *testing.T) {
	example := GenerateExample()
	if example == "" {
		t.Fatal("GenerateExample() returned empty string")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "flowtrace.yaml")
	if err := os.WriteFile(path, []byte(example), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadFrom(path); err != nil {
		t.Fatalf("LoadFrom(generated example) error = %v", err)
	}
}
