package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[gc]
promotion_age = 5
young_bytes = 65536
interval = "1s"
strict_handles = true

[interpreter]
workers = 8

[log]
verbosity = 2
path = "rbx.log"
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.GC.PromotionAge != 5 {
		t.Errorf("promotion_age = %d, want 5", c.GC.PromotionAge)
	}
	if c.GC.YoungBytes != 65536 {
		t.Errorf("young_bytes = %d, want 65536", c.GC.YoungBytes)
	}
	if c.GC.Interval.Duration != time.Second {
		t.Errorf("interval = %s, want 1s", c.GC.Interval)
	}
	if !c.GC.StrictHandles {
		t.Errorf("strict_handles = false, want true")
	}
	if c.Interpreter.Workers != 8 {
		t.Errorf("workers = %d, want 8", c.Interpreter.Workers)
	}
	if c.Log.Verbosity != 2 || c.Log.Path != "rbx.log" {
		t.Errorf("log = %+v", c.Log)
	}

	// Unset keys keep their defaults
	if c.GC.LargeObjectFields != 1024 {
		t.Errorf("large_object_fields = %d, want default 1024", c.GC.LargeObjectFields)
	}
	if c.Interpreter.StackSize != 256 {
		t.Errorf("stack_size = %d, want default 256", c.Interpreter.StackSize)
	}
	if !filepath.IsAbs(c.Path) {
		t.Errorf("Path = %q, want absolute", c.Path)
	}

	mem := c.MemoryConfig()
	if mem.PromotionAge != 5 || mem.YoungBytes != 65536 || !mem.StrictHandles {
		t.Errorf("MemoryConfig = %+v", mem)
	}
	if opts := c.VMOptions(); opts.Memory != mem || opts.StackSize != 256 {
		t.Errorf("VMOptions = %+v", opts)
	}
}

func TestDefaults(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if c.GC.PromotionAge != 3 || c.GC.YoungBytes != 4<<20 {
		t.Errorf("gc defaults = %+v", c.GC)
	}
	if c.GC.Interval.Duration != 250*time.Millisecond {
		t.Errorf("interval = %s, want 250ms", c.GC.Interval)
	}
	if c.Interpreter.Workers != 4 || c.Log.Verbosity != 1 {
		t.Errorf("defaults = %+v", c)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad toml", "[gc\n", "parse error"},
		{"bad duration", "[gc]\ninterval = \"soon\"\n", "parse error"},
		{"zero promotion", "[gc]\npromotion_age = 0\n", "gc.promotion_age"},
		{"negative young", "[gc]\nyoung_bytes = -1\n", "gc.young_bytes"},
		{"no workers", "[interpreter]\nworkers = 0\n", "interpreter.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("Load of missing file succeeded")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[interpreter]\nworkers = 2\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c.Interpreter.Workers != 2 {
		t.Errorf("workers = %d, want 2 from the parent directory", c.Interpreter.Workers)
	}
}
