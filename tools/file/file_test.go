package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/braid-ai/braid"
)

func tool(t *testing.T, kit *braid.Toolkit, name string) *braid.Tool {
	t.Helper()
	for _, tl := range kit.Tools() {
		if tl.Name() == name {
			return tl
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func run(t *testing.T, tl *braid.Tool, args map[string]any) (string, error) {
	t.Helper()
	tl.SetInputs(args)
	return tl.Execute(context.Background())
}

func TestToolkitProvidesTools(t *testing.T) {
	kit := Toolkit(t.TempDir())
	if kit.Name() != "file" {
		t.Errorf("unexpected kit name %s", kit.Name())
	}
	if kit.Guidelines() == "" {
		t.Error("expected usage guidelines")
	}
	names := map[string]bool{}
	for _, tl := range kit.Tools() {
		names[tl.Name()] = true
	}
	for _, want := range []string{"read_file", "list_dir", "write_file"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestWriteAndReadFile(t *testing.T) {
	kit := Toolkit(t.TempDir())

	out, err := run(t, tool(t, kit, "write_file"), map[string]any{
		"path":    "notes/today.txt",
		"content": "remember the milk",
	})
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	if !strings.Contains(out, "notes/today.txt") {
		t.Errorf("unexpected write result %q", out)
	}

	content, err := run(t, tool(t, kit, "read_file"), map[string]any{"path": "notes/today.txt"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if content != "remember the milk" {
		t.Errorf("unexpected content %q", content)
	}
}

func TestReadFileTruncates(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(strings.Repeat("A", 10000)), 0o644); err != nil {
		t.Fatal(err)
	}
	kit := Toolkit(root)

	content, err := run(t, tool(t, kit, "read_file"), map[string]any{"path": "big.txt"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if len(content) > maxReadChars+100 {
		t.Errorf("content not truncated: %d chars", len(content))
	}
	if !strings.HasSuffix(content, "(truncated)") {
		t.Error("expected truncation marker")
	}
}

func TestListDir(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	kit := Toolkit(root)

	out, err := run(t, tool(t, kit, "list_dir"), map[string]any{})
	if err != nil {
		t.Fatalf("list_dir: %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Errorf("unexpected listing %q", out)
	}
}

func TestListDirMissing(t *testing.T) {
	kit := Toolkit(t.TempDir())
	if _, err := run(t, tool(t, kit, "list_dir"), map[string]any{"path": "nope"}); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestPathEscapeRejected(t *testing.T) {
	kit := Toolkit(t.TempDir())

	cases := []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"}
	for _, path := range cases {
		if _, err := run(t, tool(t, kit, "read_file"), map[string]any{"path": path}); err == nil {
			t.Errorf("expected %q to be rejected", path)
		}
		if _, err := run(t, tool(t, kit, "write_file"), map[string]any{"path": path, "content": "x"}); err == nil {
			t.Errorf("expected write to %q to be rejected", path)
		}
	}
}

func TestExclusions(t *testing.T) {
	kit := Toolkit(t.TempDir(), braid.WithExclusions("write_file"))
	for _, tl := range kit.Tools() {
		if tl.Name() == "write_file" {
			t.Error("write_file should be excluded")
		}
	}
	if len(kit.Tools()) != 2 {
		t.Errorf("expected 2 tools after exclusion, got %d", len(kit.Tools()))
	}
}
