// Package file provides filesystem tools confined to a workspace root.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/braid-ai/braid"
)

// maxReadChars caps how much file content is handed back to the model.
const maxReadChars = 8000

const guidelines = `File tools operate inside a workspace root. Paths are relative to that root; absolute paths and paths escaping the root are rejected. Use list_dir to discover files before reading them.`

// Toolkit returns read_file, list_dir, and write_file tools confined to
// root. Callers can narrow the kit with braid.WithExclusions, for example
// excluding write_file for a read-only agent.
func Toolkit(root string, opts ...braid.ToolkitOption) *braid.Toolkit {
	ws := workspace{root: filepath.Clean(root)}
	base := []braid.ToolkitOption{braid.WithGuidelines(guidelines)}
	return braid.NewToolkit("file", func() []*braid.Tool {
		return []*braid.Tool{ws.readTool(), ws.listTool(), ws.writeTool()}
	}, append(base, opts...)...)
}

type workspace struct {
	root string
}

// resolve maps a workspace-relative path to an absolute one, rejecting
// anything that would land outside the root.
func (w workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	resolved := filepath.Join(w.root, path)
	if resolved != w.root && !strings.HasPrefix(resolved, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

func (w workspace) readTool() *braid.Tool {
	return braid.NewTool(
		"read_file",
		"Read a file from the workspace. Large files are truncated to 8000 characters.",
		[]braid.ToolProperty{{
			Name:        "path",
			Type:        braid.TypeString,
			Description: "File path relative to the workspace root",
			Required:    true,
		}},
		func(_ context.Context, args map[string]any) (any, error) {
			path, _ := args["path"].(string)
			resolved, err := w.resolve(path)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			content := string(data)
			if len(content) > maxReadChars {
				content = content[:maxReadChars] + "\n... (truncated)"
			}
			return content, nil
		},
	)
}

func (w workspace) listTool() *braid.Tool {
	return braid.NewTool(
		"list_dir",
		"List the files and directories under a workspace path. Directory names end with a slash.",
		[]braid.ToolProperty{{
			Name:        "path",
			Type:        braid.TypeString,
			Description: "Directory path relative to the workspace root; omit for the root itself",
		}},
		func(_ context.Context, args map[string]any) (any, error) {
			path, _ := args["path"].(string)
			if path == "" {
				path = "."
			}
			resolved, err := w.resolve(path)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(resolved)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", path, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			if len(names) == 0 {
				return "empty directory", nil
			}
			return strings.Join(names, "\n"), nil
		},
	)
}

func (w workspace) writeTool() *braid.Tool {
	return braid.NewTool(
		"write_file",
		"Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
		[]braid.ToolProperty{
			{
				Name:        "path",
				Type:        braid.TypeString,
				Description: "File path relative to the workspace root",
				Required:    true,
			},
			{
				Name:        "content",
				Type:        braid.TypeString,
				Description: "Content to write",
				Required:    true,
			},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			resolved, err := w.resolve(path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return nil, fmt.Errorf("create directories for %s: %w", path, err)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	)
}
