// Package builtin provides the tools shipped with every local agent: a clock
// and file operations confined to a workspace directory.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/tool"
)

// Tool names.
const (
	CurrentTime = "current_time"
	ListFiles   = "list_files"
	ReadFile    = "read_file"
	WriteFile   = "write_file"
	DeleteFile  = "delete_file"
)

const maxReadBytes = 256 << 10

// Workspace confines file tools to a root directory.
type Workspace struct {
	root string
	now  func() time.Time
}

// NewWorkspace returns a Workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	return &Workspace{root: abs, now: time.Now}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// Tools returns all builtin tools.
func (w *Workspace) Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionTool(CurrentTime, "Return the current local date and time in RFC 3339 format.", nil, w.currentTime),
		tool.NewFunctionTool(ListFiles, "List files below a directory of the workspace.", pathSchema(false), w.listFiles),
		tool.NewFunctionTool(ReadFile, "Read a text file from the workspace.", pathSchema(true), w.readFile),
		tool.NewFunctionTool(WriteFile, "Create or overwrite a text file in the workspace.", writeSchema(), w.writeFile),
		tool.NewFunctionTool(DeleteFile, "Delete a file from the workspace.", pathSchema(true), w.deleteFile),
	}
}

func pathSchema(required bool) map[string]any {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path relative to the workspace root"},
		},
	}
	if required {
		s["required"] = []string{"path"}
	}
	return s
}

func writeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path relative to the workspace root"},
			"content": map[string]any{"type": "string", "description": "Full file content"},
		},
		"required": []string{"path", "content"},
	}
}

// resolve maps a model supplied path into the workspace. Absolute paths and
// parent traversals are re-rooted rather than rejected.
func (w *Workspace) resolve(p string) (string, error) {
	full := filepath.Join(w.root, filepath.Clean("/"+p))
	rel, err := filepath.Rel(w.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the workspace", p)
	}
	return full, nil
}

func (w *Workspace) currentTime(context.Context, map[string]any) (any, error) {
	return w.now().Format(time.RFC3339), nil
}

func (w *Workspace) listFiles(ctx context.Context, args map[string]any) (any, error) {
	p, _ := args["path"].(string)
	dir, err := w.resolve(p)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() != "." && strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return strings.Join(files, "\n"), nil
}

func (w *Workspace) readFile(_ context.Context, args map[string]any) (any, error) {
	path, err := w.resolve(args["path"].(string))
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func (w *Workspace) writeFile(_ context.Context, args map[string]any) (any, error) {
	path, err := w.resolve(args["path"].(string))
	if err != nil {
		return nil, err
	}

	content := args["content"].(string)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), args["path"]), nil
}

func (w *Workspace) deleteFile(_ context.Context, args map[string]any) (any, error) {
	path, err := w.resolve(args["path"].(string))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", args["path"])
	}
	if err := os.Remove(path); err != nil {
		return nil, err
	}
	return fmt.Sprintf("deleted %s", args["path"]), nil
}
