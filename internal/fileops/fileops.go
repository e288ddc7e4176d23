// Package fileops is the file-operations collaborator: it executes
// filesystem requests against a sandboxed workspace root and sends its own
// reply envelopes back over the session. The router passes it the raw
// envelope and never inspects the result.
package fileops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/protocol"
)

const (
	maxFileSize    = 10 * 1024 * 1024
	historyEntries = 100
	internalDir    = ".collabd"
)

var ignoreNames = map[string]struct{}{
	".git":         {},
	".svn":         {},
	".hg":          {},
	"node_modules": {},
	".DS_Store":    {},
	internalDir:    {},
}

// Record is one entry in the operation history ring.
type Record struct {
	Operation string         `json:"operation"`
	Path      string         `json:"path"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Manager executes file operations inside a workspace root. Paths in
// requests are relative to the root; anything resolving outside it is
// rejected.
type Manager struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	history []Record
}

// NewManager creates a manager rooted at dir.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: filepath.Clean(dir), logger: logger}
}

// Handler returns the entry point bound to the "file_operation" message
// type.
func (m *Manager) Handler() collabd.Handler {
	return m.Handle
}

// Handle dispatches one file-operation request and sends the reply itself.
func (m *Manager) Handle(ctx context.Context, s collabd.Session, env collabd.Envelope) {
	operation := env.String("operation")
	params := env.Map("params")

	result, err := m.run(operation, params)
	if err != nil {
		result = map[string]any{"success": false, "error": err.Error()}
	}
	if result == nil {
		s.Send(ctx, protocol.Error(fmt.Sprintf("Unknown operation: %s", operation)))
		return
	}

	s.Send(ctx, collabd.Envelope{
		"type":      "file_operation_result",
		"operation": operation,
		"result":    result,
	})
}

// run returns a nil result for unknown operations.
func (m *Manager) run(operation string, params map[string]any) (map[string]any, error) {
	p := paramReader{params}

	switch operation {
	case "create_file":
		return m.createFile(p.str("path"), p.str("content"))
	case "read_file":
		return m.readFile(p.str("path"))
	case "update_file":
		return m.updateFile(p.str("path"), p.str("content"))
	case "delete_file":
		return m.deleteFile(p.str("path"), p.boolean("permanent"))
	case "rename_file":
		return m.renameFile(p.str("path"), p.str("new_name"))
	case "move_file":
		return m.moveFile(p.str("source_path"), p.str("destination_path"))
	case "copy_file":
		return m.copyFile(p.str("source_path"), p.str("destination_path"))
	case "create_directory":
		return m.createDirectory(p.str("path"))
	case "list_directory":
		return m.listDirectory(p.strDefault("path", "."), p.boolean("recursive"))
	case "search_files":
		return m.searchFiles(p.str("pattern"), p.strDefault("path", "."), p.str("content"))
	case "get_file_info":
		return m.fileInfo(p.str("path"))
	case "history":
		return m.recentHistory(), nil
	default:
		return nil, nil
	}
}

type paramReader struct {
	m map[string]any
}

func (p paramReader) str(key string) string {
	v, _ := p.m[key].(string)
	return v
}

func (p paramReader) strDefault(key, def string) string {
	if v := p.str(key); v != "" {
		return v
	}
	return def
}

func (p paramReader) boolean(key string) bool {
	v, _ := p.m[key].(bool)
	return v
}

// resolve maps a request path into the workspace root and rejects anything
// escaping it.
func (m *Manager) resolve(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := filepath.Clean(filepath.Join(m.root, p))
	rel, err := filepath.Rel(m.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", p)
	}
	return abs, nil
}

func (m *Manager) createFile(path, content string) (map[string]any, error) {
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err == nil {
		return nil, fmt.Errorf("file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	m.record("create_file", path, nil)
	return map[string]any{"success": true, "path": path, "size": len(content)}, nil
}

func (m *Manager) readFile(path string) (map[string]any, error) {
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return map[string]any{
		"success":  true,
		"path":     path,
		"content":  string(data),
		"size":     info.Size(),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
	}, nil
}

func (m *Manager) updateFile(path, content string) (map[string]any, error) {
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	backup, err := m.backup(abs)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	m.record("update_file", path, map[string]any{"backup": backup})
	return map[string]any{"success": true, "path": path, "size": len(content)}, nil
}

func (m *Manager) deleteFile(path string, permanent bool) (map[string]any, error) {
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	if permanent {
		if err := os.RemoveAll(abs); err != nil {
			return nil, fmt.Errorf("delete: %w", err)
		}
		m.record("delete_file", path, map[string]any{"permanent": true})
		return map[string]any{"success": true, "path": path, "permanent": true}, nil
	}

	trashed, err := m.moveToTrash(abs, path)
	if err != nil {
		return nil, err
	}
	m.record("delete_file", path, map[string]any{"trash": trashed})
	return map[string]any{"success": true, "path": path, "trash": trashed}, nil
}

func (m *Manager) renameFile(path, newName string) (map[string]any, error) {
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if newName == "" || strings.ContainsRune(newName, filepath.Separator) {
		return nil, fmt.Errorf("invalid new name: %s", newName)
	}

	dest := filepath.Join(filepath.Dir(abs), newName)
	if err := os.Rename(abs, dest); err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}

	rel, _ := filepath.Rel(m.root, dest)
	m.record("rename_file", path, map[string]any{"new_name": newName})
	return map[string]any{"success": true, "path": rel}, nil
}

func (m *Manager) moveFile(source, destination string) (map[string]any, error) {
	src, err := m.resolve(source)
	if err != nil {
		return nil, err
	}
	dst, err := m.resolve(destination)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("move: %w", err)
	}

	m.record("move_file", source, map[string]any{"destination": destination})
	return map[string]any{"success": true, "source": source, "destination": destination}, nil
}

func (m *Manager) copyFile(source, destination string) (map[string]any, error) {
	src, err := m.resolve(source)
	if err != nil {
		return nil, err
	}
	dst, err := m.resolve(destination)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}
	if err := copyRegular(src, dst); err != nil {
		return nil, err
	}

	m.record("copy_file", source, map[string]any{"destination": destination})
	return map[string]any{"success": true, "source": source, "destination": destination}, nil
}

func (m *Manager) createDirectory(path string) (map[string]any, error) {
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	m.record("create_directory", path, nil)
	return map[string]any{"success": true, "path": path}, nil
}

func (m *Manager) listDirectory(path string, recursive bool) (map[string]any, error) {
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}

	var items []map[string]any
	if recursive {
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if p == abs {
				return nil
			}
			if _, skip := ignoreNames[d.Name()]; skip {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			items = append(items, m.entryInfo(p, d))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk directory: %w", err)
		}
	} else {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("read directory: %w", err)
		}
		for _, d := range entries {
			if _, skip := ignoreNames[d.Name()]; skip {
				continue
			}
			items = append(items, m.entryInfo(filepath.Join(abs, d.Name()), d))
		}
	}

	return map[string]any{"success": true, "path": path, "items": items}, nil
}

func (m *Manager) entryInfo(abs string, d fs.DirEntry) map[string]any {
	rel, _ := filepath.Rel(m.root, abs)
	item := map[string]any{"name": d.Name(), "path": rel}
	if d.IsDir() {
		item["type"] = "directory"
	} else {
		item["type"] = "file"
	}
	if info, err := d.Info(); err == nil {
		item["size"] = info.Size()
		item["modified"] = info.ModTime().UTC().Format(time.RFC3339)
	}
	return item
}

// searchFiles matches file names against a glob pattern and optionally
// filters by a content substring.
func (m *Manager) searchFiles(pattern, path, content string) (map[string]any, error) {
	if pattern == "" && content == "" {
		return nil, fmt.Errorf("pattern or content is required")
	}
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}

	var matches []map[string]any
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if _, skip := ignoreNames[d.Name()]; skip && d.IsDir() {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if pattern != "" {
			ok, _ := filepath.Match(pattern, d.Name())
			if !ok {
				return nil
			}
		}
		rel, _ := filepath.Rel(m.root, p)
		if content == "" {
			matches = append(matches, map[string]any{"path": rel})
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileSize {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil || !strings.Contains(string(data), content) {
			return nil
		}
		matches = append(matches, map[string]any{"path": rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return map[string]any{"success": true, "matches": matches, "count": len(matches)}, nil
}

func (m *Manager) fileInfo(path string) (map[string]any, error) {
	abs, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	result := map[string]any{
		"success":  true,
		"path":     path,
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
	}
	if !info.IsDir() && info.Size() <= maxFileSize {
		if sum, err := checksum(abs); err == nil {
			result["checksum"] = sum
		}
	}
	return result, nil
}

func (m *Manager) recentHistory() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.history))
	copy(out, m.history)
	return map[string]any{"success": true, "operations": out}
}

func (m *Manager) record(operation, path string, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, Record{
		Operation: operation,
		Path:      path,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   details,
	})
	if len(m.history) > historyEntries {
		m.history = m.history[len(m.history)-historyEntries:]
	}
}

// backup copies the file into the internal backup directory before an
// update overwrites it.
func (m *Manager) backup(abs string) (string, error) {
	dir := filepath.Join(m.root, internalDir, "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s%s",
		strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		time.Now().UTC().Format("20060102_150405"),
		filepath.Ext(abs))
	dest := filepath.Join(dir, name)
	if err := copyRegular(abs, dest); err != nil {
		return "", err
	}

	rel, _ := filepath.Rel(m.root, dest)
	return rel, nil
}

// moveToTrash relocates the file under the internal trash directory and
// writes a sidecar with the original location.
func (m *Manager) moveToTrash(abs, original string) (string, error) {
	dir := filepath.Join(m.root, internalDir, "trash")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create trash directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s%s",
		strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		time.Now().UTC().Format("20060102_150405"),
		filepath.Ext(abs))
	dest := filepath.Join(dir, name)

	sidecar := map[string]any{
		"original_path": original,
		"deleted_at":    time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(sidecar)
	os.WriteFile(dest+".info", data, 0o644)

	if err := os.Rename(abs, dest); err != nil {
		return "", fmt.Errorf("move to trash: %w", err)
	}

	rel, _ := filepath.Rel(m.root, dest)
	return rel, nil
}

func copyRegular(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}

func checksum(abs string) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
