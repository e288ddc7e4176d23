package fileops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/collabd"
)

type captureSession struct {
	sent []collabd.Envelope
}

func (s *captureSession) ID() string                  { return "fileops-test" }
func (s *captureSession) Workspace() string           { return "default" }
func (s *captureSession) RemoteAddr() string          { return "127.0.0.1:0" }
func (s *captureSession) Context() context.Context    { return context.Background() }
func (s *captureSession) Authenticated() bool         { return true }
func (s *captureSession) SetAuthenticated(bool)       {}
func (s *captureSession) Permissions() []string       { return nil }
func (s *captureSession) HasPermission(string) bool   { return true }
func (s *captureSession) Grant(...string)             {}
func (s *captureSession) RevokeAll()                  {}
func (s *captureSession) SetMeta(string, any)         {}
func (s *captureSession) Meta(string) (any, bool)     { return nil, false }
func (s *captureSession) ConnectedAt() time.Time      { return time.Time{} }
func (s *captureSession) LastActivity() time.Time     { return time.Time{} }
func (s *captureSession) Close(context.Context) error { return nil }
func (s *captureSession) IsAlive() bool               { return true }

func (s *captureSession) Send(_ context.Context, env collabd.Envelope) error {
	s.sent = append(s.sent, env)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *captureSession) {
	t.Helper()
	return NewManager(t.TempDir(), nil), &captureSession{}
}

// do runs one operation through Handle and returns the result map from the
// reply envelope.
func do(t *testing.T, m *Manager, s *captureSession, operation string, params map[string]any) map[string]any {
	t.Helper()

	m.Handle(context.Background(), s, collabd.Envelope{
		"type":      "file_operation",
		"operation": operation,
		"params":    params,
	})
	require.NotEmpty(t, s.sent)

	env := s.sent[len(s.sent)-1]
	require.Equal(t, "file_operation_result", env.Type())
	require.Equal(t, operation, env.String("operation"))

	result, ok := env["result"].(map[string]any)
	require.True(t, ok)
	return result
}

func TestCreateAndReadFile(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	result := do(t, m, s, "create_file", map[string]any{
		"path":    "src/main.go",
		"content": "package main",
	})
	assert.Equal(t, true, result["success"])

	result = do(t, m, s, "read_file", map[string]any{"path": "src/main.go"})
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "package main", result["content"])
}

func TestCreateFileRefusesOverwrite(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "a.txt", "content": "one"})
	result := do(t, m, s, "create_file", map[string]any{"path": "a.txt", "content": "two"})
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error"], "already exists")
}

func TestUpdateFileKeepsBackup(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "notes.md", "content": "v1"})
	result := do(t, m, s, "update_file", map[string]any{"path": "notes.md", "content": "v2"})
	require.Equal(t, true, result["success"])

	data, err := os.ReadFile(filepath.Join(m.root, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	backups, err := os.ReadDir(filepath.Join(m.root, internalDir, "backups"))
	require.NoError(t, err)
	require.Len(t, backups, 1)

	data, err = os.ReadFile(filepath.Join(m.root, internalDir, "backups", backups[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestDeleteFileMovesToTrash(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "old.txt", "content": "x"})
	result := do(t, m, s, "delete_file", map[string]any{"path": "old.txt"})
	require.Equal(t, true, result["success"])

	_, err := os.Stat(filepath.Join(m.root, "old.txt"))
	assert.True(t, os.IsNotExist(err))

	trashed, ok := result["trash"].(string)
	require.True(t, ok)
	_, err = os.Stat(filepath.Join(m.root, trashed))
	assert.NoError(t, err)
}

func TestDeleteFilePermanent(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "gone.txt", "content": "x"})
	result := do(t, m, s, "delete_file", map[string]any{"path": "gone.txt", "permanent": true})
	require.Equal(t, true, result["success"])

	_, err := os.Stat(filepath.Join(m.root, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(m.root, internalDir, "trash"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenameFile(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "dir/a.txt", "content": "x"})
	result := do(t, m, s, "rename_file", map[string]any{"path": "dir/a.txt", "new_name": "b.txt"})
	require.Equal(t, true, result["success"])
	assert.Equal(t, filepath.Join("dir", "b.txt"), result["path"])

	result = do(t, m, s, "rename_file", map[string]any{"path": "dir/b.txt", "new_name": "../escape.txt"})
	assert.Equal(t, false, result["success"])
}

func TestMoveAndCopyFile(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "a.txt", "content": "payload"})

	result := do(t, m, s, "copy_file", map[string]any{
		"source_path":      "a.txt",
		"destination_path": "copies/a.txt",
	})
	require.Equal(t, true, result["success"])

	result = do(t, m, s, "move_file", map[string]any{
		"source_path":      "a.txt",
		"destination_path": "moved/a.txt",
	})
	require.Equal(t, true, result["success"])

	_, err := os.Stat(filepath.Join(m.root, "a.txt"))
	assert.True(t, os.IsNotExist(err))
	for _, p := range []string{"copies/a.txt", "moved/a.txt"} {
		data, err := os.ReadFile(filepath.Join(m.root, filepath.FromSlash(p)))
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}
}

func TestListDirectorySkipsIgnored(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "visible.txt", "content": "x"})
	do(t, m, s, "create_directory", map[string]any{"path": "node_modules"})
	do(t, m, s, "create_directory", map[string]any{"path": "pkg"})
	do(t, m, s, "create_file", map[string]any{"path": "pkg/inner.txt", "content": "x"})

	result := do(t, m, s, "list_directory", map[string]any{"path": "."})
	require.Equal(t, true, result["success"])

	items, ok := result["items"].([]map[string]any)
	require.True(t, ok)
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item["name"].(string))
	}
	assert.ElementsMatch(t, []string{"visible.txt", "pkg"}, names)

	result = do(t, m, s, "list_directory", map[string]any{"path": ".", "recursive": true})
	items = result["items"].([]map[string]any)
	names = names[:0]
	for _, item := range items {
		names = append(names, item["name"].(string))
	}
	assert.Contains(t, names, "inner.txt")
	assert.NotContains(t, names, "node_modules")
}

func TestSearchFiles(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "main.go", "content": "func main() {}"})
	do(t, m, s, "create_file", map[string]any{"path": "util.go", "content": "func helper() {}"})
	do(t, m, s, "create_file", map[string]any{"path": "readme.md", "content": "docs"})

	result := do(t, m, s, "search_files", map[string]any{"pattern": "*.go"})
	require.Equal(t, true, result["success"])
	assert.Equal(t, 2, result["count"])

	result = do(t, m, s, "search_files", map[string]any{"pattern": "*.go", "content": "helper"})
	require.Equal(t, true, result["success"])
	assert.Equal(t, 1, result["count"])
}

func TestGetFileInfo(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "info.txt", "content": "hello"})
	result := do(t, m, s, "get_file_info", map[string]any{"path": "info.txt"})
	require.Equal(t, true, result["success"])
	assert.Equal(t, "info.txt", result["name"])
	assert.EqualValues(t, 5, result["size"])
	assert.NotEmpty(t, result["checksum"])
}

func TestPathTraversalRejected(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	for _, p := range []string{"../outside.txt", "a/../../outside.txt"} {
		result := do(t, m, s, "read_file", map[string]any{"path": p})
		assert.Equal(t, false, result["success"], "path %q", p)
		assert.Contains(t, result["error"], "escapes workspace")
	}
}

func TestUnknownOperationSendsError(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	m.Handle(context.Background(), s, collabd.Envelope{
		"type":      "file_operation",
		"operation": "defragment",
	})
	require.Len(t, s.sent, 1)
	assert.Equal(t, "error", s.sent[0].Type())
	assert.Equal(t, "Unknown operation: defragment", s.sent[0].String("error"))
}

func TestHistoryRecordsOperations(t *testing.T) {
	t.Parallel()
	m, s := newTestManager(t)

	do(t, m, s, "create_file", map[string]any{"path": "h.txt", "content": "x"})
	do(t, m, s, "update_file", map[string]any{"path": "h.txt", "content": "y"})

	result := do(t, m, s, "history", nil)
	require.Equal(t, true, result["success"])

	ops, ok := result["operations"].([]Record)
	require.True(t, ok)
	require.Len(t, ops, 2)
	assert.Equal(t, "create_file", ops[0].Operation)
	assert.Equal(t, "update_file", ops[1].Operation)
}
