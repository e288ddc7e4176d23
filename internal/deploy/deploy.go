// Package deploy is the deployment collaborator. It runs lightweight
// deployments out of the workspace: static deployments copy a build
// directory into a target, local deployments start a process and track it.
// Container and cloud targets are out of scope and rejected explicitly.
package deploy

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/protocol"
)

const deploymentsDir = ".collabd/deployments"

// Statuses a deployment moves through. Static deployments go straight to
// deployed; local ones stay running until stopped or the process exits.
const (
	StatusDeployed = "deployed"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusExited   = "exited"
	StatusFailed   = "failed"
)

// Deployment is the tracked state of one deploy action.
type Deployment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	TargetDir string    `json:"target_dir,omitempty"`
	PID       int       `json:"pid,omitempty"`

	cmd *exec.Cmd
}

func (d *Deployment) view() map[string]any {
	v := map[string]any{
		"deployment_id": d.ID,
		"name":          d.Name,
		"type":          d.Type,
		"status":        d.Status,
		"created_at":    d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.TargetDir != "" {
		v["target_dir"] = d.TargetDir
	}
	if d.PID != 0 {
		v["pid"] = d.PID
	}
	return v
}

// Manager executes deployment actions rooted at a workspace directory.
type Manager struct {
	root   string
	logger *slog.Logger

	mu          sync.Mutex
	deployments map[string]*Deployment
}

// NewManager creates a manager with root as the workspace directory.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:        filepath.Clean(root),
		logger:      logger,
		deployments: make(map[string]*Deployment),
	}
}

// Handler returns the entry point bound to the "deployment" message type.
func (m *Manager) Handler() collabd.Handler {
	return m.Handle
}

// Handle dispatches one deployment action and sends the reply itself.
func (m *Manager) Handle(ctx context.Context, s collabd.Session, env collabd.Envelope) {
	switch action := env.String("action"); action {
	case "deploy":
		reply(ctx, s, "deployment_result", m.deploy(env.Map("config")))
	case "stop":
		reply(ctx, s, "stop_result", m.stop(env.String("deployment_id")))
	case "status":
		reply(ctx, s, "status_result", m.status(env.String("deployment_id")))
	case "list":
		reply(ctx, s, "list_result", m.list())
	default:
		s.Send(ctx, protocol.Error(fmt.Sprintf("Unknown action: %s", action)))
	}
}

func reply(ctx context.Context, s collabd.Session, msgType string, result map[string]any) {
	s.Send(ctx, collabd.Envelope{"type": msgType, "result": result})
}

func failure(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}

func (m *Manager) deploy(config map[string]any) map[string]any {
	name, _ := config["name"].(string)
	if name == "" {
		name = "deployment"
	}
	kind, _ := config["type"].(string)

	d := &Deployment{
		ID:        newID(name),
		Name:      name,
		Type:      kind,
		CreatedAt: time.Now(),
	}

	var err error
	switch kind {
	case "static":
		source, _ := config["source_dir"].(string)
		err = m.deployStatic(d, source)
	case "local":
		command, _ := config["command"].(string)
		env, _ := config["env"].(map[string]any)
		err = m.deployLocal(d, command, env)
	case "docker", "cloud":
		return failure(fmt.Errorf("deployment type not supported: %s", kind))
	default:
		return failure(fmt.Errorf("unknown deployment type: %s", kind))
	}
	if err != nil {
		return failure(err)
	}

	// The wait goroutine started for local deployments mutates d as soon
	// as the process exits, so the reply must be snapshotted under the
	// lock before returning.
	m.mu.Lock()
	m.deployments[d.ID] = d
	status := d.Status
	result := d.view()
	result["success"] = true
	m.mu.Unlock()

	m.logger.Info("deployment started",
		slog.String("id", d.ID),
		slog.String("type", d.Type),
		slog.String("status", status))

	return result
}

// deployStatic copies the source tree into the per-deployment target
// directory under the workspace.
func (m *Manager) deployStatic(d *Deployment, source string) error {
	if source == "" {
		return fmt.Errorf("source_dir is required for static deployments")
	}
	src := filepath.Clean(filepath.Join(m.root, source))
	if rel, err := filepath.Rel(m.root, src); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("source escapes workspace: %s", source)
	}
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return fmt.Errorf("source is not a directory: %s", source)
	}

	target := filepath.Join(m.root, filepath.FromSlash(deploymentsDir), d.ID)
	if err := copyTree(src, target); err != nil {
		return fmt.Errorf("copy build output: %w", err)
	}

	rel, _ := filepath.Rel(m.root, target)
	d.TargetDir = rel
	d.Status = StatusDeployed
	return nil
}

// deployLocal starts the command through the shell and tracks the process.
// The process is detached from the request context so it outlives the
// handler invocation.
func (m *Manager) deployLocal(d *Deployment, command string, env map[string]any) error {
	if command == "" {
		return fmt.Errorf("command is required for local deployments")
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = m.root
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	d.cmd = cmd
	d.PID = cmd.Process.Pid
	d.Status = StatusRunning

	go func() {
		err := cmd.Wait()

		m.mu.Lock()
		defer m.mu.Unlock()
		if d.Status == StatusRunning {
			d.Status = StatusExited
			if err != nil {
				d.Status = StatusFailed
			}
		}
	}()
	return nil
}

func (m *Manager) stop(id string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deployments[id]
	if !ok {
		return failure(fmt.Errorf("deployment not found: %s", id))
	}

	if d.Status == StatusRunning && d.cmd != nil && d.cmd.Process != nil {
		if err := d.cmd.Process.Kill(); err != nil {
			return failure(fmt.Errorf("stop process: %w", err))
		}
	}
	d.Status = StatusStopped

	result := d.view()
	result["success"] = true
	return result
}

func (m *Manager) status(id string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deployments[id]
	if !ok {
		return failure(fmt.Errorf("deployment not found: %s", id))
	}

	result := d.view()
	result["success"] = true
	return result
}

func (m *Manager) list() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]map[string]any, 0, len(m.deployments))
	for _, d := range m.deployments {
		items = append(items, d.view())
	}
	return map[string]any{"success": true, "deployments": items, "count": len(items)}
}

// newID builds ids that sort roughly by creation time while staying unique
// across restarts.
func newID(name string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
	return fmt.Sprintf("%s-%s-%d", slug, uuid.NewString()[:8], time.Now().Unix())
}

var copyIgnore = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	".collabd":     {},
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if _, skip := copyIgnore[d.Name()]; skip && d.IsDir() {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
