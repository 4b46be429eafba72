package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const expiryFileSuffix = ".expires"

// CommandRunner executes a shell command in dir.
type CommandRunner interface {
	Run(ctx context.Context, dir, cmd string) (CommandResult, error)
}

// ShellRunner runs commands with the host's sh.
type ShellRunner struct{}

// Run executes cmd with `sh -c` in dir. A non-zero exit is reported in the result.
func (ShellRunner) Run(ctx context.Context, dir, cmd string) (CommandResult, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = dir
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("run command: %w", err)
	}
	return res, nil
}

// LocalProvider keeps each sandbox in a directory under root. It offers no
// isolation and is meant for development and tests.
type LocalProvider struct {
	fs         afero.Fs
	root       string
	publicHost string
	runner     CommandRunner
	now        func() time.Time
}

// NewLocalProvider creates a provider on fs. Commands only work when fs is the
// OS filesystem and runner executes on the same host.
func NewLocalProvider(fs afero.Fs, root, publicHost string, runner CommandRunner) *LocalProvider {
	if publicHost == "" {
		publicHost = "localhost"
	}
	if runner == nil {
		runner = ShellRunner{}
	}
	return &LocalProvider{fs: fs, root: root, publicHost: publicHost, runner: runner, now: time.Now}
}

func (p *LocalProvider) dir(id string) string {
	return filepath.Join(p.root, id)
}

func (p *LocalProvider) expiryFile(id string) string {
	return filepath.Join(p.root, id+expiryFileSuffix)
}

// Create makes an empty sandbox directory. The template is only recorded.
func (p *LocalProvider) Create(ctx context.Context, template string, timeout time.Duration) (Sandbox, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := uuid.NewString()
	if err := p.fs.MkdirAll(p.dir(id), 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	expiresAt := p.now().Add(timeout).UTC().Format(time.RFC3339)
	if err := afero.WriteFile(p.fs, p.expiryFile(id), []byte(expiresAt), 0o644); err != nil {
		return nil, fmt.Errorf("write sandbox expiry: %w", err)
	}
	slog.Info("Local sandbox created", "sandbox_id", id, "template", template, "expires_at", expiresAt)
	return p.Connect(ctx, id)
}

// Connect returns the sandbox with id unless it is missing or expired.
func (p *LocalProvider) Connect(_ context.Context, id string) (Sandbox, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("sandbox %q: %w", id, ErrNotFound)
	}
	raw, err := afero.ReadFile(p.fs, p.expiryFile(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("sandbox %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read sandbox expiry: %w", err)
	}
	if expired(map[string]string{labelExpiresAt: strings.TrimSpace(string(raw))}, p.now()) {
		return nil, fmt.Errorf("sandbox %s: %w", id, ErrExpired)
	}
	return &localSandbox{
		p:  p,
		id: id,
		fs: afero.NewBasePathFs(p.fs, p.dir(id)),
	}, nil
}

// Sweep deletes expired sandbox directories.
func (p *LocalProvider) Sweep(_ context.Context) (int, error) {
	infos, err := afero.ReadDir(p.fs, p.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list sandboxes: %w", err)
	}
	now := p.now()
	removed := 0
	for _, fi := range infos {
		id, ok := strings.CutSuffix(fi.Name(), expiryFileSuffix)
		if !ok || fi.IsDir() {
			continue
		}
		raw, err := afero.ReadFile(p.fs, p.expiryFile(id))
		if err != nil || !expired(map[string]string{labelExpiresAt: strings.TrimSpace(string(raw))}, now) {
			continue
		}
		if err := p.fs.RemoveAll(p.dir(id)); err != nil {
			slog.Error("Failed to remove local sandbox", "error", err, "sandbox_id", id)
			continue
		}
		_ = p.fs.Remove(p.expiryFile(id))
		removed++
	}
	return removed, nil
}

type localSandbox struct {
	p  *LocalProvider
	id string
	fs afero.Fs
}

// local maps a sandbox path onto the sandbox directory.
func local(p string) string {
	abs := Resolve(p)
	if rest, ok := strings.CutPrefix(abs, WorkDir); ok {
		if rest == "" {
			return "/"
		}
		return rest
	}
	return abs
}

func (s *localSandbox) ID() string { return s.id }

func (s *localSandbox) Host(port int) string {
	return s.p.publicHost + ":" + strconv.Itoa(port)
}

func (s *localSandbox) Run(ctx context.Context, cmd string) (CommandResult, error) {
	return s.p.runner.Run(ctx, s.p.dir(s.id), cmd)
}

func (s *localSandbox) ReadFile(_ context.Context, p string) (string, error) {
	b, err := afero.ReadFile(s.fs, local(p))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(b), nil
}

func (s *localSandbox) WriteFile(_ context.Context, p, data string) error {
	lp := local(p)
	if err := s.fs.MkdirAll(path.Dir(lp), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", p, err)
	}
	if err := afero.WriteFile(s.fs, lp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (s *localSandbox) Rename(_ context.Context, oldPath, newPath string) (EntryInfo, error) {
	from, to := local(oldPath), local(newPath)
	if err := s.fs.MkdirAll(path.Dir(to), 0o755); err != nil {
		return EntryInfo{}, fmt.Errorf("create parent of %s: %w", newPath, err)
	}
	if err := s.fs.Rename(from, to); err != nil {
		return EntryInfo{}, fmt.Errorf("rename %s: %w", oldPath, err)
	}
	fi, err := s.fs.Stat(to)
	if err != nil {
		return EntryInfo{}, fmt.Errorf("stat %s: %w", newPath, err)
	}
	return EntryInfo{Name: path.Base(Resolve(newPath)), Type: entryType(fi), Path: Resolve(newPath)}, nil
}

func (s *localSandbox) Remove(_ context.Context, p string) error {
	if err := s.fs.RemoveAll(local(p)); err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

func (s *localSandbox) MakeDir(_ context.Context, p string) error {
	if err := s.fs.MkdirAll(local(p), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (s *localSandbox) List(_ context.Context, dir string) ([]EntryInfo, error) {
	infos, err := afero.ReadDir(s.fs, local(dir))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	base := Resolve(dir)
	entries := make([]EntryInfo, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, EntryInfo{Name: fi.Name(), Type: entryType(fi), Path: path.Join(base, fi.Name())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func entryType(fi os.FileInfo) string {
	if fi.IsDir() {
		return EntryDir
	}
	return EntryFile
}
