// Package sandbox provisions isolated code sandboxes the agent works in.
package sandbox

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// Default sandbox settings.
const (
	DefaultTemplate = "sagent-nextjs"
	DefaultTimeout  = time.Hour
	// WorkDir is the directory commands run in and relative paths resolve against.
	WorkDir = "/home/user"
	// PreviewPort is the port the generated app listens on.
	PreviewPort = 3000
)

var (
	// ErrNotFound is returned when no sandbox has the requested id.
	ErrNotFound = errors.New("sandbox not found")
	// ErrExpired is returned when connecting to a sandbox past its lifetime.
	ErrExpired = errors.New("sandbox expired")
)

// Entry types reported by List and Rename.
const (
	EntryFile = "file"
	EntryDir  = "dir"
)

// EntryInfo describes a filesystem entry inside a sandbox.
type EntryInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Path string `json:"path"`
}

// CommandResult is the outcome of a shell command.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Provider creates sandboxes and reconnects to them by id.
type Provider interface {
	// Create starts a sandbox from template that lives for timeout.
	Create(ctx context.Context, template string, timeout time.Duration) (Sandbox, error)

	// Connect attaches to a running sandbox. It fails with ErrNotFound or ErrExpired.
	Connect(ctx context.Context, id string) (Sandbox, error)
}

// Sandbox is a handle to one running sandbox.
type Sandbox interface {
	ID() string

	// Host returns the public host:port that reaches port inside the sandbox.
	Host(port int) string

	// Run executes cmd with a shell in WorkDir. A non-zero exit code is not an error.
	Run(ctx context.Context, cmd string) (CommandResult, error)

	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile creates parent directories and overwrites existing content.
	WriteFile(ctx context.Context, path, data string) error

	Rename(ctx context.Context, oldPath, newPath string) (EntryInfo, error)
	Remove(ctx context.Context, path string) error
	MakeDir(ctx context.Context, path string) error

	// List returns the direct children of dir.
	List(ctx context.Context, dir string) ([]EntryInfo, error)
}

// Resolve maps p to an absolute sandbox path. Relative paths are taken from WorkDir.
func Resolve(p string) string {
	if p == "" {
		return WorkDir
	}
	if !path.IsAbs(p) {
		p = path.Join(WorkDir, p)
	}
	return path.Clean(p)
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
