// Package tools adapts sandbox operations into the tool calls the coding agent makes.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/sagent/internal/sandbox"
	"golang.org/x/sync/errgroup"
)

// ErrStderr is returned by Terminal when the command wrote to stderr.
var ErrStderr = errors.New("command wrote to stderr")

// Output is a command's captured output.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// FileContent is a file read from a sandbox.
type FileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileWrite is a file to write into a sandbox.
type FileWrite struct {
	Path    string `json:"path" required:"true" description:"Path of the file, relative to the project root"`
	Content string `json:"content" required:"true" description:"Full content of the file"`
}

// RenameOp moves one entry.
type RenameOp struct {
	OldPath string `json:"oldPath" required:"true"`
	NewPath string `json:"newPath" required:"true"`
}

// Result reports a best-effort multi-path operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RenameResult is a Result plus the entries that were renamed.
type RenameResult struct {
	Result
	Files []sandbox.EntryInfo `json:"files"`
}

// Listing is a non-recursive directory listing.
type Listing struct {
	EntryPath string              `json:"entryPath"`
	Entries   []sandbox.EntryInfo `json:"entries"`
}

// Adapters run tool operations against sandboxes addressed by id. They hold no
// connection between calls; every call reconnects through the provider.
type Adapters struct {
	provider sandbox.Provider
}

// NewAdapters creates adapters over provider.
func NewAdapters(provider sandbox.Provider) *Adapters {
	return &Adapters{provider: provider}
}

// Terminal runs cmd. Any stderr output is an error, even when the exit code is 0.
func (a *Adapters) Terminal(ctx context.Context, cmd, sandboxID string) (Output, error) {
	sbx, err := a.provider.Connect(ctx, sandboxID)
	if err != nil {
		return Output{}, err
	}
	res, err := sbx.Run(ctx, cmd)
	if err != nil {
		return Output{}, err
	}
	out := Output{Stdout: res.Stdout, Stderr: res.Stderr}
	if res.Stderr != "" {
		return out, fmt.Errorf("%w: %s", ErrStderr, res.Stderr)
	}
	return out, nil
}

// ReadFiles reads every path concurrently. Any failure yields an empty list,
// which callers must treat as unknown rather than as no files.
func (a *Adapters) ReadFiles(ctx context.Context, paths []string, sandboxID string) []FileContent {
	sbx, err := a.provider.Connect(ctx, sandboxID)
	if err != nil {
		slog.Warn("Read files: connect failed", "error", err, "sandbox_id", sandboxID)
		return []FileContent{}
	}

	out := make([]FileContent, len(paths))
	var g errgroup.Group
	for i, p := range paths {
		g.Go(func() error {
			content, err := sbx.ReadFile(ctx, p)
			if err != nil {
				return err
			}
			out[i] = FileContent{Path: p, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("Read files failed", "error", err, "sandbox_id", sandboxID)
		return []FileContent{}
	}
	return out
}

// WriteFiles writes all files concurrently, creating parents and overwriting.
// A partial failure is not rolled back.
func (a *Adapters) WriteFiles(ctx context.Context, files []FileWrite, sandboxID string) Result {
	err := a.each(ctx, sandboxID, len(files), func(sbx sandbox.Sandbox, i int) error {
		return sbx.WriteFile(ctx, files[i].Path, files[i].Content)
	})
	if err != nil {
		return Result{Message: fmt.Sprintf("Failed to write file(s) to sandbox %s: %v", sandboxID, err)}
	}
	return Result{Success: true, Message: fmt.Sprintf("Successfully wrote %d file(s) to sandbox %s.", len(files), sandboxID)}
}

// MakeDir creates every directory with its parents.
func (a *Adapters) MakeDir(ctx context.Context, paths []string, sandboxID string) Result {
	err := a.each(ctx, sandboxID, len(paths), func(sbx sandbox.Sandbox, i int) error {
		return sbx.MakeDir(ctx, paths[i])
	})
	if err != nil {
		return Result{Message: fmt.Sprintf("Failed to create director(ies) in sandbox %s: %v", sandboxID, err)}
	}
	return Result{Success: true, Message: fmt.Sprintf("Successfully created %d director(ies) in sandbox %s.", len(paths), sandboxID)}
}

// RemoveFiles removes files and directories recursively.
func (a *Adapters) RemoveFiles(ctx context.Context, paths []string, sandboxID string) Result {
	err := a.each(ctx, sandboxID, len(paths), func(sbx sandbox.Sandbox, i int) error {
		return sbx.Remove(ctx, paths[i])
	})
	if err != nil {
		return Result{Message: fmt.Sprintf("Failed to remove file(s) from sandbox %s: %v", sandboxID, err)}
	}
	return Result{Success: true, Message: fmt.Sprintf("Successfully removed %d file(s) from sandbox %s.", len(paths), sandboxID)}
}

// RenameFiles moves entries and reports the ones that moved. Entries whose type
// is neither file nor dir are left out.
func (a *Adapters) RenameFiles(ctx context.Context, ops []RenameOp, sandboxID string) RenameResult {
	var (
		mu    sync.Mutex
		moved = make([]sandbox.EntryInfo, 0, len(ops))
	)
	err := a.each(ctx, sandboxID, len(ops), func(sbx sandbox.Sandbox, i int) error {
		info, err := sbx.Rename(ctx, ops[i].OldPath, ops[i].NewPath)
		if err != nil {
			return err
		}
		if info.Type != sandbox.EntryFile && info.Type != sandbox.EntryDir {
			return nil
		}
		mu.Lock()
		moved = append(moved, info)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return RenameResult{
			Result: Result{Message: fmt.Sprintf("Failed to rename file(s) in sandbox %s: %v", sandboxID, err)},
			Files:  moved,
		}
	}
	return RenameResult{
		Result: Result{Success: true, Message: fmt.Sprintf("Successfully renamed %d file(s) in sandbox %s.", len(ops), sandboxID)},
		Files:  moved,
	}
}

// ListFiles lists the direct children of dir.
func (a *Adapters) ListFiles(ctx context.Context, dir, sandboxID string) (Listing, error) {
	sbx, err := a.provider.Connect(ctx, sandboxID)
	if err != nil {
		return Listing{}, err
	}
	entries, err := sbx.List(ctx, dir)
	if err != nil {
		return Listing{}, err
	}
	return Listing{EntryPath: sandbox.Resolve(dir), Entries: entries}, nil
}

// each connects once and runs fn for indexes 0..n-1 concurrently. Every index
// runs even when another fails; the first error is returned.
func (a *Adapters) each(ctx context.Context, sandboxID string, n int, fn func(sandbox.Sandbox, int) error) error {
	sbx, err := a.provider.Connect(ctx, sandboxID)
	if err != nil {
		return err
	}
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(sbx, i) })
	}
	return g.Wait()
}
