package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Names of the sandbox tools.
const (
	TerminalName            = "terminal"
	CreateOrUpdateFilesName = "createOrUpdateFiles"
	ReadFilesName           = "readFiles"
	MakeDirName             = "makeDir"
	RemoveFilesName         = "removeFiles"
	RenameFilesName         = "renameFiles"
	ListFilesName           = "listFiles"
)

// Hooks observe tool activity during an agent run. Nil hooks are skipped.
type Hooks struct {
	// Progress receives a short human-readable description before each action.
	Progress func(ctx context.Context, text string)
	// FilesWritten receives the files of every fully successful write.
	FilesWritten func(ctx context.Context, files []FileWrite)
}

func (h Hooks) progress(ctx context.Context, text string) {
	if h.Progress != nil {
		h.Progress(ctx, text)
	}
}

type terminalInput struct {
	Command string `json:"command" required:"true" description:"Shell command to run in the project directory"`
}

type createOrUpdateFilesInput struct {
	Files []FileWrite `json:"files" required:"true" minItems:"1" description:"Files to create or overwrite"`
}

type pathsInput struct {
	Files []string `json:"files" required:"true" minItems:"1" description:"Paths relative to the project root"`
}

type renameFilesInput struct {
	Files []RenameOp `json:"files" required:"true" minItems:"1" description:"Entries to move"`
}

type listFilesInput struct {
	Path string `json:"path" description:"Directory to list, defaults to the project root"`
}

// SandboxTools builds a registry of every sandbox tool bound to sandboxID.
func SandboxTools(a *Adapters, sandboxID string, hooks Hooks) (*Registry, error) {
	tools := []Tool{
		MustNew(TerminalName,
			"Use the terminal to run commands in the sandbox.",
			func(ctx context.Context, in terminalInput) (string, error) {
				hooks.progress(ctx, fmt.Sprintf("Executing: `%s`", in.Command))
				out, err := a.Terminal(ctx, in.Command, sandboxID)
				if errors.Is(err, ErrStderr) {
					return "Error: " + out.Stderr, nil
				}
				if err != nil {
					return fmt.Sprintf("Execution Error: %v", err), nil
				}
				return out.Stdout, nil
			}),
		MustNew(CreateOrUpdateFilesName,
			"Create or update files in the sandbox.",
			func(ctx context.Context, in createOrUpdateFilesInput) (string, error) {
				paths := make([]string, len(in.Files))
				for i, f := range in.Files {
					paths[i] = f.Path
				}
				hooks.progress(ctx, "Writing files: "+strings.Join(paths, ", "))
				res := a.WriteFiles(ctx, in.Files, sandboxID)
				if res.Success && hooks.FilesWritten != nil {
					hooks.FilesWritten(ctx, in.Files)
				}
				return res.Message, nil
			}),
		MustNew(ReadFilesName,
			"Read files from the sandbox.",
			func(ctx context.Context, in pathsInput) (string, error) {
				hooks.progress(ctx, "Reading files: "+strings.Join(in.Files, ", "))
				return toJSON(a.ReadFiles(ctx, in.Files, sandboxID))
			}),
		MustNew(MakeDirName,
			"Create directories in the sandbox, including parents.",
			func(ctx context.Context, in pathsInput) (string, error) {
				hooks.progress(ctx, "Creating directories: "+strings.Join(in.Files, ", "))
				return toJSON(a.MakeDir(ctx, in.Files, sandboxID))
			}),
		MustNew(RemoveFilesName,
			"Remove files or directories from the sandbox.",
			func(ctx context.Context, in pathsInput) (string, error) {
				hooks.progress(ctx, "Removing files: "+strings.Join(in.Files, ", "))
				return toJSON(a.RemoveFiles(ctx, in.Files, sandboxID))
			}),
		MustNew(RenameFilesName,
			"Rename or move files in the sandbox.",
			func(ctx context.Context, in renameFilesInput) (string, error) {
				names := make([]string, len(in.Files))
				for i, op := range in.Files {
					names[i] = op.OldPath + " -> " + op.NewPath
				}
				hooks.progress(ctx, "Renaming files: "+strings.Join(names, ", "))
				return toJSON(a.RenameFiles(ctx, in.Files, sandboxID))
			}),
		MustNew(ListFilesName,
			"List the entries of a directory in the sandbox. Not recursive.",
			func(ctx context.Context, in listFilesInput) (string, error) {
				hooks.progress(ctx, "Listing files: "+in.Path)
				listing, err := a.ListFiles(ctx, in.Path, sandboxID)
				if err != nil {
					return fmt.Sprintf("Execution Error: %v", err), nil
				}
				return toJSON(listing)
			}),
	}
	return NewRegistry(tools...)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}
