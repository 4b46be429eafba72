package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ashureev/sagent/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoInput struct {
	Text string `json:"text" required:"true"`
}

func TestRegistry(t *testing.T) {
	echo := MustNew("echo", "Echo text back.", func(_ context.Context, in echoInput) (string, error) {
		return in.Text, nil
	})

	r, err := NewRegistry(echo)
	require.NoError(t, err)
	assert.Error(t, r.Register(echo), "duplicate names are rejected")

	out, err := r.Call(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = r.Call(context.Background(), "echo", json.RawMessage(`{"text":`))
	assert.Error(t, err)

	_, err = r.Call(context.Background(), "nope", nil)
	assert.Error(t, err)

	schema, err := json.Marshal(echo.Parameters())
	require.NoError(t, err)
	assert.Contains(t, string(schema), `"text"`)
	assert.Contains(t, string(schema), `"required"`)
}

func TestNewRejectsNonStructInput(t *testing.T) {
	_, err := New("bad", "", func(_ context.Context, in string) (string, error) { return in, nil })
	assert.Error(t, err)
}

func TestSandboxTools(t *testing.T) {
	a, sbx, runner := newTestAdapters(t)
	ctx := context.Background()

	var progress []string
	var written []FileWrite
	reg, err := SandboxTools(a, sbx.ID(), Hooks{
		Progress:     func(_ context.Context, text string) { progress = append(progress, text) },
		FilesWritten: func(_ context.Context, files []FileWrite) { written = append(written, files...) },
	})
	require.NoError(t, err)
	assert.Len(t, reg.Tools(), 7)

	sub, err := reg.Subset(TerminalName, CreateOrUpdateFilesName, ReadFilesName)
	require.NoError(t, err)
	names := []string{}
	for _, tool := range sub.Tools() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"terminal", "createOrUpdateFiles", "readFiles"}, names)

	_, err = reg.Subset("teleport")
	assert.Error(t, err)

	out, err := sub.Call(ctx, CreateOrUpdateFilesName, json.RawMessage(`{"files":[{"path":"a.txt","content":"x"},{"path":"b.txt","content":"y"}]}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully wrote 2 file(s)")
	assert.Len(t, written, 2)

	out, err = sub.Call(ctx, ReadFilesName, json.RawMessage(`{"files":["a.txt"]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"path":"a.txt","content":"x"}]`, out)

	runner.results["npm run lint"] = sandbox.CommandResult{Stderr: "warning: unused var"}
	out, err = sub.Call(ctx, TerminalName, json.RawMessage(`{"command":"npm run lint"}`))
	require.NoError(t, err)
	assert.Equal(t, "Error: warning: unused var", out)

	assert.Equal(t, []string{
		"Writing files: a.txt, b.txt",
		"Reading files: a.txt",
		"Executing: `npm run lint`",
	}, progress)
}

func TestSandboxToolsFailedWriteIsNotReported(t *testing.T) {
	a, _, _ := newTestAdapters(t)
	called := false
	reg, err := SandboxTools(a, "missing", Hooks{
		FilesWritten: func(context.Context, []FileWrite) { called = true },
	})
	require.NoError(t, err)

	out, err := reg.Call(context.Background(), CreateOrUpdateFilesName, json.RawMessage(`{"files":[{"path":"a.txt","content":"x"}]}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Failed to write file(s)")
	assert.False(t, called)
}
