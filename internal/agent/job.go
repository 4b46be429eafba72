package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/ashureev/sagent/internal/sandbox"
	"github.com/ashureev/sagent/internal/tools"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Texts shown on the assistant message while a run progresses.
const (
	textSettingUp    = "Setting up environment..."
	textProvisioning = "Provisioning a secure cloud sandbox..."
	textSandboxReady = "Sandbox ready. Starting agent..."
	textGenerating   = "Generating final response..."
	textFailed       = "Agent failed to complete the task."

	defaultFragmentTitle = "Sandbox Info"
	defaultTitle         = "Generated Code"
	defaultResponse      = "The agent has completed the task."
)

// ErrNoSummary is returned when the agent stopped without a task summary.
var ErrNoSummary = errors.New("agent finished without a task summary")

// MessageStore is the persistence a run needs.
type MessageStore interface {
	CreateAssistantMessage(ctx context.Context, msg *domain.Message, frag *domain.Fragment) error
	UpdateMessage(ctx context.Context, messageID string, upd domain.MessageUpdate) (*domain.Message, error)
	UpdateFragment(ctx context.Context, messageID string, upd domain.FragmentUpdate) error
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
}

// Publisher receives every assistant message snapshot.
type Publisher interface {
	Publish(msg *domain.Message)
}

// Config holds the run settings.
type Config struct {
	Template       string
	SandboxTimeout time.Duration
	CodingModel    string
	FastModel      string
	MaxIterations  int
	MaxTokens      int

	// Tools limits the coding agent to the named sandbox tools. Empty means all.
	Tools []string
	// SummarizeRequest condenses the prompt with FastModel before the coding run.
	SummarizeRequest bool
}

// Runner executes agent/call events.
type Runner struct {
	store      MessageStore
	provider   sandbox.Provider
	adapters   *tools.Adapters
	model      Model
	cfg        Config
	publisher  Publisher
	transcript TranscriptLogger
	now        func() time.Time
}

// NewRunner creates a Runner. publisher and transcript may be nil.
func NewRunner(store MessageStore, provider sandbox.Provider, model Model, cfg Config, publisher Publisher, transcript TranscriptLogger) *Runner {
	if cfg.Template == "" {
		cfg.Template = sandbox.DefaultTemplate
	}
	if cfg.SandboxTimeout <= 0 {
		cfg.SandboxTimeout = sandbox.DefaultTimeout
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 15
	}
	if transcript == nil {
		transcript = noopTranscriptLogger{}
	}
	return &Runner{
		store:      store,
		provider:   provider,
		adapters:   tools.NewAdapters(provider),
		model:      model,
		cfg:        cfg,
		publisher:  publisher,
		transcript: transcript,
		now:        time.Now,
	}
}

// HandleEvent decodes an agent/call payload and runs it.
func (r *Runner) HandleEvent(ctx context.Context, evt *domain.Event) error {
	if evt.Name != domain.EventAgentCall {
		return fmt.Errorf("unexpected event %q", evt.Name)
	}
	var call domain.AgentCall
	if err := json.Unmarshal(evt.Payload, &call); err != nil {
		return fmt.Errorf("decode agent call: %w", err)
	}
	if call.ThreadID == "" || call.Value == "" {
		return fmt.Errorf("agent call without thread or value: %w", domain.ErrValidation)
	}
	return r.Run(ctx, call)
}

// run is the state of one agent run. It is the only writer of its message.
type run struct {
	r     *Runner
	call  domain.AgentCall
	msgID string

	mu    sync.Mutex
	files map[string]string
}

// Run executes one agent run for call. Failures after the assistant message
// exists are recorded on it as ERROR/FAILED and also returned.
func (r *Runner) Run(ctx context.Context, call domain.AgentCall) error {
	now := r.now()
	msg := &domain.Message{
		ID:        uuid.NewString(),
		ThreadID:  call.ThreadID,
		UserID:    call.UserID,
		Role:      domain.RoleAssistant,
		Type:      domain.MessageText,
		Status:    domain.StatusProcessing,
		Content:   textSettingUp,
		CreatedAt: now,
		UpdatedAt: now,
	}
	frag := &domain.Fragment{
		ID:        uuid.NewString(),
		MessageID: msg.ID,
		Title:     defaultFragmentTitle,
		Files:     map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateAssistantMessage(ctx, msg, frag); err != nil {
		return fmt.Errorf("create assistant message: %w", err)
	}
	msg.Fragment = frag
	r.publish(msg)

	ru := &run{r: r, call: call, msgID: msg.ID, files: map[string]string{}}
	logger := slog.With("thread_id", call.ThreadID, "message_id", msg.ID)
	logger.Info("Agent run started")
	r.log(ru, "prompt", "", call.Value)

	if err := ru.execute(ctx); err != nil {
		logger.Error("Agent run failed", "error", err)
		r.log(ru, "status", "failed", err.Error())
		// The failure must be recorded even when ctx was canceled.
		ru.fail(context.WithoutCancel(ctx))
		return err
	}
	logger.Info("Agent run completed")
	r.log(ru, "status", "completed", "")
	return nil
}

func (ru *run) execute(ctx context.Context) error {
	r := ru.r

	ru.setContent(ctx, textProvisioning)
	sbx, err := r.provider.Create(ctx, r.cfg.Template, r.cfg.SandboxTimeout)
	if err != nil {
		return fmt.Errorf("provision sandbox: %v: %w", err, domain.ErrExternalService)
	}
	sandboxID := sbx.ID()
	sandboxURL := "https://" + sbx.Host(sandbox.PreviewPort)
	if err := r.store.UpdateFragment(ctx, ru.msgID, domain.FragmentUpdate{SandboxID: &sandboxID, SandboxURL: &sandboxURL}); err != nil {
		return fmt.Errorf("save sandbox: %w", err)
	}
	ru.setContent(ctx, textSandboxReady)

	all, err := tools.SandboxTools(r.adapters, sandboxID, tools.Hooks{
		Progress:     ru.setContent,
		FilesWritten: ru.mergeFiles,
	})
	if err != nil {
		return err
	}
	agentTools := all
	if len(r.cfg.Tools) > 0 {
		if agentTools, err = all.Subset(r.cfg.Tools...); err != nil {
			return err
		}
	}

	network := &Network{
		Model:         r.model,
		ModelName:     r.cfg.CodingModel,
		System:        systemPrompt,
		Tools:         agentTools,
		MaxIterations: r.cfg.MaxIterations,
		MaxTokens:     r.cfg.MaxTokens,
		OnStep: func(s Step) {
			r.log(ru, s.Kind, s.Name, s.Content)
		},
	}
	state, err := network.Run(ctx, r.requestInput(ctx, ru))
	if err != nil {
		return fmt.Errorf("agent network: %w", err)
	}
	if state.Summary == "" {
		return fmt.Errorf("%w after %d iterations", ErrNoSummary, state.Iterations)
	}

	ru.setContent(ctx, textGenerating)
	title, response := r.generate(ctx, state.Summary)

	if err := r.store.UpdateFragment(ctx, ru.msgID, domain.FragmentUpdate{Title: &title}); err != nil {
		return fmt.Errorf("save title: %w", err)
	}
	typ, status := domain.MessageResult, domain.StatusCompleted
	return ru.update(ctx, domain.MessageUpdate{Content: &response, Type: &typ, Status: &status})
}

// requestInput returns the coding agent's first user message. With
// SummarizeRequest set the prompt is followed by a condensed requirement list;
// a failed condensation leaves the prompt alone.
func (r *Runner) requestInput(ctx context.Context, ru *run) string {
	if !r.cfg.SummarizeRequest {
		return ru.call.Value
	}
	condensed, err := complete(ctx, r.model, r.cfg.FastModel, summarizeRequestPrompt, ru.call.Value, 1024)
	if err != nil || condensed == "" {
		slog.Warn("Request summary failed, using the prompt as is", "error", err, "thread_id", ru.call.ThreadID)
		return ru.call.Value
	}
	r.log(ru, "request_summary", "", condensed)
	return ru.call.Value + "\n\nRequirements:\n" + condensed
}

// generate produces the fragment title and user-facing reply concurrently.
// A failed generation falls back to its default text.
func (r *Runner) generate(ctx context.Context, summary string) (title, response string) {
	var g errgroup.Group
	g.Go(func() error {
		t, err := complete(ctx, r.model, r.cfg.FastModel, titlePrompt, summary, 64)
		if err != nil {
			slog.Warn("Title generation failed", "error", err)
		}
		title = t
		return nil
	})
	g.Go(func() error {
		resp, err := complete(ctx, r.model, r.cfg.FastModel, responsePrompt, summary, 1024)
		if err != nil {
			slog.Warn("Response generation failed", "error", err)
		}
		response = resp
		return nil
	})
	_ = g.Wait()

	if title == "" {
		title = defaultTitle
	}
	if response == "" {
		response = defaultResponse
	}
	return title, response
}

func (ru *run) update(ctx context.Context, upd domain.MessageUpdate) error {
	msg, err := ru.r.store.UpdateMessage(ctx, ru.msgID, upd)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	ru.r.publish(msg)
	return nil
}

// setContent replaces the progress text. Failures are logged, not fatal.
func (ru *run) setContent(ctx context.Context, text string) {
	if err := ru.update(ctx, domain.MessageUpdate{Content: &text}); err != nil {
		slog.Warn("Failed to update progress", "error", err, "message_id", ru.msgID)
	}
}

// mergeFiles adds written files to the run's file map and persists the whole map.
func (ru *run) mergeFiles(ctx context.Context, written []tools.FileWrite) {
	ru.mu.Lock()
	for _, f := range written {
		ru.files[f.Path] = f.Content
	}
	snapshot := maps.Clone(ru.files)
	ru.mu.Unlock()

	if err := ru.r.store.UpdateFragment(ctx, ru.msgID, domain.FragmentUpdate{Files: snapshot}); err != nil {
		slog.Warn("Failed to save fragment files", "error", err, "message_id", ru.msgID)
		return
	}
	if msg, err := ru.r.store.GetMessage(ctx, ru.msgID); err == nil && msg != nil {
		ru.r.publish(msg)
	}
}

func (ru *run) fail(ctx context.Context) {
	text := textFailed
	typ, status := domain.MessageError, domain.StatusFailed
	if err := ru.update(ctx, domain.MessageUpdate{Content: &text, Type: &typ, Status: &status}); err != nil {
		slog.Error("Failed to record agent failure", "error", err, "message_id", ru.msgID)
	}
}

func (r *Runner) publish(msg *domain.Message) {
	if r.publisher != nil && msg != nil {
		r.publisher.Publish(msg)
	}
}

func (r *Runner) log(ru *run, kind, name, content string) {
	r.transcript.Log(TranscriptEvent{
		ThreadID:   ru.call.ThreadID,
		UserID:     ru.call.UserID,
		MessageID:  ru.msgID,
		Kind:       kind,
		Name:       name,
		ContentRaw: content,
	})
}
