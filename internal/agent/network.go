package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/sagent/internal/tools"
	"github.com/sashabaranov/go-openai"
)

// SummaryMarker opens the summary the agent writes once the task is done.
const SummaryMarker = "<task_summary>"

const continuePrompt = "Continue working on the task. When everything is done, reply with the " + SummaryMarker + "."

// State is the shared run state of a network.
type State struct {
	// Summary is the assistant text that carried SummaryMarker, or "".
	Summary    string
	Iterations int
}

// Step describes one observable network action.
type Step struct {
	Kind    string // "assistant", "tool_call" or "tool_result"
	Name    string
	Content string
}

// Network drives a single coding agent against a tool registry. Each iteration
// is one model call followed by the tool calls it requested. The router stops
// as soon as a summary was captured or MaxIterations is reached.
type Network struct {
	Model         Model
	ModelName     string
	System        string
	Tools         *tools.Registry
	MaxIterations int
	MaxTokens     int
	// OnStep is called for every assistant reply and tool call when set.
	OnStep func(Step)
}

func (n *Network) observe(kind, name, content string) {
	if n.OnStep != nil {
		n.OnStep(Step{Kind: kind, Name: name, Content: content})
	}
}

func (n *Network) toolDefinitions() []openai.Tool {
	if n.Tools == nil {
		return nil
	}
	list := n.Tools.Tools()
	defs := make([]openai.Tool, 0, len(list))
	for _, t := range list {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Run feeds input to the agent until it produces a summary. A model error ends
// the run; tool failures are handed back to the model as text.
func (n *Network) Run(ctx context.Context, input string) (State, error) {
	var state State
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: n.System},
		{Role: openai.ChatMessageRoleUser, Content: input},
	}
	defs := n.toolDefinitions()

	for state.Summary == "" && state.Iterations < n.MaxIterations {
		state.Iterations++

		resp, err := n.Model.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     n.ModelName,
			Messages:  messages,
			Tools:     defs,
			MaxTokens: n.MaxTokens,
		})
		if err != nil {
			return state, fmt.Errorf("iteration %d: chat completion: %w", state.Iterations, err)
		}
		if len(resp.Choices) == 0 {
			return state, fmt.Errorf("iteration %d: %w", state.Iterations, errEmptyCompletion)
		}

		reply := resp.Choices[0].Message
		reply.Role = openai.ChatMessageRoleAssistant
		messages = append(messages, reply)
		if reply.Content != "" {
			n.observe("assistant", "", reply.Content)
		}
		if strings.Contains(reply.Content, SummaryMarker) {
			state.Summary = reply.Content
		}

		for _, call := range reply.ToolCalls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
				Content:    n.callTool(ctx, call),
			})
		}

		if len(reply.ToolCalls) == 0 && state.Summary == "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: continuePrompt,
			})
		}
	}

	slog.Debug("Agent network finished", "iterations", state.Iterations, "summary", state.Summary != "")
	return state, nil
}

func (n *Network) callTool(ctx context.Context, call openai.ToolCall) string {
	name := call.Function.Name
	n.observe("tool_call", name, call.Function.Arguments)

	var out string
	if n.Tools == nil {
		out = "Error: no tools available"
	} else {
		res, err := n.Tools.Call(ctx, name, json.RawMessage(call.Function.Arguments))
		if err != nil {
			slog.Warn("Tool call rejected", "tool", name, "error", err)
			out = "Error: " + err.Error()
		} else {
			out = res
		}
	}

	n.observe("tool_result", name, out)
	return out
}
