package agent

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/ashureev/sagent/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// scriptedModel replays tool-enabled replies in order and answers the
// single-turn generation prompts with fixed text.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []openai.ChatCompletionMessage
	requests []openai.ChatCompletionRequest
	title     string
	response  string
	condensed string
	genErr    error
}

func (m *scriptedModel) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(req.Tools) == 0 {
		if m.genErr != nil {
			return openai.ChatCompletionResponse{}, m.genErr
		}
		text := m.response
		switch req.Messages[0].Content {
		case titlePrompt:
			text = m.title
		case summarizeRequestPrompt:
			text = m.condensed
		}
		return reply(openai.ChatCompletionMessage{Content: text}), nil
	}

	if len(m.replies) == 0 {
		return reply(openai.ChatCompletionMessage{Content: "Still working."}), nil
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return reply(next), nil
}

func (m *scriptedModel) toolRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if len(r.Tools) > 0 {
			n++
		}
	}
	return n
}

// firstToolRequest returns the first request made with tools attached.
func (m *scriptedModel) firstToolRequest() openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if len(r.Tools) > 0 {
			return r
		}
	}
	return openai.ChatCompletionRequest{}
}

func reply(msg openai.ChatCompletionMessage) openai.ChatCompletionResponse {
	msg.Role = openai.ChatMessageRoleAssistant
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: msg}}}
}

func toolCall(id, name, args string) openai.ToolCall {
	return openai.ToolCall{
		ID:       id,
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: name, Arguments: args},
	}
}

// fakeStore keeps messages in memory and records every content change.
type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*domain.Message
	contents []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: map[string]*domain.Message{}}
}

func (s *fakeStore) CreateAssistantMessage(_ context.Context, msg *domain.Message, frag *domain.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *msg
	f := *frag
	f.MessageID = msg.ID
	f.Files = maps.Clone(frag.Files)
	m.Fragment = &f
	s.messages[msg.ID] = &m
	s.contents = append(s.contents, msg.Content)
	return nil
}

func (s *fakeStore) UpdateMessage(_ context.Context, id string, upd domain.MessageUpdate) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Content != nil {
		m.Content = *upd.Content
		s.contents = append(s.contents, m.Content)
	}
	if upd.Type != nil {
		m.Type = *upd.Type
	}
	if upd.Status != nil {
		m.Status = *upd.Status
	}
	return s.copyOf(m), nil
}

func (s *fakeStore) UpdateFragment(_ context.Context, id string, upd domain.FragmentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return errors.New("no fragment")
	}
	f := m.Fragment
	if upd.SandboxID != nil {
		f.SandboxID = *upd.SandboxID
	}
	if upd.SandboxURL != nil {
		f.SandboxURL = *upd.SandboxURL
	}
	if upd.Title != nil {
		f.Title = *upd.Title
	}
	if upd.Files != nil {
		f.Files = maps.Clone(upd.Files)
	}
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return s.copyOf(m), nil
}

func (s *fakeStore) copyOf(m *domain.Message) *domain.Message {
	c := *m
	f := *m.Fragment
	f.Files = maps.Clone(m.Fragment.Files)
	c.Fragment = &f
	return &c
}

func (s *fakeStore) only() *domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		return s.copyOf(m)
	}
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*domain.Message
}

func (p *recordingPublisher) Publish(msg *domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}
