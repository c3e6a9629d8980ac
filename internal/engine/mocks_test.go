package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Veraticus/mailflow/internal/llm"
	"github.com/Veraticus/mailflow/internal/model"
	"github.com/Veraticus/mailflow/internal/providers"
)

// mockLLM scripts function-call responses and records requests.
type mockLLM struct {
	mu        sync.Mutex
	respond   func(req llm.FunctionCallRequest) (llm.FunctionCallResponse, error)
	requests  []llm.FunctionCallRequest
	callCount int
}

func (m *mockLLM) CallFunction(_ context.Context, req llm.FunctionCallRequest) (llm.FunctionCallResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.requests = append(m.requests, req)
	if m.respond == nil {
		return llm.FunctionCallResponse{}, fmt.Errorf("unexpected model call")
	}
	return m.respond(req)
}

// selectRule builds a single-select response choosing rule index i.
func selectRule(i int, reason string) llm.FunctionCallResponse {
	args, _ := json.Marshal(map[string]string{"reason": reason})
	return llm.FunctionCallResponse{
		Name:      fmt.Sprintf("rule_%d", i),
		Arguments: args,
	}
}

// fakeProvider records calls and returns scripted results.
type fakeProvider struct {
	mu          sync.Mutex
	messages    map[string]*model.Message
	getErr      map[string]error
	labelResult providers.LabelResult
	labelErr    error
	sendErr     error
	archiveErr  error
	calls       []string
	sent        []model.Envelope
}

func newFakeProvider(msgs ...*model.Message) *fakeProvider {
	p := &fakeProvider{
		messages:    map[string]*model.Message{},
		labelResult: providers.LabelResult{LabelID: "Label_1"},
	}
	for _, m := range msgs {
		p.messages[m.ID] = m
	}
	return p
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) callCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (p *fakeProvider) ListMessages(_ context.Context, _ string, _ int64) ([]model.MessageRef, error) {
	p.record("ListMessages")
	var refs []model.MessageRef
	for id, m := range p.messages {
		refs = append(refs, model.MessageRef{ID: id, ThreadID: m.ThreadID})
	}
	return refs, nil
}

func (p *fakeProvider) GetMessage(_ context.Context, id string) (*model.Message, error) {
	p.record("GetMessage")
	if err := p.getErr[id]; err != nil {
		return nil, err
	}
	msg, ok := p.messages[id]
	if !ok {
		return nil, providers.NewError(providers.KindNotFound, "messages.get", fmt.Errorf("no message %s", id))
	}
	return msg, nil
}

func (p *fakeProvider) GetThread(_ context.Context, id string) (*model.Thread, error) {
	p.record("GetThread")
	thread := &model.Thread{ID: id}
	for _, m := range p.messages {
		if m.ThreadID == id {
			thread.Messages = append(thread.Messages, *m)
		}
	}
	return thread, nil
}

func (p *fakeProvider) LabelMessage(_ context.Context, _, _, _ string) (providers.LabelResult, error) {
	p.record("LabelMessage")
	return p.labelResult, p.labelErr
}

func (p *fakeProvider) ArchiveThread(_ context.Context, _ string) error {
	p.record("ArchiveThread")
	return p.archiveErr
}

func (p *fakeProvider) SendMessage(_ context.Context, env model.Envelope) (string, error) {
	p.record("SendMessage")
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, env)
	return "sent-1", nil
}

func (p *fakeProvider) CreateDraft(_ context.Context, _ model.Envelope, _ string) (string, error) {
	p.record("CreateDraft")
	return "draft-1", nil
}

func (p *fakeProvider) MarkSpam(_ context.Context, _ string) error {
	p.record("MarkSpam")
	return nil
}

func fakeFactory(p *fakeProvider) providers.Factory {
	return func(_ context.Context, _ *model.Account) (providers.Provider, error) {
		return p, nil
	}
}

func testMessage(id string) *model.Message {
	return &model.Message{
		ID:       id,
		ThreadID: "thread-" + id,
		From:     "Jane Doe <jane@example.com>",
		To:       "me@example.com",
		Subject:  "Your receipt from Store",
		TextBody: "Thanks for your purchase. Total: $42.",
	}
}
