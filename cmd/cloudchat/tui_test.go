package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"
)

var errInitFailed = errors.New("no servers came up")

func newTestChatModel() chatModel {
	mock := &mockAssistant{reply: "42 buckets"}
	m := newChatModel(config.DefaultConfig(), mock)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(chatModel)
}

func TestChatModelReady(t *testing.T) {
	m := newTestChatModel()
	if m.ready {
		t.Fatal("model should not be ready before init completes")
	}

	updated, _ := m.Update(chatReadyMsg{toolCount: 3})
	m = updated.(chatModel)
	if !m.ready {
		t.Error("model should be ready")
	}
	if !strings.Contains(m.status, "3 tools") {
		t.Errorf("status = %q, want tool count", m.status)
	}
}

func TestChatModelReadyError(t *testing.T) {
	m := newTestChatModel()
	updated, _ := m.Update(chatReadyMsg{err: errInitFailed})
	m = updated.(chatModel)
	if m.ready {
		t.Error("model should not be ready after init failure")
	}
	if !strings.Contains(m.status, "startup failed") {
		t.Errorf("status = %q, want startup failure", m.status)
	}
}

func TestChatModelSendAndReply(t *testing.T) {
	m := newTestChatModel()
	updated, _ := m.Update(chatReadyMsg{toolCount: 1})
	m = updated.(chatModel)

	m.input.SetValue("list my buckets")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(chatModel)

	if cmd == nil {
		t.Fatal("enter should produce a command")
	}
	if !m.inflight {
		t.Error("model should be inflight after sending")
	}
	if len(m.lines) != 1 || m.lines[0].speaker != "you" {
		t.Fatalf("lines = %+v, want one user line", m.lines)
	}
	if m.input.Value() != "" {
		t.Error("input should be cleared after sending")
	}

	updated, _ = m.Update(chatReplyMsg{user: "list my buckets", reply: "42 buckets"})
	m = updated.(chatModel)
	if m.inflight {
		t.Error("model should not be inflight after reply")
	}
	if len(m.lines) != 2 || m.lines[1].text != "42 buckets" {
		t.Fatalf("lines = %+v, want reply appended", m.lines)
	}
}

func TestChatModelIgnoresInputBeforeReady(t *testing.T) {
	m := newTestChatModel()
	m.input.SetValue("too early")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(chatModel)
	if len(m.lines) != 0 {
		t.Errorf("lines = %+v, want none before ready", m.lines)
	}
}

func TestChatModelView(t *testing.T) {
	m := newTestChatModel()
	updated, _ := m.Update(chatReadyMsg{toolCount: 2})
	m = updated.(chatModel)

	view := m.View()
	if !strings.Contains(view, "cloudchat") {
		t.Error("view missing header")
	}
	if !strings.Contains(view, config.DefaultModel) {
		t.Error("view missing model name")
	}
}
