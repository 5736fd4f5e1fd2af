package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/cron"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/protocol"
)

// setTestHome points the config dir at a temp dir and clears the API key
// environment overrides so tests see a clean default config.
func setTestHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("CLOUDCHAT_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return tmpDir
}

// mockAssistant implements Assistant for testing
type mockAssistant struct {
	initialized bool
	cleaned     bool
	reply       string
	processed   []string
	tools       []protocol.ToolDescriptor
}

func (m *mockAssistant) Initialize() error { m.initialized = true; return nil }

func (m *mockAssistant) ProcessMessage(ctx context.Context, text string) string {
	m.processed = append(m.processed, text)
	return m.reply
}

func (m *mockAssistant) Tools() []protocol.ToolDescriptor { return m.tools }

func (m *mockAssistant) Cleanup() { m.cleaned = true }

func mockFactory(a Assistant) AssistantFactory {
	return func(cfg *config.Config) (Assistant, error) {
		return a, nil
	}
}

func TestRunAgentWithOptions_SingleMessage(t *testing.T) {
	setTestHome(t)

	mock := &mockAssistant{reply: "Hello from mock!"}
	var stdout bytes.Buffer

	oldFlag := messageFlag
	messageFlag = "test message"
	defer func() { messageFlag = oldFlag }()

	err := runAgentWithOptions(AgentOptions{
		AssistantFactory: mockFactory(mock),
		Stdout:           &stdout,
	})
	if err != nil {
		t.Errorf("runAgentWithOptions error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Hello from mock!") {
		t.Errorf("expected 'Hello from mock!' in output, got: %s", stdout.String())
	}
	if !mock.initialized {
		t.Error("assistant should be initialized")
	}
	if !mock.cleaned {
		t.Error("assistant should be cleaned up")
	}
	if len(mock.processed) != 1 || mock.processed[0] != "test message" {
		t.Errorf("processed = %v, want [test message]", mock.processed)
	}
}

func TestRunAgentWithOptions_REPLMode(t *testing.T) {
	setTestHome(t)

	mock := &mockAssistant{reply: "REPL response"}

	// One message then exit
	stdin := strings.NewReader("hello\nexit\n")
	var stdout bytes.Buffer

	oldFlag := messageFlag
	messageFlag = ""
	defer func() { messageFlag = oldFlag }()

	err := runAgentWithOptions(AgentOptions{
		AssistantFactory: mockFactory(mock),
		Stdin:            stdin,
		Stdout:           &stdout,
	})
	if err != nil {
		t.Errorf("runAgentWithOptions error: %v", err)
	}

	if !strings.Contains(stdout.String(), "cloudchat agent") {
		t.Errorf("expected REPL welcome message, got: %s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "REPL response") {
		t.Errorf("expected 'REPL response' in output, got: %s", stdout.String())
	}
}

func TestRunAgentWithOptions_REPLMode_EmptyInput(t *testing.T) {
	setTestHome(t)

	mock := &mockAssistant{reply: "response"}

	// Empty lines should be skipped
	stdin := strings.NewReader("\n\nhello\nquit\n")
	var stdout bytes.Buffer

	oldFlag := messageFlag
	messageFlag = ""
	defer func() { messageFlag = oldFlag }()

	err := runAgentWithOptions(AgentOptions{
		AssistantFactory: mockFactory(mock),
		Stdin:            stdin,
		Stdout:           &stdout,
	})
	if err != nil {
		t.Errorf("error: %v", err)
	}
	if len(mock.processed) != 1 {
		t.Errorf("processed = %v, want exactly one message", mock.processed)
	}
}

func TestRunToolsWithOptions(t *testing.T) {
	setTestHome(t)

	mock := &mockAssistant{
		tools: []protocol.ToolDescriptor{
			{Name: "call_aws", Description: "Execute AWS CLI", ServerName: "aws-api"},
			{Name: "search_documentation", Description: "Search docs\nSecond line ignored", ServerName: "aws-docs"},
		},
	}
	var stdout bytes.Buffer

	err := runToolsWithOptions(AgentOptions{
		AssistantFactory: mockFactory(mock),
		Stdout:           &stdout,
	})
	if err != nil {
		t.Errorf("runToolsWithOptions error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "aws-api:call_aws") {
		t.Errorf("expected qualified tool name, got: %s", output)
	}
	if !strings.Contains(output, "Execute AWS CLI") {
		t.Errorf("expected description, got: %s", output)
	}
	if strings.Contains(output, "Second line ignored") {
		t.Errorf("descriptions should be truncated to the first line, got: %s", output)
	}
	if !mock.cleaned {
		t.Error("assistant should be cleaned up")
	}
}

func TestRunToolsWithOptions_NoTools(t *testing.T) {
	setTestHome(t)

	mock := &mockAssistant{}
	var stdout bytes.Buffer

	err := runToolsWithOptions(AgentOptions{
		AssistantFactory: mockFactory(mock),
		Stdout:           &stdout,
	})
	if err != nil {
		t.Errorf("runToolsWithOptions error: %v", err)
	}
	if !strings.Contains(stdout.String(), "No tools available") {
		t.Errorf("unexpected output: %s", stdout.String())
	}
}

func TestRunOnboard(t *testing.T) {
	tmpDir := setTestHome(t)

	// Capture stdout
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runOnboard(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	if err != nil {
		t.Errorf("runOnboard error: %v", err)
	}

	cfgPath := filepath.Join(tmpDir, ".cloudchat", "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}
	if !strings.Contains(output, "Created config") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	tmpDir := setTestHome(t)

	cfgDir := filepath.Join(tmpDir, ".cloudchat")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("agent:\n  model: test\n"), 0644)

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runOnboard(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	if err != nil {
		t.Errorf("runOnboard error: %v", err)
	}
	if !strings.Contains(output, "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", output)
	}
}

func TestRunStatus(t *testing.T) {
	setTestHome(t)

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runStatus(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	if err != nil {
		t.Errorf("runStatus error: %v", err)
	}
	if !strings.Contains(output, "Model: "+config.DefaultModel) {
		t.Errorf("expected default model, got: %s", output)
	}
	if !strings.Contains(output, "API Key: not set") {
		t.Errorf("expected 'API Key: not set', got: %s", output)
	}
	if !strings.Contains(output, "Server aws-api: enabled") {
		t.Errorf("expected default server listing, got: %s", output)
	}
}

func TestRunStatus_WithAPIKey(t *testing.T) {
	setTestHome(t)
	t.Setenv("CLOUDCHAT_API_KEY", "sk-ant-test-key-12345")

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runStatus(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	if err != nil {
		t.Errorf("runStatus error: %v", err)
	}
	if !strings.Contains(output, "sk-a...2345") {
		t.Errorf("expected masked API key, got: %s", output)
	}
	if strings.Contains(output, "sk-ant-test-key-12345") {
		t.Errorf("full API key leaked in output: %s", output)
	}
}

func TestRunStatus_WithShortAPIKey(t *testing.T) {
	setTestHome(t)
	t.Setenv("CLOUDCHAT_API_KEY", "short")

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runStatus(&cobra.Command{}, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := buf.String()

	if err != nil {
		t.Errorf("runStatus error: %v", err)
	}
	if !strings.Contains(output, "API Key: set") {
		t.Errorf("expected 'API Key: set', got: %s", output)
	}
}

func TestDefaultAssistantFactory_NoAPIKey(t *testing.T) {
	setTestHome(t)

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if _, err := DefaultAssistantFactory(cfg); err == nil {
		t.Error("expected error without API key")
	}
}

func TestRunGateway_NoAPIKey(t *testing.T) {
	setTestHome(t)

	err := runGateway(&cobra.Command{}, []string{})
	if err == nil {
		t.Error("expected error without API key")
	}
	if !strings.Contains(err.Error(), "API key not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInit(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"agent", "chat", "gateway", "tools", "onboard", "status", "cron"} {
		if !names[want] {
			t.Errorf("command %q not registered", want)
		}
	}
}

// resetCronFlags clears the cron add flags between tests.
func resetCronFlags(t *testing.T) {
	t.Helper()
	cronNameFlag = ""
	cronExprFlag = ""
	cronEveryFlag = 0
	cronAtFlag = ""
	cronMessageFlag = ""
	t.Cleanup(func() {
		cronNameFlag = ""
		cronExprFlag = ""
		cronEveryFlag = 0
		cronAtFlag = ""
		cronMessageFlag = ""
	})
}

func TestCronAddAndList(t *testing.T) {
	resetCronFlags(t)
	storePath := filepath.Join(t.TempDir(), "jobs.json")

	cronNameFlag = "daily costs"
	cronEveryFlag = 30 * time.Minute
	cronMessageFlag = "summarize yesterday's AWS costs"

	var out bytes.Buffer
	if err := runCronAdd(storePath, &out); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out.String(), "Added job daily costs") {
		t.Errorf("add output = %q", out.String())
	}

	out.Reset()
	if err := runCronList(storePath, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	listing := out.String()
	if !strings.Contains(listing, "daily costs") || !strings.Contains(listing, "every 30m0s") {
		t.Errorf("list output = %q", listing)
	}
	if !strings.Contains(listing, "enabled") {
		t.Errorf("new job not listed as enabled: %q", listing)
	}
}

func TestCronAddOneShot(t *testing.T) {
	resetCronFlags(t)
	storePath := filepath.Join(t.TempDir(), "jobs.json")

	cronAtFlag = "2026-09-01T09:00:00Z"
	cronMessageFlag = "check the overnight batch"

	var out bytes.Buffer
	if err := runCronAdd(storePath, &out); err != nil {
		t.Fatalf("add: %v", err)
	}

	svc := cron.NewService(storePath)
	if err := svc.Load(); err != nil {
		t.Fatalf("load store: %v", err)
	}
	jobs := svc.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Schedule.Kind != "at" {
		t.Errorf("schedule kind = %q", jobs[0].Schedule.Kind)
	}
	want, _ := time.Parse(time.RFC3339, cronAtFlag)
	if jobs[0].Schedule.AtMs != want.UnixMilli() {
		t.Errorf("atMs = %d, want %d", jobs[0].Schedule.AtMs, want.UnixMilli())
	}
	if jobs[0].Name != "check the overnight batch" {
		t.Errorf("name not defaulted from message: %q", jobs[0].Name)
	}
}

func TestCronAddFlagValidation(t *testing.T) {
	resetCronFlags(t)
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	var out bytes.Buffer

	if err := runCronAdd(storePath, &out); err == nil {
		t.Error("expected error without --message")
	}

	cronMessageFlag = "do something"
	if err := runCronAdd(storePath, &out); err == nil {
		t.Error("expected error without a schedule flag")
	}

	cronExprFlag = "0 0 9 * * *"
	cronEveryFlag = time.Hour
	if err := runCronAdd(storePath, &out); err == nil {
		t.Error("expected error with two schedule flags")
	}

	cronEveryFlag = 0
	cronExprFlag = ""
	cronAtFlag = "not-a-time"
	if err := runCronAdd(storePath, &out); err == nil {
		t.Error("expected error for a malformed --at time")
	}
}

func TestCronRm(t *testing.T) {
	resetCronFlags(t)
	storePath := filepath.Join(t.TempDir(), "jobs.json")

	cronEveryFlag = time.Hour
	cronMessageFlag = "list running instances"
	var out bytes.Buffer
	if err := runCronAdd(storePath, &out); err != nil {
		t.Fatalf("add: %v", err)
	}

	svc := cron.NewService(storePath)
	if err := svc.Load(); err != nil {
		t.Fatalf("load store: %v", err)
	}
	id := svc.ListJobs()[0].ID

	out.Reset()
	if err := runCronRm(storePath, &out, id); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if !strings.Contains(out.String(), "Removed job "+id) {
		t.Errorf("rm output = %q", out.String())
	}

	out.Reset()
	if err := runCronList(storePath, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "No jobs scheduled") {
		t.Errorf("list after rm = %q", out.String())
	}

	if err := runCronRm(storePath, &out, "missing-id"); err == nil {
		t.Error("expected error removing an unknown job")
	}
}

func TestProviderDisplay(t *testing.T) {
	if got := providerDisplay(""); got != "anthropic (default)" {
		t.Errorf("providerDisplay(\"\") = %q", got)
	}
	if got := providerDisplay("openai"); got != "openai" {
		t.Errorf("providerDisplay(openai) = %q", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one" {
		t.Errorf("firstLine = %q, want 'one'", got)
	}
	long := strings.Repeat("x", 200)
	if got := firstLine(long); len(got) != 120 {
		t.Errorf("firstLine length = %d, want 120", len(got))
	}
}
