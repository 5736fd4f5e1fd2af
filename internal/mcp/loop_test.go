package mcp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/bridge"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"

	"github.com/petermattis/goid"
)

func startedLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop("", "")
	l.clientHook = func(c *Client) {
		c.HandshakeTimeout = 5 * time.Second
		c.ListTimeout = 5 * time.Second
		c.CallTimeout = 5 * time.Second
	}
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

func TestLoopStartIdempotent(t *testing.T) {
	l := startedLoop(t)
	l.Start()
	l.Start()

	ran := 0
	if err := l.RunAndWait(func() { ran++ }, time.Second); err != nil {
		t.Fatalf("RunAndWait: %v", err)
	}
	if ran != 1 {
		t.Errorf("task ran %d times", ran)
	}
}

func TestLoopRunsOnDedicatedGoroutine(t *testing.T) {
	l := startedLoop(t)

	caller := goid.Get()
	var inside int64
	var active bool
	if err := l.RunAndWait(func() {
		inside = goid.Get()
		active = bridge.Active()
	}, time.Second); err != nil {
		t.Fatalf("RunAndWait: %v", err)
	}
	if inside == caller {
		t.Error("task ran on the calling goroutine")
	}
	if !active {
		t.Error("loop goroutine not registered as a scheduler")
	}
	if bridge.Active() {
		t.Error("caller goroutine registered as a scheduler")
	}
}

func TestRunAndWaitTimeout(t *testing.T) {
	l := startedLoop(t)

	err := l.RunAndWait(func() { time.Sleep(500 * time.Millisecond) }, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestRunAndWaitNotRunning(t *testing.T) {
	l := NewLoop("", "")
	if err := l.RunAndWait(func() {}, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("before start: err = %v, want ErrNotRunning", err)
	}

	l.Start()
	l.Stop()
	if err := l.RunAndWait(func() {}, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("after stop: err = %v, want ErrNotRunning", err)
	}
}

func TestCallToolUnknown(t *testing.T) {
	l := startedLoop(t)

	res := l.CallTool("nowhere:nothing", nil)
	if !strings.Contains(res.Error, "not found") {
		t.Fatalf("error = %q, want a not-found error", res.Error)
	}
}

func TestInitializeServers(t *testing.T) {
	script := writeStub(t, `      printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"done"}]}}\n' "$id"`)
	l := startedLoop(t)

	servers := []config.ServerConfig{
		{Name: "stub", Command: "/bin/sh", Args: []string{script}},
		{Name: "skipped", Command: "/bin/sh", Args: []string{script}, Disabled: true},
		{Name: "broken", Command: "definitely-not-a-real-binary-xyz"},
	}
	ok, err := l.InitializeServers(servers)
	if err != nil {
		t.Fatalf("InitializeServers: %v", err)
	}
	if ok != 1 {
		t.Fatalf("got %d ready servers, want 1", ok)
	}

	tools := l.Tools()
	if len(tools) != 1 || tools[0].QualifiedName() != "stub:call_aws" {
		t.Fatalf("catalog = %+v", tools)
	}
	if _, found := l.Lookup("stub:call_aws"); !found {
		t.Error("Lookup missed registered tool")
	}

	status := l.ServerStatus()
	if !status["stub"] {
		t.Error("stub not reported alive")
	}
	if _, present := status["broken"]; present {
		t.Error("broken server should not be registered")
	}

	res := l.CallTool("stub:call_aws", map[string]any{"cli_command": "aws s3 ls"})
	if res.Error != "" {
		t.Fatalf("call error: %s", res.Error)
	}
}

func TestConcurrentCallsSerialized(t *testing.T) {
	script := writeStub(t, `      printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"done"}]}}\n' "$id"`)
	l := startedLoop(t)

	if _, err := l.InitializeServers([]config.ServerConfig{
		{Name: "stub", Command: "/bin/sh", Args: []string{script}},
	}); err != nil {
		t.Fatalf("InitializeServers: %v", err)
	}

	// Interleaved writes on the subprocess's stdin would corrupt the
	// stub's line parsing and surface as timeouts or decode errors.
	const callers = 8
	errs := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res := l.CallTool("stub:call_aws", map[string]any{
				"cli_command": fmt.Sprintf("aws s3 ls bucket-%d", n),
			})
			errs <- res.Error
		}(i)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		if e != "" {
			t.Errorf("concurrent call failed: %s", e)
		}
	}
}

func TestStopShutsDownServers(t *testing.T) {
	script := writeStub(t, `      printf '{"jsonrpc":"2.0","id":%s,"result":{}}\n' "$id"`)
	l := NewLoop("", "")
	l.clientHook = func(c *Client) {
		c.HandshakeTimeout = 5 * time.Second
		c.ListTimeout = 5 * time.Second
	}
	l.Start()

	if _, err := l.InitializeServers([]config.ServerConfig{
		{Name: "stub", Command: "/bin/sh", Args: []string{script}},
	}); err != nil {
		t.Fatalf("InitializeServers: %v", err)
	}

	l.Stop()
	if len(l.Tools()) != 0 {
		t.Error("catalog not cleared on stop")
	}
	if len(l.ServerStatus()) != 0 {
		t.Error("server registry not cleared on stop")
	}
	l.Stop()
}
