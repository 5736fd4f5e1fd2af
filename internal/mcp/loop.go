package mcp

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/bridge"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/protocol"
)

var (
	// ErrTimeout means a submitted task did not finish in time. The task
	// keeps running on the loop; callers must not assume cancellation.
	ErrTimeout = errors.New("mcp: operation timed out")
	// ErrNotRunning means the loop has not been started or was stopped.
	ErrNotRunning = errors.New("mcp: isolated loop not running")
)

const (
	DefaultInitTimeout = 120 * time.Second
	DefaultCallWait    = 60 * time.Second
	stopJoinTimeout    = 5 * time.Second
)

// ServerRecord tracks one running tool-server subprocess and what it
// contributed to the catalog. Mutated only by loop tasks.
type ServerRecord struct {
	Name   string
	Client *Client
	Alive  bool
	Tools  []protocol.ToolDescriptor
}

// Loop is the isolated execution loop: one background goroutine through
// which every piece of subprocess I/O is funneled. Other goroutines only
// ever touch it through the submit-and-wait primitive, so the protocol
// clients never see concurrent access and writes to any one subprocess
// never interleave.
type Loop struct {
	region  string
	profile string

	mu      sync.Mutex
	running bool
	tasks   chan func()
	quit    chan struct{}
	done    chan struct{}

	// servers and catalog are written only from loop tasks; the snapshot
	// accessors take catMu so late readers never race a shutdown.
	catMu   sync.RWMutex
	servers map[string]*ServerRecord
	catalog map[string]protocol.ToolDescriptor

	InitTimeout time.Duration
	CallWait    time.Duration

	// clientHook lets tests shorten per-client protocol timeouts.
	clientHook func(*Client)
}

func NewLoop(region, profile string) *Loop {
	return &Loop{
		region:      region,
		profile:     profile,
		servers:     make(map[string]*ServerRecord),
		catalog:     make(map[string]protocol.ToolDescriptor),
		InitTimeout: DefaultInitTimeout,
		CallWait:    DefaultCallWait,
	}
}

// Start spins up the loop goroutine. Idempotent: a second call while
// running is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.tasks = make(chan func(), 16)
	l.quit = make(chan struct{})
	l.done = make(chan struct{})
	l.running = true

	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	log.Printf("[mcp] isolated loop started")
}

func (l *Loop) run(ready chan<- struct{}) {
	bridge.Enter()
	defer bridge.Leave()
	defer close(l.done)
	close(ready)

	for {
		select {
		case task := <-l.tasks:
			task()
		case <-l.quit:
			return
		}
	}
}

// RunAndWait schedules fn onto the loop goroutine and blocks the caller
// until it completes or timeout elapses. On expiry the task may still run
// later; only the wait is abandoned.
func (l *Loop) RunAndWait(fn func(), timeout time.Duration) error {
	l.mu.Lock()
	running := l.running
	tasks := l.tasks
	l.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case tasks <- wrapped:
	case <-timer.C:
		return ErrTimeout
	}

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// InitializeServers launches, handshakes, and catalogs each enabled server
// inside the loop. One server failing to come up is isolated: it is logged,
// torn down, and skipped. Returns the number of servers that reached Ready.
func (l *Loop) InitializeServers(servers []config.ServerConfig) (int, error) {
	ok := 0
	err := l.RunAndWait(func() {
		for _, sc := range servers {
			if sc.Disabled {
				continue
			}
			if l.initServer(sc) {
				ok++
			}
		}
	}, l.InitTimeout)
	if err != nil {
		return ok, err
	}
	log.Printf("[mcp] initialized %d/%d servers, %d tools", ok, len(servers), len(l.catalog))
	return ok, nil
}

// initServer runs on the loop goroutine.
func (l *Loop) initServer(sc config.ServerConfig) bool {
	log.Printf("[mcp] initializing server %s", sc.Name)

	client := NewClient(sc.Name)
	if l.clientHook != nil {
		l.clientHook(client)
	}

	env := BuildEnv(sc.Env, l.region, l.profile)
	if err := client.Launch(sc.Command, sc.Args, env, sc.WorkingDir); err != nil {
		log.Printf("[mcp] %v", err)
		return false
	}
	if err := client.Handshake(); err != nil {
		log.Printf("[mcp] %v", err)
		client.Shutdown()
		return false
	}
	tools := client.ListTools()

	record := &ServerRecord{
		Name:   sc.Name,
		Client: client,
		Alive:  true,
		Tools:  tools,
	}

	l.catMu.Lock()
	l.servers[sc.Name] = record
	for _, tool := range tools {
		l.catalog[tool.QualifiedName()] = tool
	}
	l.catMu.Unlock()
	return true
}

// CallTool dispatches one call to the owning server through the loop. The
// tool name is the qualified "server:tool" form; all failure modes come
// back inside the CallResult.
func (l *Loop) CallTool(name string, arguments map[string]any) CallResult {
	var res CallResult
	err := l.RunAndWait(func() {
		res = l.callTool(name, arguments)
	}, l.CallWait)
	if err != nil {
		return CallResult{Error: err.Error()}
	}
	return res
}

// callTool runs on the loop goroutine.
func (l *Loop) callTool(name string, arguments map[string]any) CallResult {
	tool, ok := l.catalog[name]
	if !ok {
		return CallResult{Error: "Tool " + name + " not found"}
	}
	record, ok := l.servers[tool.ServerName]
	if !ok || !record.Alive {
		return CallResult{Error: "Server " + tool.ServerName + " not available"}
	}
	return record.Client.CallTool(tool.Name, arguments)
}

// Tools returns a catalog snapshot sorted by qualified name. Safe from any
// goroutine once initialization has completed.
func (l *Loop) Tools() []protocol.ToolDescriptor {
	l.catMu.RLock()
	defer l.catMu.RUnlock()
	out := make([]protocol.ToolDescriptor, 0, len(l.catalog))
	for _, tool := range l.catalog {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out
}

// Lookup returns the descriptor registered under the qualified name.
func (l *Loop) Lookup(name string) (protocol.ToolDescriptor, bool) {
	l.catMu.RLock()
	defer l.catMu.RUnlock()
	tool, ok := l.catalog[name]
	return tool, ok
}

// ServerStatus reports liveness per server name.
func (l *Loop) ServerStatus() map[string]bool {
	l.catMu.RLock()
	defer l.catMu.RUnlock()
	out := make(map[string]bool, len(l.servers))
	for name, record := range l.servers {
		out[name] = record.Alive
	}
	return out
}

// Stop shuts every server down on the loop, then stops the loop goroutine
// and joins it with a bounded wait.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.RunAndWait(l.shutdownServers, 2*stopJoinTimeout); err != nil {
		log.Printf("[mcp] shutdown warning: %v", err)
	}

	l.mu.Lock()
	l.running = false
	close(l.quit)
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		log.Printf("[mcp] loop join timeout")
	}
	log.Printf("[mcp] isolated loop stopped")
}

// shutdownServers runs on the loop goroutine.
func (l *Loop) shutdownServers() {
	l.catMu.Lock()
	defer l.catMu.Unlock()
	for name, record := range l.servers {
		record.Client.Shutdown()
		record.Alive = false
		delete(l.servers, name)
	}
	l.catalog = make(map[string]protocol.ToolDescriptor)
}
