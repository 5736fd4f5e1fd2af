package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/protocol"
)

const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultListTimeout      = 15 * time.Second
	DefaultCallTimeout      = 30 * time.Second
	DefaultNotifyTimeout    = 10 * time.Second

	shutdownGrace = 2 * time.Second

	protocolVersion = "2024-11-05"
	clientName      = "cloudchat"
	clientVersion   = "1.0.0"
)

// State tracks a client's position in its lifecycle.
type State int

const (
	StateLaunching State = iota
	StateHandshaking
	StateListingTools
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateHandshaking:
		return "handshaking"
	case StateListingTools:
		return "listing-tools"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LaunchError means the tool-server executable could not be found or spawned.
type LaunchError struct {
	Server string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch server %s: %v", e.Server, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// HandshakeError means the server process started but never completed the
// initialize exchange.
type HandshakeError struct {
	Server string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with server %s: %v", e.Server, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// CallResult is the outcome of one tool call. Exactly one of Result or
// Error is set; every expected failure mode surfaces as Error rather than
// escaping the client.
type CallResult struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client manages exactly one tool-server subprocess and its line-protocol
// conversation. All methods except construction must run on the isolated
// loop; the Loop enforces that.
type Client struct {
	name  string
	state State

	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string

	nextID int64
	tools  []protocol.ToolDescriptor

	HandshakeTimeout time.Duration
	ListTimeout      time.Duration
	CallTimeout      time.Duration
	NotifyTimeout    time.Duration
}

func NewClient(serverName string) *Client {
	return &Client{
		name:             serverName,
		state:            StateLaunching,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ListTimeout:      DefaultListTimeout,
		CallTimeout:      DefaultCallTimeout,
		NotifyTimeout:    DefaultNotifyTimeout,
	}
}

func (c *Client) Name() string { return c.name }
func (c *Client) State() State { return c.state }
func (c *Client) Ready() bool { return c.state == StateReady }

// Tools returns the descriptors discovered by ListTools.
func (c *Client) Tools() []protocol.ToolDescriptor { return c.tools }

// Launch spawns the subprocess with the given argument vector and the
// computed environment overlay.
func (c *Client) Launch(command string, args []string, env []string, workingDir string) error {
	path, err := exec.LookPath(command)
	if err != nil {
		c.state = StateClosed
		return &LaunchError{Server: c.name, Err: err}
	}

	cmd := exec.Command(path, args...)
	cmd.Env = env
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.state = StateClosed
		return &LaunchError{Server: c.name, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.state = StateClosed
		return &LaunchError{Server: c.name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.state = StateClosed
		return &LaunchError{Server: c.name, Err: err}
	}

	if err := cmd.Start(); err != nil {
		c.state = StateClosed
		return &LaunchError{Server: c.name, Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.lines = make(chan string, 16)

	go c.readLines(stdout)
	go c.drainStderr(stderr)

	log.Printf("[mcp] %s: launched %s (pid %d), aws vars: %v",
		c.name, command, cmd.Process.Pid, awsVarsPresent(env))

	c.state = StateHandshaking
	return nil
}

// readLines pumps stdout lines into the lines channel until EOF.
func (c *Client) readLines(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.lines <- line
	}
	close(c.lines)
}

func (c *Client) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Printf("[mcp] %s stderr: %s", c.name, scanner.Text())
	}
}

func (c *Client) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to %s: %w", c.name, err)
	}
	return nil
}

// readMessage waits for the next protocol line up to the deadline. A
// malformed line is returned as an error; a closed stream or deadline
// expiry likewise.
func (c *Client) readMessage(deadline time.Time) (*protocol.Message, error) {
	wait := time.Until(deadline)
	if wait <= 0 {
		return nil, fmt.Errorf("read timeout")
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case line, ok := <-c.lines:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		var m protocol.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("JSON decode error: %w", err)
		}
		return &m, nil
	case <-timer.C:
		return nil, fmt.Errorf("read timeout")
	}
}

// Handshake performs the versioned initialize exchange and, on success,
// sends the initialized notification.
func (c *Client) Handshake() error {
	c.state = StateHandshaking

	c.nextID++
	req := protocol.NewRequest(c.nextID, "initialize", protocol.InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      protocol.ClientInfo{Name: clientName, Version: clientVersion},
	})
	if err := c.writeLine(req); err != nil {
		return &HandshakeError{Server: c.name, Err: err}
	}

	msg, err := c.readMessage(time.Now().Add(c.HandshakeTimeout))
	if err != nil {
		return &HandshakeError{Server: c.name, Err: err}
	}
	if msg.Error != nil {
		return &HandshakeError{Server: c.name, Err: fmt.Errorf("server error: %s", msg.Error.Message)}
	}

	if err := c.writeLine(protocol.NewNotification("notifications/initialized", nil)); err != nil {
		return &HandshakeError{Server: c.name, Err: err}
	}

	log.Printf("[mcp] %s: handshake complete", c.name)
	c.state = StateListingTools
	return nil
}

// ListTools asks the server for its tool definitions and records them
// tagged with the server name. A malformed response is fail-soft: it is
// logged and yields zero tools, never an error, so one broken server cannot
// abort initialization of the rest.
func (c *Client) ListTools() []protocol.ToolDescriptor {
	c.state = StateListingTools

	c.nextID++
	id := c.nextID
	if err := c.writeLine(protocol.NewRequest(id, "tools/list", nil)); err != nil {
		log.Printf("[mcp] %s: tools/list write failed: %v", c.name, err)
		c.state = StateReady
		return nil
	}

	deadline := time.Now().Add(c.ListTimeout)
	for {
		msg, err := c.readMessage(deadline)
		if err != nil {
			log.Printf("[mcp] %s: tools/list failed: %v", c.name, err)
			break
		}
		if msg.IsNotification() {
			continue
		}
		if !msg.IsResponseTo(id) {
			continue
		}
		if msg.Error != nil {
			log.Printf("[mcp] %s: tools/list error: %s", c.name, msg.Error.Message)
			break
		}

		var result protocol.ToolListResult
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			log.Printf("[mcp] %s: malformed tool list: %v", c.name, err)
			break
		}

		tools := make([]protocol.ToolDescriptor, 0, len(result.Tools))
		for _, def := range result.Tools {
			tools = append(tools, protocol.ToolDescriptor{
				Name:        def.Name,
				Description: def.Description,
				InputSchema: protocol.ParseSchema(def.InputSchema),
				ServerName:  c.name,
			})
		}
		c.tools = tools
		log.Printf("[mcp] %s: %d tools discovered", c.name, len(tools))
		break
	}

	c.state = StateReady
	return c.tools
}

// CallTool issues one tools/call exchange. Out-of-band notification lines
// are tolerated: a log-level error notification resolves the call with that
// error, anything else is skipped, and after the first skipped notification
// the remaining wait shrinks to the secondary timeout. Expected failures
// (timeout, bad JSON, explicit error field, closed stream) come back inside
// the CallResult; the server stays Ready for subsequent calls.
func (c *Client) CallTool(toolName string, arguments map[string]any) CallResult {
	if c.state != StateReady {
		return CallResult{Error: fmt.Sprintf("server %s not available (%s)", c.name, c.state)}
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	c.nextID++
	id := c.nextID
	req := protocol.NewRequest(id, "tools/call", protocol.CallParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err := c.writeLine(req); err != nil {
		return CallResult{Error: err.Error()}
	}

	deadline := time.Now().Add(c.CallTimeout)
	for {
		msg, err := c.readMessage(deadline)
		if err != nil {
			if strings.Contains(err.Error(), "read timeout") {
				log.Printf("[mcp] %s: tool call timeout for %s", c.name, toolName)
				return CallResult{Error: "Tool call timeout"}
			}
			return CallResult{Error: err.Error()}
		}

		if msg.IsNotification() {
			if res, resolved := c.handleNotification(msg); resolved {
				return res
			}
			// Keep reading, but do not wait out the full primary timeout
			// behind a chatty server.
			if remaining := time.Until(deadline); remaining > c.NotifyTimeout {
				deadline = time.Now().Add(c.NotifyTimeout)
			}
			continue
		}

		if !msg.IsResponseTo(id) {
			log.Printf("[mcp] %s: skipping response with unmatched id", c.name)
			continue
		}

		if msg.Error != nil {
			return CallResult{Error: msg.Error.Message}
		}
		if len(msg.Result) > 0 {
			var result any
			if err := json.Unmarshal(msg.Result, &result); err != nil {
				return CallResult{Error: fmt.Sprintf("JSON decode error: %v", err)}
			}
			return CallResult{Result: result}
		}
		return CallResult{Error: "Invalid response format"}
	}
}

// handleNotification inspects an out-of-band line received mid-call. An
// error-level notifications/message resolves the call; everything else is
// skipped.
func (c *Client) handleNotification(msg *protocol.Message) (CallResult, bool) {
	if msg.Method != "notifications/message" {
		return CallResult{}, false
	}
	var params protocol.LogParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Level == "" {
		return CallResult{}, false
	}
	data := strings.Trim(string(params.Data), `"`)
	if params.Level == "error" {
		if reason := validationFailureReason(data); reason != "" {
			return CallResult{Error: "AWS CLI validation error: " + reason}, true
		}
		return CallResult{Error: "Server error: " + data}, true
	}
	log.Printf("[mcp] %s notification (%s): %s", c.name, params.Level, truncate(data, 200))
	return CallResult{}, false
}

// validationFailureReason extracts the first failure reason from a
// validation_failures payload embedded in a notification, when present.
func validationFailureReason(data string) string {
	if !strings.Contains(data, "validation_failures") {
		return ""
	}
	var payload struct {
		ValidationFailures []struct {
			Reason string `json:"reason"`
		} `json:"validation_failures"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return ""
	}
	if len(payload.ValidationFailures) == 0 {
		return ""
	}
	return payload.ValidationFailures[0].Reason
}

// Shutdown closes the input stream, asks the process to terminate, and
// force-kills it after a short grace period. A process that already exited
// is fine.
func (c *Client) Shutdown() {
	if c.state == StateClosed {
		return
	}
	c.state = StateShuttingDown

	if c.stdin != nil {
		_ = c.stdin.Close()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			_ = c.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			_ = c.cmd.Process.Kill()
			<-done
		}
	}

	// The dead process's stdout is at EOF, but readLines may still be
	// blocked sending undelivered lines. Drain until it closes the channel.
	if c.lines != nil {
		for range c.lines {
		}
	}

	c.state = StateClosed
	log.Printf("[mcp] %s: shut down", c.name)
}

func awsVarsPresent(env []string) []string {
	present := make([]string, 0, len(awsPassthrough))
	for _, name := range awsPassthrough {
		for _, kv := range env {
			if strings.HasPrefix(kv, name+"=") {
				present = append(present, name)
				break
			}
		}
	}
	return present
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
