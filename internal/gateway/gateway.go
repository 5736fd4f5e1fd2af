// Package gateway wires the chat channels, the agent, and the scheduler
// bridge into one long-running process.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/agent"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/bridge"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/bus"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/channel"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/cron"
)

// replyTimeout bounds one full message round trip, tool calls included.
const replyTimeout = 120 * time.Second

// Assistant is the conversational surface the gateway drives. The
// concrete *agent.Agent satisfies it; tests inject mocks.
type Assistant interface {
	Initialize() error
	ProcessMessage(ctx context.Context, text string) string
	Cleanup()
}

// AgentFactory builds the Assistant at startup.
type AgentFactory func(cfg *config.Config) (Assistant, error)

// Options for creating a Gateway.
type Options struct {
	AgentFactory AgentFactory
	SignalChan   chan os.Signal // test hook for shutdown
}

func defaultAgentFactory(cfg *config.Config) (Assistant, error) {
	return agent.NewAgent(agent.Options{Config: cfg}), nil
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	assistant  Assistant
	channels   *channel.ChannelManager
	cron       *cron.Service
	runner     *bridge.Runner
	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		runner:     bridge.NewRunner(0),
		signalChan: opts.SignalChan,
	}

	factory := opts.AgentFactory
	if factory == nil {
		factory = defaultAgentFactory
	}
	assistant, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	if err := assistant.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize agent: %w", err)
	}
	g.assistant = assistant

	cronStorePath := filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = func(job cron.CronJob) (string, error) {
		result, err := g.reply(context.Background(), job.Payload.Message)
		if err != nil {
			return "", err
		}
		if job.Payload.Deliver && job.Payload.Channel != "" {
			g.bus.Outbound <- bus.OutboundMessage{
				Channel: job.Payload.Channel,
				ChatID:  job.Payload.To,
				Content: result,
			}
		}
		return result, nil
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway, g.bus)
	if err != nil {
		assistant.Cleanup()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

// reply runs one message through the agent via the scheduler bridge, so a
// caller already on the isolated loop never deadlocks it.
func (g *Gateway) reply(ctx context.Context, text string) (string, error) {
	out, err := g.runner.RunAsync(func() (any, error) {
		return g.assistant.ProcessMessage(ctx, text), nil
	}, replyTimeout)
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// Run starts every component and blocks until a shutdown signal.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			result, err := g.reply(ctx, msg.Content)
			if err != nil {
				log.Printf("[gateway] agent error: %v", err)
				result = "Sorry, the assistant is taking too long. Please try again."
			}
			if result == "" {
				continue
			}

			g.bus.Outbound <- bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: result,
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.assistant != nil {
		g.assistant.Cleanup()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
