package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/agent"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/cron"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/gateway"
	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/protocol"
)

// Assistant is the agent surface the CLI needs (allows mocking in tests).
type Assistant interface {
	Initialize() error
	ProcessMessage(ctx context.Context, text string) string
	Tools() []protocol.ToolDescriptor
	Cleanup()
}

// AssistantFactory creates an Assistant instance.
type AssistantFactory func(cfg *config.Config) (Assistant, error)

// DefaultAssistantFactory creates the real agent.
func DefaultAssistantFactory(cfg *config.Config) (Assistant, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'cloudchat onboard' or set CLOUDCHAT_API_KEY / ANTHROPIC_API_KEY")
	}
	return agent.NewAgent(agent.Options{Config: cfg}), nil
}

// AgentOptions for running the agent command with custom dependencies.
type AgentOptions struct {
	AssistantFactory AssistantFactory
	Stdin            io.Reader
	Stdout           io.Writer
	Stderr           io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "cloudchat",
	Short: "cloudchat - conversational AWS assistant",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent in single message or REPL mode",
	RunE:  runAgent,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat UI",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + cron)",
	RunE:  runGateway,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Start the configured tool servers and list their tools",
	RunE:  runTools,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cloudchat status",
	RunE:  runStatus,
}

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCronList(cronStorePath(), os.Stdout)
	},
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled job",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCronAdd(cronStorePath(), os.Stdout)
	},
}

var cronRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCronRm(cronStorePath(), os.Stdout, args[0])
	},
}

var (
	messageFlag string

	cronNameFlag    string
	cronExprFlag    string
	cronEveryFlag   time.Duration
	cronAtFlag      string
	cronMessageFlag string
)

func init() {
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	cronAddCmd.Flags().StringVar(&cronNameFlag, "name", "", "Job name (defaults to the message)")
	cronAddCmd.Flags().StringVar(&cronExprFlag, "cron", "", "Cron expression with seconds, e.g. '0 0 9 * * *'")
	cronAddCmd.Flags().DurationVar(&cronEveryFlag, "every", 0, "Fixed interval, e.g. 30m")
	cronAddCmd.Flags().StringVar(&cronAtFlag, "at", "", "One-shot RFC3339 time, e.g. 2026-09-01T09:00:00Z")
	cronAddCmd.Flags().StringVar(&cronMessageFlag, "message", "", "Prompt to run through the agent")
	cronCmd.AddCommand(cronListCmd, cronAddCmd, cronRmCmd)
	rootCmd.AddCommand(agentCmd, chatCmd, gatewayCmd, toolsCmd, onboardCmd, statusCmd, cronCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runAgent is the command handler that uses default options
func runAgent(cmd *cobra.Command, args []string) error {
	return runAgentWithOptions(AgentOptions{})
}

// runAgentWithOptions runs the agent with injectable dependencies for testing
func runAgentWithOptions(opts AgentOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.AssistantFactory
	if factory == nil {
		factory = DefaultAssistantFactory
	}

	assistant, err := factory(cfg)
	if err != nil {
		return err
	}
	if err := assistant.Initialize(); err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}
	defer assistant.Cleanup()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		fmt.Fprintln(stdout, assistant.ProcessMessage(ctx, messageFlag))
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "cloudchat agent (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		fmt.Fprintln(stdout, assistant.ProcessMessage(ctx, input))
	}
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	assistant, err := DefaultAssistantFactory(cfg)
	if err != nil {
		return err
	}

	return runChatUI(cfg, assistant)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'cloudchat onboard' or set CLOUDCHAT_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runTools(cmd *cobra.Command, args []string) error {
	return runToolsWithOptions(AgentOptions{})
}

func runToolsWithOptions(opts AgentOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.AssistantFactory
	if factory == nil {
		factory = DefaultAssistantFactory
	}

	assistant, err := factory(cfg)
	if err != nil {
		return err
	}
	if err := assistant.Initialize(); err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}
	defer assistant.Cleanup()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	tools := assistant.Tools()
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].QualifiedName() < tools[j].QualifiedName()
	})
	if len(tools) == 0 {
		fmt.Fprintln(stdout, "No tools available (no servers came up)")
		return nil
	}
	for _, t := range tools {
		fmt.Fprintf(stdout, "%s\n    %s\n", t.QualifiedName(), firstLine(t.Description))
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set CLOUDCHAT_API_KEY environment variable")
	fmt.Println("  3. Make sure AWS credentials are configured (aws configure)")
	fmt.Println("  4. Run 'cloudchat agent -m \"list my s3 buckets\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("AWS Region: %s\n", cfg.AWS.Region)
	if cfg.AWS.Profile != "" {
		fmt.Printf("AWS Profile: %s\n", cfg.AWS.Profile)
	}
	for _, s := range cfg.Servers {
		state := "enabled"
		if s.Disabled {
			state = "disabled"
		}
		fmt.Printf("Server %s: %s (%s)\n", s.Name, state, s.Command)
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)

	return nil
}

// cronStorePath is the same store file the gateway's scheduler reads, so
// jobs added here are picked up on its next start.
func cronStorePath() string {
	return filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
}

func runCronList(storePath string, stdout io.Writer) error {
	svc := cron.NewService(storePath)
	if err := svc.Load(); err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	jobs := svc.ListJobs()
	if len(jobs) == 0 {
		fmt.Fprintln(stdout, "No jobs scheduled")
		return nil
	}
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(stdout, "%s  %s  %s  %s\n", j.ID, j.Name, scheduleDisplay(j.Schedule), state)
		if j.State.LastStatus != "" {
			fmt.Fprintf(stdout, "    last run: %s at %s\n", j.State.LastStatus,
				time.UnixMilli(j.State.LastRunAtMs).Format(time.RFC3339))
		}
	}
	return nil
}

func runCronAdd(storePath string, stdout io.Writer) error {
	if cronMessageFlag == "" {
		return fmt.Errorf("--message is required")
	}
	sched, err := parseScheduleFlags()
	if err != nil {
		return err
	}
	name := cronNameFlag
	if name == "" {
		name = firstLine(cronMessageFlag)
	}

	svc := cron.NewService(storePath)
	if err := svc.Load(); err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	job, err := svc.AddJob(name, sched, cron.Payload{Message: cronMessageFlag})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Added job %s (%s)\n", job.Name, job.ID)
	fmt.Fprintln(stdout, "Jobs run while 'cloudchat gateway' is up.")
	return nil
}

func runCronRm(storePath string, stdout io.Writer, id string) error {
	svc := cron.NewService(storePath)
	if err := svc.Load(); err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	if !svc.RemoveJob(id) {
		return fmt.Errorf("job %s not found", id)
	}
	fmt.Fprintf(stdout, "Removed job %s\n", id)
	return nil
}

func parseScheduleFlags() (cron.Schedule, error) {
	set := 0
	for _, on := range []bool{cronExprFlag != "", cronEveryFlag != 0, cronAtFlag != ""} {
		if on {
			set++
		}
	}
	if set != 1 {
		return cron.Schedule{}, fmt.Errorf("exactly one of --cron, --every or --at is required")
	}
	switch {
	case cronExprFlag != "":
		return cron.Schedule{Kind: "cron", Expr: cronExprFlag}, nil
	case cronEveryFlag != 0:
		return cron.Schedule{Kind: "every", EveryMs: cronEveryFlag.Milliseconds()}, nil
	default:
		at, err := time.Parse(time.RFC3339, cronAtFlag)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("parse --at time: %w", err)
		}
		return cron.Schedule{Kind: "at", AtMs: at.UnixMilli()}, nil
	}
}

func scheduleDisplay(s cron.Schedule) string {
	switch s.Kind {
	case "cron":
		return s.Expr
	case "every":
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case "at":
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	}
	return s.Kind
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return strings.TrimSpace(s)
}
