// Command omniask is the interactive terminal frontend. One question
// fans out to every provider at once, with each answer streaming into
// its own panel. From there you can zoom into a single provider for a
// focused multi-turn conversation.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nirmal91/omni-ask/internal/adapter/recorder"
	"github.com/nirmal91/omni-ask/internal/client"
	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
	"github.com/nirmal91/omni-ask/internal/infra/logger"
	"github.com/nirmal91/omni-ask/internal/usecase"
)

var (
	labelStyles = map[domain.Provider]lipgloss.Style{
		domain.ProviderChatGPT:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		domain.ProviderClaude:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")),
		domain.ProviderGemini:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		domain.ProviderPerplexity: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("135")),
	}
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`omniask - ask every provider at once

USAGE:
    omniask [FLAGS]

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./config.yaml)
    --mock           Use simulated answers, no relay or network needed

COMMANDS (inside the prompt):
    <question>         Fan the question out to all providers
    /zoom <provider>   Focused conversation with one provider
    /retry <provider>  Retry a single provider's answer
    /back              Leave focused mode
    /quit              Exit

CONFIGURATION:
    Config file: ./config.yaml
    Environment: OMNIASK_* variables override config`)
}

type cliFlags struct {
	ConfigPath string
	Mock       bool
}

func parseFlags() cliFlags {
	flags := cliFlags{ConfigPath: "config.yaml"}
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			flags.ConfigPath = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--config="):
			flags.ConfigPath = strings.TrimPrefix(os.Args[i], "--config=")
		case os.Args[i] == "--mock":
			flags.Mock = true
		}
	}
	return flags
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flags.Mock {
		cfg.Client.Mock = true
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	var opener client.Opener
	if cfg.Client.Mock {
		opener = client.NewSimulated(cfg.Client.ThinkDelay, cfg.Client.TokenDelay)
	} else {
		opener = client.NewHTTP(cfg.Client)
	}

	var rec domain.ConversationRecorder
	if cfg.Recorder.Path != "" {
		sqlRec, err := recorder.OpenSQLite(cfg.Recorder.Path)
		if err != nil {
			return fmt.Errorf("recorder: %w", err)
		}
		defer sqlRec.Close()
		rec = sqlRec
	} else {
		rec = recorder.NewMemory()
	}

	orch := usecase.NewOrchestrator(opener, rec, log)
	ui := &cli{
		orch:   orch,
		opener: opener,
		rec:    rec,
		stdin:  bufio.NewScanner(os.Stdin),
	}
	return ui.loop(context.Background())
}

// cli drives the read-eval-render loop. focused is non-nil while zoomed
// into a single provider.
type cli struct {
	orch    *usecase.Orchestrator
	opener  client.Opener
	rec     domain.ConversationRecorder
	stdin   *bufio.Scanner
	focused *usecase.FocusedSession
}

func (c *cli) loop(ctx context.Context) error {
	fmt.Println(faintStyle.Render("Ask a question to fan it out to every provider. /quit to exit."))
	for {
		fmt.Print(c.prompt())
		if !c.stdin.Scan() {
			return c.stdin.Err()
		}
		line := strings.TrimSpace(c.stdin.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/back":
			c.focused = nil
			fmt.Println(faintStyle.Render("back to fan-out mode"))
		case strings.HasPrefix(line, "/zoom"):
			c.zoom(strings.TrimSpace(strings.TrimPrefix(line, "/zoom")))
		case strings.HasPrefix(line, "/retry"):
			c.retry(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/retry")))
		case strings.HasPrefix(line, "/"):
			fmt.Println(errorStyle.Render("unknown command: " + line))
		case c.focused != nil:
			c.askFocused(ctx, line)
		default:
			c.fanOut(ctx, line)
		}
	}
}

func (c *cli) prompt() string {
	if c.focused != nil {
		return promptStyle.Render(c.focused.Provider().String()+" > ") + " "
	}
	return promptStyle.Render(">") + " "
}

func (c *cli) fanOut(ctx context.Context, question string) {
	if err := c.orch.Submit(ctx, question); err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	c.renderFanOut(ctx)
}

func (c *cli) retry(ctx context.Context, arg string) {
	if c.focused != nil {
		if err := c.focused.Retry(ctx); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			return
		}
		c.renderFocused(ctx)
		return
	}
	provider, err := domain.ParseProvider(arg)
	if err != nil {
		fmt.Println(errorStyle.Render("usage: /retry <chatgpt|claude|gemini|perplexity>"))
		return
	}
	if err := c.orch.RetryOne(ctx, provider); err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	c.renderFanOut(ctx)
}

func (c *cli) zoom(arg string) {
	provider, err := domain.ParseProvider(arg)
	if err != nil {
		fmt.Println(errorStyle.Render("usage: /zoom <chatgpt|claude|gemini|perplexity>"))
		return
	}
	view, ok := c.orch.View(provider)
	if !ok || view.Phase != usecase.PhaseComplete || view.Failed() {
		fmt.Println(errorStyle.Render("no completed answer from " + provider.String() + " to zoom into"))
		return
	}
	c.focused = usecase.NewFocusedSession(c.opener, c.rec, nil, provider, c.orch.Question(), view.Text)
	fmt.Println(faintStyle.Render("zoomed into " + provider.String() + "; ask follow-ups, /back to leave"))
}

// renderFanOut repaints the four panels until every stream settles. A
// short wait timeout keeps the paint loop ticking while chunks arrive.
func (c *cli) renderFanOut(ctx context.Context) {
	for {
		fmt.Print("\x1b[2J\x1b[H")
		fmt.Println(c.renderSnapshot())
		tickCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
		err := c.orch.WaitDone(tickCtx)
		cancel()
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	fmt.Print("\x1b[2J\x1b[H")
	fmt.Println(c.renderSnapshot())
}

func (c *cli) renderSnapshot() string {
	snapshot := c.orch.Snapshot()
	providers := make([]domain.Provider, 0, len(snapshot))
	for p := range snapshot {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	panels := make([]string, 0, len(providers))
	for _, p := range providers {
		view := snapshot[p]
		body := view.Text
		switch {
		case view.Failed():
			body = errorStyle.Render(view.ErrMsg)
		case view.Phase == usecase.PhaseStreaming && body == "":
			body = faintStyle.Render("thinking...")
		case view.Phase == usecase.PhaseStreaming:
			body += faintStyle.Render(" ▌")
		}
		panels = append(panels, panelStyle.Render(labelStyles[p].Render(p.String())+"\n"+body))
	}
	return lipgloss.JoinVertical(lipgloss.Left, panels...)
}

func (c *cli) askFocused(ctx context.Context, question string) {
	if err := c.focused.Ask(ctx, question); err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	c.renderFocused(ctx)
}

// renderFocused repaints the focused transcript until the pending answer
// settles.
func (c *cli) renderFocused(ctx context.Context) {
	for {
		fmt.Print("\x1b[2J\x1b[H")
		fmt.Println(c.renderTranscript())
		tickCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
		err := c.focused.WaitDone(tickCtx)
		cancel()
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	fmt.Print("\x1b[2J\x1b[H")
	fmt.Println(c.renderTranscript())
}

func (c *cli) renderTranscript() string {
	label := labelStyles[c.focused.Provider()].Render(c.focused.Provider().String())
	parts := []string{label}
	for _, turn := range c.focused.Turns() {
		if turn.Role == domain.RoleUser {
			parts = append(parts, promptStyle.Render("you: ")+turn.Content)
			continue
		}
		body := turn.Content
		if body == "" {
			body = faintStyle.Render("thinking...")
		}
		parts = append(parts, panelStyle.Render(body))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
