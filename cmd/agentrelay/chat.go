package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/confirm"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/orchestrator"
)

const chatHelp = `Commands:
  /agents        list agents
  /agent NAME    switch the active agent
  /turns         list turns of this conversation
  /jump N        rewind to just before turn N
  /new           start a new conversation
  /cancel        stop the running turn
  /quit          leave
Confirmations are answered with y (yes), a (all, for the rest of the conversation) or n (no).`

func newChatCmd(a *app) *cobra.Command {
	var (
		agentName   string
		resume      string
		autoApprove []string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := a.relay(ctx, func(cfg *config.Config) {
				if agentName != "" {
					cfg.ActiveAgent = agentName
				}
				cfg.Orchestrator.AutoApprove = append(cfg.Orchestrator.AutoApprove, autoApprove...)
			})
			if err != nil {
				return err
			}
			defer r.Close()

			if resume != "" {
				if err := r.Orchestrator().LoadConversation(ctx, resume); err != nil {
					return err
				}
			}

			s := newChatSession(r, cmd.InOrStdin(), cmd.OutOrStdout())
			s.verbose = verbose
			return s.run(ctx)
		},
	}

	cmd.Flags().StringVar(&agentName, "agent", "", "agent to start with")
	cmd.Flags().StringVar(&resume, "resume", "", "continue a stored conversation by id")
	cmd.Flags().StringSliceVar(&autoApprove, "auto-approve", nil, "tools that run without confirmation")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show thinking and memory events")
	return cmd
}

// chatSession is the interactive loop. Lines typed while a turn runs are
// queued, except confirmation answers and /cancel.
type chatSession struct {
	relay   *agentrelay.Relay
	orch    *orchestrator.Orchestrator
	in      io.Reader
	out     io.Writer
	verbose bool

	done    chan error
	pending []uint64
	queued  []string
	eof     bool

	user, agent, tool, ok, warn, fail, dim *color.Color
}

func newChatSession(r *agentrelay.Relay, in io.Reader, out io.Writer) *chatSession {
	return &chatSession{
		relay: r,
		orch:  r.Orchestrator(),
		in:    in,
		out:   out,
		user:  color.New(color.FgCyan, color.Bold),
		agent: color.New(color.FgMagenta, color.Bold),
		tool:  color.New(color.FgYellow),
		ok:    color.New(color.FgGreen),
		warn:  color.New(color.FgYellow, color.Bold),
		fail:  color.New(color.FgRed),
		dim:   color.New(color.FgHiBlack),
	}
}

func (s *chatSession) readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (s *chatSession) run(ctx context.Context) error {
	events, _ := s.relay.Bus().Subscribe(ctx)
	lines := s.readLines(ctx)

	fmt.Fprintln(s.out, s.dim.Sprint("Type /help for commands."))
	s.prompt()

	for {
		for len(s.queued) > 0 && s.accepts(s.queued[0]) {
			line := s.queued[0]
			s.queued = s.queued[1:]
			if s.handle(ctx, line) {
				return s.shutdown()
			}
		}

		if s.eof && len(s.queued) == 0 {
			if s.done == nil {
				return nil
			}
			if len(s.pending) > 0 {
				// Nobody is left to answer.
				s.orch.Cancel()
			}
		}

		select {
		case <-ctx.Done():
			return s.shutdown()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.render(ev)

		case err := <-s.done:
			s.drain(events)
			s.done = nil
			s.pending = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				s.fail.Fprintf(s.out, "error: %v\n", err)
			}
			s.prompt()

		case line, ok := <-lines:
			if !ok {
				s.eof = true
				lines = nil
				continue
			}
			s.queued = append(s.queued, line)
		}
	}
}

// accepts reports whether line can be handled now.
func (s *chatSession) accepts(line string) bool {
	if s.done == nil || len(s.pending) > 0 {
		return true
	}
	cmd := strings.Fields(strings.TrimSpace(line))
	return len(cmd) > 0 && (cmd[0] == "/cancel" || cmd[0] == "/quit" || cmd[0] == "/exit")
}

// handle processes one line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	if len(s.pending) > 0 && !strings.HasPrefix(line, "/") {
		d, err := confirm.ParseDecision(line)
		if err != nil {
			s.warn.Fprint(s.out, "answer y, a or n: ")
			return false
		}
		id := s.pending[0]
		s.pending = s.pending[1:]
		s.orch.Resolve(id, d)
		return false
	}

	if line == "" {
		if s.done == nil {
			s.prompt()
		}
		return false
	}

	if strings.HasPrefix(line, "/") {
		return s.command(ctx, line)
	}

	done := make(chan error, 1)
	s.done = done
	go func() { done <- s.orch.ProcessTurn(ctx, orchestrator.Input{Text: line}) }()
	return false
}

// command runs a slash command and reports whether the session should end.
func (s *chatSession) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	var err error
	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
	case "/cancel":
		s.orch.Cancel()
	case "/agents":
		s.listAgents()
	case "/agent":
		if len(args) != 1 {
			err = errors.New("usage: /agent NAME")
			break
		}
		err = s.orch.SelectAgent(ctx, args[0])
	case "/turns":
		s.listTurns()
	case "/jump":
		var n int
		if len(args) == 1 {
			n, err = strconv.Atoi(args[0])
		}
		if len(args) != 1 || err != nil {
			err = errors.New("usage: /jump N")
			break
		}
		_, err = s.orch.Jump(ctx, n)
	case "/new":
		err = s.orch.NewConversation(ctx)
		if err == nil {
			fmt.Fprintln(s.out, s.dim.Sprint("started a new conversation"))
		}
	default:
		err = fmt.Errorf("unknown command %s (try /help)", name)
	}

	if err != nil {
		s.fail.Fprintln(s.out, err)
	}
	if s.done == nil {
		s.prompt()
	}
	return false
}

func (s *chatSession) listAgents() {
	active := ""
	if a := s.relay.Registry().Active(); a != nil {
		active = a.Name()
	}
	for _, a := range s.relay.Registry().Agents() {
		marker := "  "
		if a.Name() == active {
			marker = "* "
		}
		fmt.Fprintf(s.out, "%s%s  %s\n", marker, s.agent.Sprint(a.Name()), a.Description())
		if tools := a.ToolNames(); len(tools) > 0 {
			fmt.Fprintf(s.out, "    %s\n", s.dim.Sprint("tools: "+strings.Join(tools, ", ")))
		}
	}
}

func (s *chatSession) listTurns() {
	turns := s.orch.Turns()
	if len(turns) == 0 {
		fmt.Fprintln(s.out, s.dim.Sprint("no turns yet"))
		return
	}
	for i, t := range turns {
		fmt.Fprintf(s.out, "%3d  %-12s %s\n", i+1, t.Agent, t.UserInputPreview)
	}
}

func (s *chatSession) prompt() {
	name := "?"
	if a := s.relay.Registry().Active(); a != nil {
		name = a.Name()
	}
	s.user.Fprintf(s.out, "you → %s> ", name)
}

// drain renders events that were published before the turn finished.
func (s *chatSession) drain(events <-chan core.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.render(ev)
		default:
			return
		}
	}
}

func (s *chatSession) render(ev core.Event) {
	switch ev.Type {
	case core.EventUserMessageCreated:
		s.agent.Fprintf(s.out, "%s: ", ev.Agent)
	case core.EventThinkingChunk:
		if s.verbose {
			s.dim.Fprint(s.out, ev.Delta)
		}
	case core.EventThinkingCompleted:
		if s.verbose {
			fmt.Fprintln(s.out)
		}
	case core.EventResponseChunk:
		fmt.Fprint(s.out, ev.Delta)
	case core.EventResponseCompleted:
		if ev.Text != "" {
			fmt.Fprintln(s.out)
		}
	case core.EventToolUse:
		s.tool.Fprintf(s.out, "→ %s %s\n", ev.ToolName, formatInput(ev.ToolInput))
	case core.EventToolConfirmation:
		s.pending = append(s.pending, ev.RequestID)
		s.warn.Fprintf(s.out, "Allow %s to run %s? [y]es/[a]ll/[n]o: ", ev.Agent, ev.ToolName)
	case core.EventToolResult:
		s.ok.Fprintf(s.out, "✓ %s: %s\n", ev.ToolName, truncate(ev.Result, 200))
	case core.EventToolError:
		s.fail.Fprintf(s.out, "✗ %s: %s\n", ev.ToolName, truncate(ev.Result, 200))
	case core.EventToolDenied:
		s.warn.Fprintf(s.out, "✗ %s denied\n", ev.ToolName)
	case core.EventAgentChanged:
		fmt.Fprintln(s.out, s.dim.Sprintf("[%s is now active]", ev.To))
	case core.EventAgentChangedByTransfer:
		fmt.Fprintln(s.out, s.dim.Sprintf("[%s → %s: %s]", ev.From, ev.To, ev.Text))
		s.agent.Fprintf(s.out, "%s: ", ev.To)
	case core.EventJumpPerformed:
		fmt.Fprintln(s.out, s.dim.Sprintf("[rewound to before turn %d: %s]", ev.Turn, ev.Text))
	case core.EventConsolidationCompleted:
		if s.verbose {
			fmt.Fprintln(s.out, s.dim.Sprintf("[memory stored: %d records]", len(ev.MemoryIDs)))
		}
	case core.EventError:
		s.fail.Fprintf(s.out, "\n%s\n", ev.Text)
	}
}

func (s *chatSession) shutdown() error {
	if s.done != nil {
		s.orch.Cancel()
		<-s.done
		s.done = nil
	}
	fmt.Fprintln(s.out)
	return nil
}

func formatInput(in map[string]any) string {
	if len(in) == 0 {
		return ""
	}
	parts := make([]string, 0, len(in))
	for _, k := range slices.Sorted(maps.Keys(in)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, in[k]))
	}
	return truncate(strings.Join(parts, " "), 120)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
