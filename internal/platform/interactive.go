package platform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arc-run/arc/internal/eventbus"
	"github.com/arc-run/arc/internal/notify"
	"github.com/arc-run/arc/internal/scheduler"
	"github.com/arc-run/arc/internal/security"
	"github.com/arc-run/arc/pkg/models"
)

// backgroundOnlyEvents are silenced in the main window when their
// Source isn't "main" — they belong to a background agent, observed
// instead through a separate tail file.
var backgroundOnlyEvents = map[string]struct{}{
	models.EventAgentThinking:   {},
	models.EventSkillToolCall:   {},
	models.EventSkillToolResult: {},
	models.EventLLMRequest:      {},
	models.EventLLMChunk:        {},
	models.EventLLMResponse:     {},
}

// Escalations is the subset of escalation.Bus the interactive platform
// needs, kept narrow to avoid a hard dependency on its concrete type.
type Escalations interface {
	ResolveEscalation(escalationID, answer string) bool
}

// SkillLister is the subset of skills.Manager the /skills command uses.
type SkillLister interface {
	RegisteredNames() []string
	ActivatedNames() []string
}

// MemoryEntry is one stored long-term memory record, as listed by the
// /memory command.
type MemoryEntry struct {
	ID      string
	Summary string
}

// MemoryStore is the subset of the long-term memory contract the
// /memory command needs.
type MemoryStore interface {
	List(ctx context.Context) ([]MemoryEntry, error)
	Delete(ctx context.Context, id string) error
}

// Interactive drives a single-threaded terminal chat loop over an
// Agent Loop: prompts, streams responses, surfaces approval and
// escalation prompts, and drains background-task notifications
// between turns.
type Interactive struct {
	name string

	run         Handler
	bus         *eventbus.Bus
	approvals   *security.ApprovalFlow
	escalations Escalations
	cli         *notify.CLIChannel
	skills      SkillLister
	jobs        scheduler.Store
	memory      MemoryStore

	in  *bufio.Reader
	out io.Writer

	stdinMu        sync.Mutex
	turnInProgress atomic.Bool

	logger *slog.Logger
}

// Option configures an Interactive platform.
type Option func(*Interactive)

func WithSkills(s SkillLister) Option   { return func(p *Interactive) { p.skills = s } }
func WithJobs(j scheduler.Store) Option { return func(p *Interactive) { p.jobs = j } }
func WithMemory(m MemoryStore) Option   { return func(p *Interactive) { p.memory = m } }
func WithLogger(l *slog.Logger) Option  { return func(p *Interactive) { p.logger = l } }

// New builds an Interactive platform. run drives one turn of
// conversation (an Agent Loop's Run method satisfies Handler).
func New(name string, run Handler, bus *eventbus.Bus, approvals *security.ApprovalFlow, escalations Escalations, cli *notify.CLIChannel, in io.Reader, out io.Writer, opts ...Option) *Interactive {
	p := &Interactive{
		name:        name,
		run:         run,
		bus:         bus,
		approvals:   approvals,
		escalations: escalations,
		cli:         cli,
		in:          bufio.NewReader(in),
		out:         out,
		logger:      slog.Default().With("component", "interactive"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stop satisfies internal/agents.Platform.
func (p *Interactive) Stop() {
	if p.cli != nil {
		p.cli.SetActive(false)
	}
}

// Run drives the prompt loop until ctx is cancelled or the user sends
// /exit. Returns nil on a clean exit (EOF or /exit).
func (p *Interactive) Run(ctx context.Context) error {
	if p.cli != nil {
		p.cli.SetActive(true)
		defer p.cli.SetActive(false)
	}

	var token eventbus.Token
	if p.bus != nil {
		token = p.bus.SubscribeToken("*", p.handleEvent)
		defer p.bus.UnsubscribeToken(token)
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go p.watch(watchCtx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Fprint(p.out, "> ")
		line, err := p.readLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if p.dispatchCommand(line) {
				return nil
			}
			continue
		}

		message := p.composeTurnMessage(line)
		p.runTurn(ctx, message)
	}
}

func (p *Interactive) readLine() (string, error) {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	return p.in.ReadString('\n')
}

// composeTurnMessage drains the CLI channel's pending queue (completed
// background tasks) and, if any were waiting, prefixes the user's
// message with an instruction to mention them plus one block per
// notification.
func (p *Interactive) composeTurnMessage(userMessage string) string {
	if p.cli == nil {
		return userMessage
	}

	var drained []models.Notification
drain:
	for {
		select {
		case n := <-p.cli.Queue():
			drained = append(drained, n)
		default:
			break drain
		}
	}
	if len(drained) == 0 {
		return userMessage
	}

	var b strings.Builder
	b.WriteString("The following background task(s) completed; mention key findings before responding.\n")
	for _, n := range drained {
		fmt.Fprintf(&b, "[Background task: %q completed at %s]\n%s\n", n.JobName, n.FiredAt.Format("15:04"), n.Content)
	}
	b.WriteString("\n---\nUser message: ")
	b.WriteString(userMessage)
	return b.String()
}

func (p *Interactive) runTurn(ctx context.Context, message string) {
	p.turnInProgress.Store(true)
	defer p.turnInProgress.Store(false)

	chunks, err := p.run(ctx, message)
	if err != nil {
		fmt.Fprintf(p.out, "[error: %v]\n", err)
		return
	}
	for chunk := range chunks {
		fmt.Fprint(p.out, chunk)
	}
	fmt.Fprintln(p.out)
}

// watch runs alongside Run, surfacing pending notifications as soon as
// the user goes idle between turns rather than waiting for their next
// message.
func (p *Interactive) watch(ctx context.Context) {
	if p.cli == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.turnInProgress.Load() {
				continue
			}
		drain:
			for {
				select {
				case n := <-p.cli.Queue():
					p.renderNotification(n)
				default:
					break drain
				}
			}
		}
	}
}

func (p *Interactive) renderNotification(n models.Notification) {
	fmt.Fprintf(p.out, "\n┌─ %s ─\n│ %s\n└─\n", n.JobName, strings.ReplaceAll(n.Content, "\n", "\n│ "))
}

func (p *Interactive) handleEvent(ctx context.Context, ev models.Event) error {
	if ev.Source != "main" {
		if _, silenced := backgroundOnlyEvents[ev.Type]; silenced {
			return nil
		}
	}

	switch ev.Type {
	case models.EventSecurityApproval:
		go p.promptApproval(ev)
	case models.EventAgentEscalation:
		go p.promptEscalation(ev)
	case models.EventAgentSpawned:
		fmt.Fprintf(p.out, "\n[spawned: %v]\n", ev.Data["task_name"])
	case models.EventAgentTaskComplete:
		fmt.Fprintf(p.out, "\n[task complete: %v]\n", ev.Data["task_name"])
	}
	return nil
}

func (p *Interactive) promptApproval(ev models.Event) {
	requestID, _ := ev.Data["request_id"].(string)
	toolName, _ := ev.Data["tool_name"].(string)

	p.stdinMu.Lock()
	fmt.Fprintf(p.out, "\napproval requested for %q — [1] allow once  [2] allow always  [3] deny  [4] deny always\n> ", toolName)
	line, _ := p.in.ReadString('\n')
	p.stdinMu.Unlock()

	resp := approvalResponseFromChoice(strings.TrimSpace(line))
	p.approvals.Resolve(requestID, resp)
}

func approvalResponseFromChoice(choice string) models.UserResponse {
	switch choice {
	case "2":
		return models.ResponseAllowAlways
	case "3":
		return models.ResponseDeny
	case "4":
		return models.ResponseDenyAlways
	default:
		return models.ResponseAllowOnce
	}
}

func (p *Interactive) promptEscalation(ev models.Event) {
	escalationID, _ := ev.Data["escalation_id"].(string)
	question, _ := ev.Data["question"].(string)

	p.stdinMu.Lock()
	fmt.Fprintf(p.out, "\nagent asks: %s\n> ", question)
	line, _ := p.in.ReadString('\n')
	p.stdinMu.Unlock()

	p.escalations.ResolveEscalation(escalationID, strings.TrimSpace(line))
}

// dispatchCommand handles a "/"-prefixed line and reports whether the
// platform should exit.
func (p *Interactive) dispatchCommand(line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Fprintln(p.out, "commands: /help /exit /skills /jobs [cancel <name>] /memory [delete <id>] /cost")
	case "/skills":
		p.cmdSkills()
	case "/jobs":
		p.cmdJobs(args)
	case "/memory":
		p.cmdMemory(args)
	case "/cost":
		fmt.Fprintln(p.out, "cost tracking is not configured for this session")
	default:
		fmt.Fprintf(p.out, "unknown command: %s (try /help)\n", cmd)
	}
	return false
}

func (p *Interactive) cmdSkills() {
	if p.skills == nil {
		fmt.Fprintln(p.out, "no skill manager configured")
		return
	}
	fmt.Fprintf(p.out, "registered: %s\n", strings.Join(p.skills.RegisteredNames(), ", "))
	fmt.Fprintf(p.out, "activated:  %s\n", strings.Join(p.skills.ActivatedNames(), ", "))
}

func (p *Interactive) cmdJobs(args []string) {
	if p.jobs == nil {
		fmt.Fprintln(p.out, "no scheduler configured")
		return
	}
	ctx := context.Background()
	if len(args) >= 2 && args[0] == "cancel" {
		nameOrID := args[1]
		job, ok, err := p.jobs.GetByName(ctx, nameOrID)
		if err != nil {
			fmt.Fprintf(p.out, "cancel failed: %v\n", err)
			return
		}
		if !ok {
			// Fall back to treating the argument as a job id.
			job, ok, err = p.jobs.Get(ctx, nameOrID)
			if err != nil {
				fmt.Fprintf(p.out, "cancel failed: %v\n", err)
				return
			}
		}
		if !ok {
			fmt.Fprintf(p.out, "no job found with name or id: %s\n", nameOrID)
			return
		}
		if err := p.jobs.Delete(ctx, job.ID); err != nil {
			fmt.Fprintf(p.out, "cancel failed: %v\n", err)
			return
		}
		fmt.Fprintf(p.out, "cancelled job %s (id=%s)\n", job.Name, job.ID)
		return
	}
	jobs, err := p.jobs.List(ctx)
	if err != nil {
		fmt.Fprintf(p.out, "list failed: %v\n", err)
		return
	}
	if len(jobs) == 0 {
		fmt.Fprintln(p.out, "no jobs scheduled")
		return
	}
	for _, j := range jobs {
		status := "inactive"
		if j.Active {
			status = "next run " + j.NextRun.Format(time.RFC3339)
		}
		fmt.Fprintf(p.out, "%s  %-20s  %s\n", j.ID, j.Name, status)
	}
}

func (p *Interactive) cmdMemory(args []string) {
	if p.memory == nil {
		fmt.Fprintln(p.out, "no memory store configured")
		return
	}
	ctx := context.Background()
	if len(args) >= 2 && args[0] == "delete" {
		if err := p.memory.Delete(ctx, args[1]); err != nil {
			fmt.Fprintf(p.out, "delete failed: %v\n", err)
			return
		}
		fmt.Fprintf(p.out, "deleted memory %s\n", args[1])
		return
	}
	entries, err := p.memory.List(ctx)
	if err != nil {
		fmt.Fprintf(p.out, "list failed: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(p.out, "no stored memories")
		return
	}
	for i, e := range entries {
		fmt.Fprintf(p.out, "%d. %s  %s\n", i+1, e.ID, e.Summary)
	}
}
