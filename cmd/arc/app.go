package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arc-run/arc/internal/agent"
	"github.com/arc-run/arc/internal/agents"
	"github.com/arc-run/arc/internal/config"
	"github.com/arc-run/arc/internal/escalation"
	"github.com/arc-run/arc/internal/identity"
	"github.com/arc-run/arc/internal/kernel"
	"github.com/arc-run/arc/internal/llm"
	"github.com/arc-run/arc/internal/memory"
	"github.com/arc-run/arc/internal/notify"
	"github.com/arc-run/arc/internal/platform"
	"github.com/arc-run/arc/internal/scheduler"
	"github.com/arc-run/arc/internal/security"
	"github.com/arc-run/arc/internal/skills"
	"github.com/arc-run/arc/internal/worker"
	"github.com/arc-run/arc/pkg/models"
)

const schedulerJobTimeout = 300 * time.Second

// App is the composition root cmd/arc assembles on top of the kernel:
// every subsystem the Agent Loop, the worker delegation tools, and the
// scheduler need, wired with the app's concrete choices (a mock LLM
// provider, SQLite-backed stores, file/CLI/Telegram notification
// channels).
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	logFile *os.File

	kernel      *kernel.Kernel
	memoryStore *memory.Store
	skillMgr    *skills.Manager
	softSkills  *skills.SoftSkills
	security    *security.Engine
	approvals   *security.ApprovalFlow
	escalations *escalation.Bus
	registry    *agents.Registry
	schedStore  *scheduler.SQLiteStore
	sched       *scheduler.Scheduler
	router      *notify.Router
	cli         *notify.CLIChannel
	activity    *worker.ActivityLog
	journal     *eventJournal
	provider    llm.Provider

	identityText string
	mainLoop     *agent.Loop
	interactive  *platform.Interactive
}

// buildApp wires every subsystem around cfg. Nothing is started here —
// Start/Stop lifecycle is the caller's job (see RunChat/Shutdown), so a
// build that fails partway through never leaves background goroutines
// running.
func buildApp(cfg *config.Config) (*App, error) {
	logFile, logger, err := setupLogging(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &App{cfg: cfg, logger: logger, logFile: logFile}

	a.kernel = kernel.New(cfg, kernel.WithLogger(logger))

	identityText, err := identity.Load(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	a.identityText = identityText

	if cfg.Memory.Backend == "sqlite" {
		memPath, err := config.ExpandHome(cfg.Memory.Path)
		if err != nil {
			return nil, err
		}
		store, err := memory.Open(memPath)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		a.memoryStore = store
	}

	a.skillMgr = skills.New(skills.WithLogger(logger))

	softSkillsDir, err := config.ExpandHome("~/.arc/skills")
	if err != nil {
		return nil, err
	}
	a.softSkills = skills.NewSoftSkills(softSkillsDir, logger)
	if err := a.softSkills.Load(); err != nil {
		logger.Warn("soft skills: initial load failed", "error", err)
	}

	activityPath, err := config.ExpandHome(workerActivityLogPath(cfg))
	if err != nil {
		return nil, err
	}
	activity, err := worker.OpenActivityLog(activityPath)
	if err != nil {
		return nil, fmt.Errorf("open worker activity log: %w", err)
	}
	a.activity = activity
	a.activity.Watch(a.kernel.Bus)

	journalPath, err := config.ExpandHome(eventJournalPath(cfg))
	if err != nil {
		return nil, err
	}
	journal, err := newEventJournal(journalPath)
	if err != nil {
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	a.journal = journal
	a.kernel.Bus.Subscribe("*", a.journal.handle)

	a.escalations = escalation.New(a.kernel.Bus, 0)
	if err := a.skillMgr.Register(context.Background(), escalation.NewSkill(a.escalations), nil); err != nil {
		return nil, fmt.Errorf("register escalation skill: %w", err)
	}

	a.registry = agents.New()

	a.router = notify.New(notify.WithLogger(logger))
	notificationsPath, err := config.ExpandHome(notificationsLogPath(cfg))
	if err != nil {
		return nil, err
	}
	a.router.Register(notify.NewFileChannel(notificationsPath))
	a.cli = notify.NewCLIChannel(32)
	a.router.Register(a.cli)
	if cfg.Telegram.Configured() {
		tg, err := notify.NewTelegramChannel(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("build telegram channel: %w", err)
		}
		a.router.Register(tg)
	}

	workerSkill := worker.New(a.registry, a.runWorkerTask, a.router,
		worker.WithBus(a.kernel.Bus),
		worker.WithActivityLog(a.activity),
	)
	if err := a.skillMgr.Register(context.Background(), workerSkill, nil); err != nil {
		return nil, fmt.Errorf("register worker skill: %w", err)
	}

	a.approvals = security.NewApprovalFlow(a.kernel.Bus, time.Duration(cfg.Security.ApprovalTimeoutSeconds)*time.Second)
	policy := security.Policy{
		NeverAllow: toCapabilities(cfg.Security.NeverAllow),
		AutoAllow:  toCapabilities(cfg.Security.AutoAllow),
		AlwaysAsk:  toCapabilities(cfg.Security.AlwaysAsk),
	}
	secEngine, err := security.NewEngine(policy, a.approvals)
	if err != nil {
		return nil, err
	}
	a.security = secEngine

	a.provider = llm.NewMock()
	providerName := cfg.LLM.DefaultProvider
	if providerName == "" {
		providerName = "mock"
	}
	a.kernel.Registry.Register("llm", providerName, a.provider)
	a.kernel.Registry.SetDefault("llm", providerName)

	schedDBPath, err := config.ExpandHome(cfg.Scheduler.DBPath)
	if err != nil {
		return nil, err
	}
	schedStore, err := scheduler.NewSQLiteStore(schedDBPath)
	if err != nil {
		return nil, fmt.Errorf("open scheduler store: %w", err)
	}
	a.schedStore = schedStore
	a.sched = scheduler.New(schedStore, a.kernel.Bus, a.runSchedulerJob, a.router,
		scheduler.WithLogger(logger),
		scheduler.WithTickInterval(time.Duration(cfg.Scheduler.PollIntervalSecs)*time.Second),
	)

	a.mainLoop = agent.New(a.provider, a.skillMgr, a.security, a.kernel.Bus, a.mainMemory(), a.systemPrompt(), agent.Config{
		AgentID:       "main",
		MaxIterations: cfg.Agent.MaxIterations,
		Temperature:   cfg.Agent.Temperature,
		RecentWindow:  cfg.Agent.RecentWindow,
	})

	opts := []platform.Option{
		platform.WithSkills(a.skillMgr),
		platform.WithJobs(a.schedStore),
		platform.WithLogger(logger),
	}
	if a.memoryStore != nil {
		opts = append(opts, platform.WithMemory(a.memoryStore))
	}
	a.interactive = platform.New("main", a.mainLoop.Run, a.kernel.Bus, a.approvals, a.escalations, a.cli, os.Stdin, os.Stdout, opts...)

	return a, nil
}

// mainMemory adapts a possibly-nil memory store to the agent.MemoryManager
// interface without wrapping a nil pointer in a non-nil interface value.
func (a *App) mainMemory() agent.MemoryManager {
	if a.memoryStore == nil {
		return nil
	}
	return a.memoryStore
}

func (a *App) systemPrompt() string {
	prompt := a.identityText
	if a.softSkills != nil {
		if extra := a.softSkills.Prompt(); extra != "" {
			prompt += "\n\n" + extra
		}
	}
	return prompt
}

func toCapabilities(names []string) []models.Capability {
	caps := make([]models.Capability, len(names))
	for i, n := range names {
		caps[i] = models.Capability(n)
	}
	return caps
}

// RunChat starts the kernel, the scheduler (if enabled), and the soft
// skills watcher, then drives the interactive platform until the user
// exits or ctx is cancelled.
func (a *App) RunChat(ctx context.Context) error {
	if err := a.kernel.Start(ctx); err != nil {
		return err
	}

	a.kernel.Spawn(ctx, func(taskCtx context.Context) {
		if err := a.softSkills.Watch(taskCtx); err != nil {
			a.logger.Warn("soft skills watcher stopped", "error", err)
		}
	})

	if a.cfg.Scheduler.Enabled {
		if err := a.sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	return a.interactive.Run(ctx)
}

// Shutdown tears every subsystem down in the order the event bus and
// skill manager depend on each other: background agents first (so
// nothing is still calling into the skill manager or LLM provider),
// then the scheduler and its store, then skills, then the (stateless)
// LLM client, and finally long-term memory — the one subsystem every
// earlier stage might still have been about to write to.
func (a *App) Shutdown(ctx context.Context) error {
	if a.registry != nil {
		a.registry.ShutdownAll(ctx, 5*time.Second)
	}
	if a.sched != nil {
		_ = a.sched.Stop(ctx)
	}
	if a.schedStore != nil {
		_ = a.schedStore.Close()
	}
	if a.skillMgr != nil {
		a.skillMgr.ShutdownAll(ctx)
	}
	// a.provider (llm.Mock) holds no resources to release.
	if a.memoryStore != nil {
		_ = a.memoryStore.Close()
	}
	if a.kernel != nil {
		_ = a.kernel.Stop(ctx)
	}
	if a.activity != nil {
		_ = a.activity.Close()
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.softSkills != nil {
		_ = a.softSkills.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
	return nil
}

// runWorkerTask implements worker.RunFunc: it builds a fresh Agent Loop
// scoped to this delegation (permissive security, excluded skills, no
// long-term memory) and runs it to completion on a transient Virtual
// Platform bounded by ctx's own deadline (set by worker.Skill from the
// delegation's timeout_seconds).
func (a *App) runWorkerTask(ctx context.Context, taskID, taskName, prompt string, allowedSkills []string, maxIterations int) (string, error) {
	agentID := "worker:" + taskID
	excluded := worker.BuildExcludedSkills(allowedSkills, a.skillMgr.RegisteredNames())

	loop := agent.New(a.provider, a.skillMgr, security.NewPermissiveEngine(), a.kernel.Bus, nil, a.identityText, agent.Config{
		AgentID:        agentID,
		ExcludedSkills: excluded,
		MaxIterations:  maxIterations,
	})

	vp := platform.NewVirtual(agentID, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		vp.Run(ctx, loop.Run)
	}()
	defer func() {
		vp.Stop()
		<-done
	}()

	result, err := vp.SendMessage(escalation.WithAgentID(ctx, agentID), prompt)
	if err != nil {
		return "", err
	}
	if msg, isErr := asInlineError(result); isErr {
		return "", fmt.Errorf("%s", msg)
	}
	return result, nil
}

// runSchedulerJob implements scheduler.AgentRunner, bounded by a fixed
// 300s wall clock regardless of the job's own max-iterations setting.
func (a *App) runSchedulerJob(ctx context.Context, job models.Job) (string, error) {
	jobCtx, cancel := context.WithTimeout(ctx, schedulerJobTimeout)
	defer cancel()

	if !job.UseTools {
		return a.runToollessJob(jobCtx, job)
	}

	agentID := "scheduler:" + job.Name
	excluded := worker.BuildExcludedSkills(nil, a.skillMgr.RegisteredNames())
	loop := agent.New(a.provider, a.skillMgr, security.NewPermissiveEngine(), a.kernel.Bus, nil, a.identityText, agent.Config{
		AgentID:        agentID,
		ExcludedSkills: excluded,
		MaxIterations:  a.cfg.Agent.MaxIterations,
	})

	vp := platform.NewVirtual(agentID, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		vp.Run(jobCtx, loop.Run)
	}()
	defer func() {
		vp.Stop()
		<-done
	}()

	result, err := vp.SendMessage(jobCtx, job.Prompt)
	if err != nil {
		return "", err
	}
	if msg, isErr := asInlineError(result); isErr {
		return "", fmt.Errorf("%s", msg)
	}
	return result, nil
}

// runToollessJob calls the provider once with a fixed system prompt and
// no tools, for jobs that don't need the full Agent Loop.
func (a *App) runToollessJob(ctx context.Context, job models.Job) (string, error) {
	const proactiveSystemPrompt = "You are running a proactive scheduled task. Be concise. Do not ask follow-up questions."
	chunks, err := a.provider.Generate(ctx, llm.Request{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: proactiveSystemPrompt},
			{Role: models.RoleUser, Content: job.Prompt},
		},
	})
	if err != nil {
		return "", err
	}
	var content strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		content.WriteString(chunk.Text)
	}
	return content.String(), nil
}

// asInlineError recognizes the "[Error: ...]" string platform.Virtual
// embeds in a turn's result instead of returning a Go error.
func asInlineError(s string) (string, bool) {
	if strings.HasPrefix(s, "[Error: ") && strings.HasSuffix(s, "]") {
		return s[len("[Error: ") : len(s)-1], true
	}
	return "", false
}

func setupLogging(cfg *config.Config) (*os.File, *slog.Logger, error) {
	path, err := config.ExpandHome(appLogPath(cfg))
	if err != nil {
		return nil, nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open app log: %w", err)
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := io.MultiWriter(os.Stderr, f)
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	return f, logger, nil
}

func workerActivityLogPath(cfg *config.Config) string {
	return "~/.arc/worker_activity.log"
}

func notificationsLogPath(cfg *config.Config) string {
	return "~/.arc/notifications.log"
}

func appLogPath(cfg *config.Config) string {
	return "~/.arc/logs/arc.log"
}

func eventJournalPath(cfg *config.Config) string {
	return fmt.Sprintf("~/.arc/logs/events_%s.jsonl", time.Now().Format("20060102"))
}
