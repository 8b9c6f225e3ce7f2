package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgearhart/drover/internal/budget"
	"github.com/mgearhart/drover/internal/graph"
	"github.com/mgearhart/drover/internal/health"
	"github.com/mgearhart/drover/internal/intake"
	"github.com/mgearhart/drover/internal/memory"
	"github.com/mgearhart/drover/internal/orchestrator"
	"github.com/mgearhart/drover/internal/pool"
	"github.com/mgearhart/drover/internal/state"
	"github.com/mgearhart/drover/internal/worker"
)

var (
	watchDir string
	noResume bool
)

var runCmd = &cobra.Command{
	Use:   "run [graph.yaml]",
	Short: "Execute a task graph across the configured worker pool",
	Long: `Run submits the given graph file and drives it to completion.

Interrupted runs are recovered first: tasks that were mid-flight come
back as pending and are re-executed. With --watch, drover keeps running
and picks up new graph files dropped into the watched directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&watchDir, "watch", "", "Directory to watch for new graph files")
	runCmd.Flags().BoolVar(&noResume, "no-resume", false, "Skip recovery of interrupted graphs")
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && watchDir == "" {
		return fmt.Errorf("a graph file or --watch directory is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := state.Open(state.DefaultDBPath(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	mem, err := memory.Open(memory.DBPath(cfg.DataDir), memory.Options{
		ShortTTL:           cfg.Memory.ShortTTL,
		WorkingTTL:         cfg.Memory.WorkingTTL,
		RecencyWindow:      cfg.Memory.RecencyWindow,
		PromoteMinAccess:   cfg.Memory.PromoteMinAccess,
		PromoteMinWeight:   cfg.Memory.PromoteMinWeight,
		PromoteMinAge:      cfg.Memory.PromoteMinAge,
		PromoteMinProjects: cfg.Memory.PromoteMinProjects,
	})
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer mem.Close()

	graphs := graph.NewManager()
	workers := pool.New(cfg.Scheduler.EventBuffer)
	ledger := budget.NewLedger()

	if len(cfg.Workers) == 0 {
		return fmt.Errorf("no workers configured; declare them under 'workers' in the config")
	}
	for _, wc := range cfg.Workers {
		ex, err := worker.NewCommandExecutor(nil, "", wc.Command)
		if err != nil {
			return fmt.Errorf("worker %s: %w", wc.ID, err)
		}
		if err := workers.Register(wc.ToModel(), ex); err != nil {
			return fmt.Errorf("register worker %s: %w", wc.ID, err)
		}
		ledger.Register(wc.ID, wc.BudgetCeiling)
	}

	monitor := health.NewMonitor(graphs, cfg.Health.Interval, cfg.Health.StuckAfter)
	logger := orchestrator.NewDebugLoggerForDataDir(cfg.DataDir)
	defer logger.Close()

	orch, err := orchestrator.New(orchestrator.Config{
		MaxRetries:          cfg.Scheduler.MaxRetries,
		PollInterval:        cfg.Scheduler.PollInterval,
		MaxPending:          cfg.Scheduler.MaxPending,
		MemoryTimeout:       cfg.Scheduler.MemoryTimeout,
		MemoryLimit:         cfg.Scheduler.MemoryLimit,
		MemoryContextTokens: cfg.Scheduler.MemoryContextTokens,
		MemorySweep:         cfg.Memory.SweepInterval,
		EventBuffer:         cfg.Scheduler.EventBuffer,
		ExitWhenIdle:        watchDir == "",
	}, orchestrator.Deps{
		Graphs:  graphs,
		Pool:    workers,
		Ledger:  ledger,
		Memory:  mem,
		Monitor: monitor,
		Logger:  logger,
		State:   db,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !noResume {
		recovered, err := db.Recover()
		if err != nil {
			return fmt.Errorf("recover interrupted graphs: %w", err)
		}
		for _, rg := range recovered {
			if err := graphs.ResumeGraph(rg.GraphID, rg.Tasks, rg.Edges); err != nil {
				color.Yellow("skipping recovery of graph %s: %v", rg.GraphID, err)
				continue
			}
			color.Cyan("recovered graph %s (%d tasks)", rg.GraphID, len(rg.Tasks))
		}
	}

	if len(args) == 1 {
		tasks, edges, err := intake.ParseFile(args[0])
		if err != nil {
			return err
		}
		graphID, err := orch.SubmitGraph(tasks, edges)
		if err != nil {
			return fmt.Errorf("submit graph: %w", err)
		}
		color.Cyan("submitted graph %s (%d tasks)", graphID, len(tasks))
	}

	go printEvents(ctx, orch)

	if watchDir != "" {
		go func() {
			err := intake.Watch(ctx, watchDir, func(path string, werr error) {
				if werr != nil {
					color.Red("watch: %v", werr)
					return
				}
				tasks, edges, perr := intake.ParseFile(path)
				if perr != nil {
					color.Red("intake %s: %v", path, perr)
					return
				}
				graphID, serr := orch.SubmitGraph(tasks, edges)
				if serr != nil {
					color.Red("intake %s: %v", path, serr)
					return
				}
				color.Cyan("submitted graph %s from %s (%d tasks)", graphID, path, len(tasks))
			})
			if err != nil && ctx.Err() == nil {
				color.Red("watch stopped: %v", err)
			}
		}()
		color.Cyan("watching %s for graph files", watchDir)
	}

	runErr := orch.Run(ctx)
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}

	finishGraphs(orch, db)
	printSummary(orch)
	return nil
}

// finishGraphs flips completed graphs to done in the state database so
// recovery skips them next start.
func finishGraphs(orch *orchestrator.Orchestrator, db *state.DB) {
	for _, gs := range orch.Snapshot().Graphs {
		if gs.Done {
			db.MarkGraphDone(gs.GraphID)
		}
	}
}

// printEvents renders the orchestrator's event stream.
func printEvents(ctx context.Context, orch *orchestrator.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-orch.Events():
			if !ok {
				return
			}
			switch e.Type {
			case orchestrator.EventTaskDispatched:
				color.Blue("-> %s to %s (attempt %d)", e.TaskID, e.WorkerID, e.Attempt)
			case orchestrator.EventTaskCompleted:
				color.Green("ok %s on %s", e.TaskID, e.WorkerID)
			case orchestrator.EventTaskFailed:
				color.Yellow("retry %s (attempt %d): %v", e.TaskID, e.Attempt, e.Err)
			case orchestrator.EventTaskTerminal:
				color.Red("FAIL %s after %d attempts: %v", e.TaskID, e.Attempt, e.Err)
			case orchestrator.EventTaskUnassignable:
				color.Red("unassignable %s: %s", e.TaskID, e.Message)
			case orchestrator.EventTaskStuck:
				color.Yellow("stuck? %s on %s: %s", e.TaskID, e.WorkerID, e.Message)
			case orchestrator.EventBudgetDeferred:
				color.Yellow("deferred %s: %s", e.TaskID, e.Message)
			case orchestrator.EventTaskCancelled:
				color.Magenta("cancelled %s", e.TaskID)
			case orchestrator.EventGraphDone:
				color.Green("graph %s done", e.GraphID)
			}
		}
	}
}

// printSummary renders the final per-graph state counts.
func printSummary(orch *orchestrator.Orchestrator) {
	snap := orch.Snapshot()
	for _, gs := range snap.Graphs {
		fmt.Printf("graph %s:", gs.GraphID)
		for st, n := range gs.Counts {
			fmt.Printf(" %s=%d", st, n)
		}
		fmt.Println()
	}
	for _, u := range snap.Budget {
		if u.Committed == 0 && u.Ceiling == 0 {
			continue
		}
		fmt.Printf("budget %s: %d committed", u.WorkerID, u.Committed)
		if u.Ceiling > 0 {
			fmt.Printf(" / %d ceiling", u.Ceiling)
		}
		if u.HardStop {
			color.Red(" (hard stop)")
		}
		fmt.Println()
	}
	if dropped := orch.DroppedEvents(); dropped > 0 {
		color.Yellow("%d events dropped", dropped)
	}
}
