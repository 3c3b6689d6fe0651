package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/artpar/rampup/internal/core/plan"
	"github.com/artpar/rampup/internal/shell/api"
	"github.com/artpar/rampup/internal/shell/docker"
	"github.com/artpar/rampup/internal/shell/health"
	"github.com/artpar/rampup/internal/shell/orchestrator"
	"github.com/artpar/rampup/internal/shell/runner"
	"github.com/artpar/rampup/internal/shell/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes, one per failing phase so wrapping scripts can tell phases
// apart without parsing output.
const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitPathError    = 2
	ExitInstallError = 3
	ExitBuildError   = 4
	ExitLaunchError  = 5
	ExitHealthError  = 6
	ExitServerError  = 7
)

// phaseExitCodes maps the failing phase of a run to the process exit code.
var phaseExitCodes = map[plan.Phase]int{
	plan.PhaseResolvingPaths: ExitPathError,
	plan.PhaseInstalling:     ExitInstallError,
	plan.PhaseBuilding:       ExitBuildError,
	plan.PhaseLaunching:      ExitLaunchError,
	plan.PhaseHealthChecking: ExitHealthError,
}

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	root := flag.String("root", "", "Project root (overrides config)")
	planFile := flag.String("plan", "", "Plan file (overrides config; empty uses the built-in plan)")
	skipBuild := flag.Bool("skip-build", false, "Skip the build phase")
	skipHealthCheck := flag.Bool("skip-health-check", false, "Skip the health-check phase")
	reportListen := flag.String("report-listen", "", "Serve run history on this address instead of orchestrating")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("rampup %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *planFile != "" {
		cfg.Plan.File = *planFile
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting rampup",
		"version", Version,
		"config", *configPath,
	)

	// Open run history
	var history store.Store
	if cfg.History.Enabled {
		if dir := filepath.Dir(cfg.History.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Error("failed to create history directory", "dir", dir, "error", err)
				return ExitConfigError
			}
		}
		s, err := store.NewSQLiteStore(cfg.History.DSN)
		if err != nil {
			logger.Error("failed to open run history", "dsn", cfg.History.DSN, "error", err)
			return ExitConfigError
		}
		defer s.Close()
		history = s
	}

	// Report mode: serve the recorded run history
	if *reportListen != "" {
		if history == nil {
			fmt.Fprintln(os.Stderr, "report mode requires history.enabled")
			return ExitConfigError
		}
		return serveReport(cfg, *reportListen, history, logger)
	}

	// Orchestrate mode
	return orchestrate(cfg, *skipBuild, *skipHealthCheck, history, logger)
}

// =============================================================================
// Orchestrate Mode
// =============================================================================

func orchestrate(cfg *Config, skipBuild, skipHealthCheck bool, history store.Store, logger *slog.Logger) int {
	// Load plan
	p, err := loadPlan(cfg)
	if err != nil {
		logger.Error("failed to load plan", "file", cfg.Plan.File, "error", err)
		return ExitConfigError
	}

	// Pick the command runner: remote when a host is configured, local
	// otherwise.
	cmdRunner, cleanup, err := buildRunner(cfg)
	if err != nil {
		logger.Error("failed to set up command runner", "error", err)
		return ExitConfigError
	}
	defer cleanup()

	// Container engine is optional: without it compose up still runs but
	// launch verification and derived health targets are disabled.
	var engine docker.Client
	if cfg.Docker.Verify {
		eng, err := docker.NewEngineClient(cfg.Docker.Host)
		if err == nil {
			if pingErr := eng.Ping(context.Background()); pingErr == nil {
				engine = eng
				defer eng.Close()
			} else {
				eng.Close()
				logger.Warn("docker daemon unreachable, launch verification disabled", "error", pingErr)
			}
		} else {
			logger.Warn("docker client unavailable, launch verification disabled", "error", err)
		}
	}

	checker := health.NewChecker(health.CheckerConfig{
		MaxConcurrent: cfg.Health.MaxConcurrent,
	}, logger)

	orch := orchestrator.New(cmdRunner, checker, engine, history, logger)
	result, runErr := orch.Run(context.Background(), orchestrator.Config{
		Root:            cfg.Root,
		Plan:            p,
		SkipBuild:       skipBuild,
		SkipHealthCheck: skipHealthCheck,
	})

	printSummary(result)

	if runErr != nil {
		if code, ok := phaseExitCodes[result.FailedPhase]; ok {
			return code
		}
		return ExitConfigError
	}
	return ExitSuccess
}

// loadPlan loads the configured plan file, or the built-in default plan.
func loadPlan(cfg *Config) (*plan.Plan, error) {
	if cfg.Plan.File == "" {
		return plan.Default(), nil
	}
	return plan.Load(cfg.Plan.File)
}

// buildRunner returns the command runner and a cleanup function.
func buildRunner(cfg *Config) (runner.CommandRunner, func(), error) {
	if cfg.Remote.Host == "" {
		return runner.NewExecRunner(), func() {}, nil
	}

	key, err := os.ReadFile(cfg.Remote.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read SSH key %s: %w", cfg.Remote.KeyFile, err)
	}

	sshRunner, err := runner.NewSSHRunner(runner.SSHConfig{
		Host:           cfg.Remote.Host,
		Port:           cfg.Remote.Port,
		User:           cfg.Remote.User,
		ConnectTimeout: cfg.Remote.ConnectTimeout,
	}, key)
	if err != nil {
		return nil, nil, err
	}

	return sshRunner, func() { sshRunner.Close() }, nil
}

// printSummary writes the operator-facing run summary to stdout.
func printSummary(result *plan.RunResult) {
	if result == nil {
		return
	}

	fmt.Printf("run %s: %s (%s)\n", result.ID, result.Phase, result.Duration().Round(time.Millisecond))
	if result.FailedPhase != "" {
		fmt.Printf("  failed during: %s\n", result.FailedPhase)
	}
	if result.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", result.ErrorMessage)
	}

	if len(result.SourcePaths) > 0 {
		fmt.Printf("  source paths (%d resolved, %d skipped):\n", len(result.SourcePaths), len(result.SkippedPaths))
		for _, p := range result.SourcePaths {
			fmt.Printf("    %s\n", p)
		}
	}

	for _, step := range result.Steps {
		switch step.Status {
		case plan.StepSucceeded:
			fmt.Printf("  [ok]      %-28s %s\n", step.Name, step.Duration.Round(time.Millisecond))
		case plan.StepFailed:
			fmt.Printf("  [failed]  %-28s exit %d\n", step.Name, step.ExitCode)
			if step.Output != "" {
				fmt.Printf("            %s\n", step.Output)
			}
		case plan.StepSkipped:
			fmt.Printf("  [skipped] %s\n", step.Name)
		}
	}

	for _, probe := range result.Probes {
		if probe.Reachable {
			fmt.Printf("  [up]      %-28s %s (%d)\n", probe.Name, probe.URL, probe.StatusCode)
		} else {
			fmt.Printf("  [down]    %-28s %s: %s\n", probe.Name, probe.URL, probe.Diagnostic)
		}
	}
}

// =============================================================================
// Report Mode
// =============================================================================

func serveReport(cfg *Config, addr string, history store.Store, logger *slog.Logger) int {
	handler := api.NewHandler(history, Version, logger)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Report.ReadTimeout,
		WriteTimeout: cfg.Report.WriteTimeout,
	}

	logger.Info("serving run history", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("report server error", "error", err)
		return ExitServerError
	}
	return ExitSuccess
}
