package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/browser"
	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/checks"
	"github.com/Harvey-AU/searchpilot/internal/config"
	"github.com/Harvey-AU/searchpilot/internal/notifications"
	"github.com/Harvey-AU/searchpilot/internal/runner"
	"github.com/Harvey-AU/searchpilot/internal/searchterms"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/Harvey-AU/searchpilot/internal/store"
	"github.com/Harvey-AU/searchpilot/internal/timing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// exitError carries the process exit status a command failed with
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// configFailure marks err as a configuration or usage problem (exit 2)
func configFailure(err error) error {
	return &exitError{code: runner.ExitConfigError, err: err}
}

// exitCode maps a command error to the process exit status
func exitCode(err error) int {
	if err == nil {
		return runner.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, config.ErrInvalid) {
		return runner.ExitConfigError
	}
	return runner.ExitFailure
}

func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return configFailure(err)
		}
		return nil
	}
}

// sessionStore is the persistence surface the CLI uses
type sessionStore interface {
	runner.ReportStore
	session.UsageRecorder
	TermStats(ctx context.Context, limit int) ([]searchterms.TermUsage, error)
	RecentSessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
	Close() error
}

// app holds the collaborators the commands are wired to. Tests replace them.
type app struct {
	env      Env
	envFiles []string
	stdout   io.Writer
	stderr   io.Writer

	loadConfig func(files ...string) (config.Config, error)
	newBrowser func(cfg config.Config) session.BrowserFactory
	newSolver  func(cfg config.Config) captcha.Solver
	openStore  func(ctx context.Context) (sessionStore, error)
	notifier   func() (runner.Notifier, error)
	sleep      func(ctx context.Context, d time.Duration) error
}

func newApp(env Env) *app {
	return &app{
		env:        env,
		loadConfig: config.Load,
		newBrowser: func(cfg config.Config) session.BrowserFactory {
			opts := browser.DefaultOptions()
			opts.Bin = env.ChromeBin
			if cfg.ScreenshotDir != "" {
				opts.ScreenshotDir = cfg.ScreenshotDir
			}
			return browser.NewFactory(opts)
		},
		newSolver: func(cfg config.Config) captcha.Solver {
			if cfg.CaptchaAPIKey == "" {
				return nil
			}
			return captcha.NewTwoCaptcha(cfg.CaptchaAPIKey)
		},
		openStore: func(ctx context.Context) (sessionStore, error) {
			s, err := store.InitFromEnv(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		notifier: func() (runner.Notifier, error) {
			n, err := notifications.NewFromEnv()
			if err != nil {
				return nil, err
			}
			return n, nil
		},
		sleep: timing.Sleep,
	}
}

// execute runs the command tree and returns the process exit status
func execute(ctx context.Context, a *app, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return exitCode(err)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "searchpilot",
		Short:         "Run paced search sessions behind rotating proxy identities",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return configFailure(fmt.Errorf("unknown command %q", args[0]))
			}
			return cmd.Help()
		},
	}
	if a.stdout != nil {
		root.SetOut(a.stdout)
	}
	if a.stderr != nil {
		root.SetErr(a.stderr)
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return configFailure(err)
	})
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "env files to load (default .env.local,.env)")

	root.AddCommand(
		a.runCmd(),
		a.runParallelCmd(),
		a.checkCmd(),
		a.validateConfigCmd(),
		a.initConfigCmd(),
		a.statsCmd(),
	)
	return root
}

func (a *app) runCmd() *cobra.Command {
	var (
		searches int
		sessions int
		headless bool
		target   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one session, or several back to back",
		Long: `Run a single search session. With --sessions K, run K sessions in
sequence separated by the configured inter-session delay.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessions < 1 {
				return configFailure(fmt.Errorf("--sessions must be at least 1, got %d", sessions))
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("searches") {
				cfg = cfg.WithSearchCount(searches)
			}
			if cmd.Flags().Changed("headless") {
				cfg = cfg.WithHeadless(headless)
			}
			if target != "" {
				cfg = cfg.WithTargetSite(target)
			}

			r, cleanup := a.newRunner(cmd.Context(), cfg)
			defer cleanup()

			var summary runner.Summary
			if sessions == 1 {
				summary = r.RunOne(cmd.Context())
			} else {
				summary = r.RunSequential(cmd.Context(), sessions)
			}
			return finishRun(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().IntVar(&searches, "searches", 0, "fixed number of searches per session (default: drawn from the configured range)")
	cmd.Flags().IntVar(&sessions, "sessions", 1, "number of sequential sessions")
	cmd.Flags().BoolVar(&headless, "headless", false, "run Chrome without a window")
	cmd.Flags().StringVar(&target, "target", "", "override the target site")
	return cmd
}

func (a *app) runParallelCmd() *cobra.Command {
	var (
		instances int
		searches  int
		headless  bool
	)
	cmd := &cobra.Command{
		Use:   "run-parallel",
		Short: "Run several sessions concurrently, each with its own identity",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("searches-per-instance") {
				cfg = cfg.WithSearchCount(searches)
			}
			if cmd.Flags().Changed("headless") {
				cfg = cfg.WithHeadless(headless)
			}

			r, cleanup := a.newRunner(cmd.Context(), cfg)
			defer cleanup()

			return finishRun(cmd.OutOrStdout(), r.RunParallel(cmd.Context(), instances))
		},
	}
	cmd.Flags().IntVar(&instances, "instances", 2, "number of concurrent sessions")
	cmd.Flags().IntVar(&searches, "searches-per-instance", 0, "fixed number of searches per session (default: drawn from the configured range)")
	cmd.Flags().BoolVar(&headless, "headless", false, "run Chrome without a window")
	return cmd
}

func (a *app) checkCmd() *cobra.Command {
	valid := []string{checks.Proxy, checks.Captcha, checks.Browser, checks.All}
	return &cobra.Command{
		Use:       "check [proxy|captcha|browser|all]",
		Short:     "Verify the proxy, CAPTCHA solver and browser are usable",
		ValidArgs: valid,
		Args:      usageArgs(cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs)),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := checks.All
			if len(args) == 1 {
				name = args[0]
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}

			checker := &checks.Checker{
				Config:     cfg,
				Solver:     a.newSolver(cfg),
				NewBrowser: a.newBrowser(cfg),
			}
			results, err := checker.Run(cmd.Context(), name)
			if err != nil {
				return configFailure(err)
			}
			printChecks(cmd.OutOrStdout(), results)
			if !checks.Passed(results) {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
}

func (a *app) validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load the configuration and print the effective values",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				printProblems(cmd.OutOrStdout(), err)
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func (a *app) initConfigCmd() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default .env file",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(defaultEnvFile(config.Defaults())), 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", ".env", "file to write")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search term usage and recent sessions from the database",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return configFailure(fmt.Errorf("--limit must be at least 1, got %d", limit))
			}
			config.LoadFiles(a.envFiles...)
			st, err := a.openStore(cmd.Context())
			if errors.Is(err, store.ErrNotConfigured) {
				return configFailure(errors.New("DATABASE_URL is not set"))
			}
			if err != nil {
				return fmt.Errorf("failed to open session store: %w", err)
			}
			defer st.Close()

			terms, err := st.TermStats(cmd.Context(), limit)
			if err != nil {
				return err
			}
			recent, err := st.RecentSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), terms, recent)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show per table")
	return cmd
}

func (a *app) config() (config.Config, error) {
	cfg, err := a.loadConfig(a.envFiles...)
	if err != nil {
		return config.Config{}, configFailure(err)
	}
	return cfg, nil
}

// newRunner wires the optional store and notifier around cfg. Either being
// unavailable only disables that feature.
func (a *app) newRunner(ctx context.Context, cfg config.Config) (*runner.Runner, func()) {
	opts := runner.Options{
		Config:     cfg,
		NewBrowser: a.newBrowser(cfg),
		Solver:     a.newSolver(cfg),
		Sleep:      a.sleep,
	}
	cleanup := func() {}

	st, err := a.openStore(ctx)
	switch {
	case err == nil:
		opts.Store = st
		opts.Usage = st
		cleanup = func() {
			if err := st.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close session store")
			}
		}
	case errors.Is(err, store.ErrNotConfigured):
		log.Debug().Msg("DATABASE_URL not set, session reports will not be persisted")
	default:
		log.Warn().Err(err).Msg("Session store unavailable, session reports will not be persisted")
	}

	n, err := a.notifier()
	switch {
	case err == nil:
		opts.Notifier = n
	case errors.Is(err, notifications.ErrNotConfigured):
	default:
		log.Warn().Err(err).Msg("Slack notifier unavailable")
	}

	return runner.New(opts), cleanup
}

// finishRun prints the summary and converts it into the command result
func finishRun(w io.Writer, s runner.Summary) error {
	if s.Err != nil {
		return configFailure(s.Err)
	}
	printSummary(w, s)

	switch s.ExitCode() {
	case runner.ExitOK:
		return nil
	case runner.ExitConfigError:
		return configFailure(errors.New("sessions rejected the configuration"))
	}
	if len(s.Reports) == 0 {
		return errors.New("no sessions ran")
	}
	return fmt.Errorf("%d of %d sessions did not complete", s.Failed()+s.Skipped(), s.Total())
}
