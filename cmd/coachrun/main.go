package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/coach"
	"github.com/npratt/coachrun/internal/coachapi"
	"github.com/npratt/coachrun/internal/config"
	"github.com/npratt/coachrun/internal/mockagent"
	"github.com/npratt/coachrun/internal/runerr"
	"github.com/npratt/coachrun/internal/shutdown"
	"github.com/npratt/coachrun/internal/tui"
)

var version = "dev"

// chatShutdownTimeout bounds how long an interrupted chat waits for the
// current run to unwind.
const chatShutdownTimeout = 5 * time.Second

// stdio are the streams a command talks to.
type stdio struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func main() {
	logLevel := &slog.LevelVar{}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	v := viper.New()
	config.BindEnv(v)

	rootCmd := newRootCmd(v, logLevel, logger, stdio{in: os.Stdin, out: os.Stdout, errOut: os.Stderr})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper, logLevel *slog.LevelVar, logger *slog.Logger, std stdio) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coachrun",
		Short: "Talk to an AI coach agent with retries and live activity",
		Long: `coachrun sends messages to an AG-UI agent endpoint and streams the reply.

Each run is retried on transient failures (network, timeout, server,
protocol) with exponential backoff under a fresh run id. While the agent
works, a live indicator shows its phase, the tools it calls and the time
elapsed. Runs are logged to a JSONL event log and summarized in a state
file.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if v.GetBool(FlagVerbose) {
				logLevel.Set(slog.LevelDebug)
				logger.Debug("verbose logging enabled")
			}
		},
	}
	rootCmd.SetIn(std.in)
	rootCmd.SetOut(std.out)
	rootCmd.SetErr(std.errOut)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().Bool(FlagVerbose, false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String(FlagConfig, "", "Config file path (default: .coachrun/config.yaml)")
	rootCmd.PersistentFlags().String(FlagEndpoint, "", "Agent run endpoint URL")
	rootCmd.PersistentFlags().String(FlagToken, "", "Bearer token for the agent endpoint")
	rootCmd.PersistentFlags().String(FlagLogFile, "", "Debug log file used while the indicator is shown")
	rootCmd.PersistentFlags().String(FlagMetricsAddr, "", "Serve Prometheus metrics on this address")

	// Bind all flags to viper
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})

	// loadConfig merges files, env and explicitly set flags.
	loadConfig := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := config.LoadConfig(v)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}

		flags := cmd.Flags()
		if flags.Changed(FlagEndpoint) {
			cfg.Agent.Endpoint = v.GetString(FlagEndpoint)
		}
		if flags.Changed(FlagToken) {
			cfg.Agent.Token = v.GetString(FlagToken)
			cfg.Agent.TokenFile = ""
		}
		if flags.Changed(FlagLogFile) {
			cfg.Paths.Log = v.GetString(FlagLogFile)
		}
		if flags.Changed(FlagMetricsAddr) {
			cfg.Metrics.Addr = v.GetString(FlagMetricsAddr)
		}
		if f := flags.Lookup(FlagThread); f != nil && f.Changed {
			cfg.Agent.ThreadID = f.Value.String()
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}

		cfg.Paths, err = config.ResolvePaths(cfg.Paths, config.FindProjectRoot(""))
		if err != nil {
			return nil, fmt.Errorf("resolve paths: %w", err)
		}
		return cfg, nil
	}

	// conversationLogger sends logs to a rotating file while the
	// interactive indicator owns the terminal.
	conversationLogger := func(cfg *config.Config, interactive bool) (*slog.Logger, func(), error) {
		if !interactive {
			return logger, func() {}, nil
		}
		res, err := SetupFileLogger(cfg.Paths.Log, logLevel, cfg.LogRotation)
		if err != nil {
			return nil, nil, err
		}
		return res.Logger, func() { _ = res.Close() }, nil
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(std.out, "coachrun %s\n", version)
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the coach's reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			noTUI, _ := cmd.Flags().GetBool(FlagNoTUI)
			memoryHits, _ := cmd.Flags().GetBool(FlagMemoryHits)
			interactive := !noTUI && tui.IsInteractive()

			log, closeLog, err := conversationLogger(cfg, interactive)
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := newApp(cmd.Context(), cfg, log, appOptions{memoryHits: memoryHits, toasts: std.errOut})
			if err != nil {
				return err
			}
			defer a.Close()

			message := strings.Join(args, " ")
			reply, err := runWithIndicator(cmd.Context(), a, indicatorIO(std, interactive, true), func(ctx context.Context) (*coach.Reply, error) {
				return a.conv.Send(ctx, message)
			})
			if err != nil {
				return err
			}
			printReply(std.out, reply)
			return nil
		},
	}
	askCmd.Flags().Bool(FlagMemoryHits, false, "Print the memories the coach used")
	askCmd.Flags().String(FlagThread, "", "Conversation thread id (default: new thread)")
	askCmd.Flags().Bool(FlagNoTUI, false, "Print plain progress lines instead of the live indicator")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the coach interactively",
		Long: `Start an interactive conversation seeded from the coach's stored history,
or its greeting when there is none.

Type a message and press enter. Commands:
  /review  generate this week's review
  /quit    leave the chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			noTUI, _ := cmd.Flags().GetBool(FlagNoTUI)
			memoryHits, _ := cmd.Flags().GetBool(FlagMemoryHits)
			interactive := !noTUI && tui.IsInteractive()

			log, closeLog, err := conversationLogger(cfg, interactive)
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := newApp(cmd.Context(), cfg, log, appOptions{memoryHits: memoryHits, toasts: std.errOut})
			if err != nil {
				return err
			}
			defer a.Close()

			seeded, err := a.conv.Bootstrap(cmd.Context())
			if err != nil {
				log.Warn("chat bootstrap failed", "error", err)
				fmt.Fprintf(std.out, "coach: %s\n", coach.FallbackGreeting)
			}
			for _, m := range seeded {
				printMessage(std.out, m)
			}

			return shutdown.RunWithGracefulShutdown(cmd.Context(), log, chatShutdownTimeout,
				func(ctx context.Context) error {
					return chatLoop(ctx, a, std, interactive)
				},
				nil,
			)
		},
	}
	chatCmd.Flags().Bool(FlagMemoryHits, false, "Print the memories the coach used after each reply")
	chatCmd.Flags().String(FlagThread, "", "Conversation thread id (default: new thread)")
	chatCmd.Flags().Bool(FlagNoTUI, false, "Print plain progress lines instead of the live indicator")

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "View recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt(FlagCount)
			follow, _ := cmd.Flags().GetBool(FlagFollow)
			run, _ := cmd.Flags().GetString(FlagRun)

			if follow {
				return tailFollow(cmd.Context(), std.out, cfg.Paths.Events, runFilter(run))
			}
			return tailLast(std.out, cfg.Paths.Events, count, runFilter(run))
		},
	}
	eventsCmd.Flags().Bool(FlagFollow, false, "Follow event stream (like tail -f)")
	eventsCmd.Flags().Int(FlagCount, 20, "Number of recent events to show")
	eventsCmd.Flags().String(FlagRun, "", "Only show events whose run id starts with this prefix")

	classifyCmd := &cobra.Command{
		Use:   "classify <error text>",
		Short: "Show how an error text is classified and retried",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := runerr.Classify(strings.Join(args, " "))
			fmt.Fprintf(std.out, "kind:      %s\n", e.Kind)
			fmt.Fprintf(std.out, "retryable: %t\n", e.Retryable())
			fmt.Fprintf(std.out, "message:   %s\n", e.Message)
			fmt.Fprintf(std.out, "toast:     %s\n", runerr.ToastMessage(e))
		},
	}

	memoriesCmd := &cobra.Command{
		Use:   "memories",
		Short: "List what the coach remembers about you",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			memories, err := newAPIClient(cfg, logger).Memories(cmd.Context())
			if err != nil {
				return err
			}
			if len(memories) == 0 {
				fmt.Fprintln(std.out, "No memories yet")
				return nil
			}
			for _, m := range memories {
				fmt.Fprintf(std.out, "%s  %-15s %s\n", m.FormattedDate, m.Type, m.Content)
			}
			return nil
		},
	}

	reviewsCmd := &cobra.Command{
		Use:   "reviews",
		Short: "List recent weekly reviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt(FlagLimit)
			reviews, err := newAPIClient(cfg, logger).WeeklyReviews(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(reviews) == 0 {
				fmt.Fprintln(std.out, "No weekly reviews yet")
				return nil
			}
			for _, r := range reviews {
				fmt.Fprintf(std.out, "%s  completed=%d streak=%d\n", r.FormattedDate, r.TotalCompleted, r.CurrentStreak)
				for _, h := range r.Highlights {
					fmt.Fprintf(std.out, "  + %s\n", h)
				}
				if r.Suggestion != "" {
					fmt.Fprintf(std.out, "  next: %s\n", r.Suggestion)
				}
			}
			return nil
		},
	}
	reviewsCmd.Flags().Int(FlagLimit, coachapi.DefaultWeeklyReviewLimit, "Number of reviews to show")

	mockServerCmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a scripted local agent endpoint",
		Long: `Serve a scripted AG-UI endpoint at /agui/run and the coach REST routes
under /api/coach for local development.

Without --script every message is echoed back after a memory lookup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			addr := cfg.MockServer.Addr
			if cmd.Flags().Changed(FlagAddr) {
				addr, _ = cmd.Flags().GetString(FlagAddr)
			}
			scriptPath := cfg.MockServer.Script
			if cmd.Flags().Changed(FlagScript) {
				scriptPath, _ = cmd.Flags().GetString(FlagScript)
			}

			var script *mockagent.Script
			if scriptPath != "" {
				script, err = mockagent.LoadScript(scriptPath)
				if err != nil {
					return err
				}
			}

			srv := mockagent.New(script, logger)
			return shutdown.RunWithGracefulShutdown(cmd.Context(), logger, mockagent.ShutdownTimeout,
				func(ctx context.Context) error {
					return srv.ListenAndServe(ctx, addr)
				},
				nil,
			)
		},
	}
	mockServerCmd.Flags().String(FlagAddr, mockagent.DefaultAddr, "Listen address")
	mockServerCmd.Flags().String(FlagScript, "", "YAML scenario script")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(memoriesCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(mockServerCmd)

	return rootCmd
}

// indicatorStreams picks where the indicator draws and reads keys.
type indicatorStreams struct {
	out         io.Writer
	in          io.Reader
	interactive bool
}

func indicatorIO(s stdio, interactive, keyboard bool) indicatorStreams {
	ind := indicatorStreams{out: s.errOut, interactive: interactive}
	if keyboard {
		ind.in = s.in
	}
	return ind
}

// runWithIndicator shows the tracker's activity while fn runs. Pressing
// ctrl+c in the interactive indicator cancels fn's context.
func runWithIndicator(ctx context.Context, a *app, s indicatorStreams, fn func(context.Context) (*coach.Reply, error)) (*coach.Reply, error) {
	updates, unsubscribe := a.tracker.Subscribe()
	defer unsubscribe()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	indCtx, stopIndicator := context.WithCancel(ctx)

	ind := tui.New(updates,
		tui.WithOutput(s.out),
		tui.WithInput(s.in),
		tui.WithInteractive(s.interactive),
		tui.WithOnInterrupt(cancelRun),
	)
	done := make(chan error, 1)
	go func() { done <- ind.Run(indCtx) }()

	reply, err := fn(runCtx)
	stopIndicator()
	if ierr := <-done; ierr != nil {
		a.logger.Warn("activity indicator failed", "error", ierr)
	}
	return reply, err
}

// chatLoop reads one message per line until EOF, /quit or cancellation.
func chatLoop(ctx context.Context, a *app, s stdio, interactive bool) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(s.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		var run func(context.Context) (*coach.Reply, error)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/review":
			run = a.conv.WeeklyReview
		default:
			run = func(ctx context.Context) (*coach.Reply, error) {
				return a.conv.Send(ctx, line)
			}
		}

		reply, err := runWithIndicator(ctx, a, indicatorIO(s, interactive, false), run)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The notifier already showed the toast.
			continue
		}
		printReply(s.out, reply)
	}
}

func printReply(w io.Writer, reply *coach.Reply) {
	fmt.Fprintln(w, reply.Text)
	if len(reply.MemoryHits) > 0 {
		fmt.Fprintln(w, "\nMemories used:")
		for _, hit := range reply.MemoryHits {
			fmt.Fprintf(w, "  - %s\n", hit)
		}
	}
}

func printMessage(w io.Writer, m agentrun.Message) {
	who := "coach"
	if m.Role == agentrun.RoleUser {
		who = "you"
	}
	fmt.Fprintf(w, "%s: %s\n", who, m.Renderable())
}
