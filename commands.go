package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	Md "github.com/maroda/cuebridge/display"
	Mo "github.com/maroda/cuebridge/obvy"
	Mp "github.com/maroda/cuebridge/plugin"
	Ms "github.com/maroda/cuebridge/server"
)

const (
	configEnv      = "CUEBRIDGE_CONFIG"
	defaultTUILog  = "cuebridge.log"
	defaultListen  = ":8090"
	defaultJournal = "cuebridge-journal"
	inputBuffer    = 256
)

type rootOptions struct {
	config    string
	verbosity int
	logFile   string
}

type runOptions struct {
	port    string
	tui     bool
	listen  string
	journal string
	jsonl   string
	otel    string
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var logCloser io.Closer

	rootCmd := &cobra.Command{
		Use:     "cuebridge",
		Short:   "Bridge DAW MIDI events to presentation software HTTP triggers",
		Long:    "cuebridge listens to a MIDI input and calls the presentation server URL mapped to each note or control change.",
		Version: Md.Version,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.config, "config", "c", defaultConfigPath(), "settings file")
	rootCmd.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "more logging, repeat for debug")
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")

	setupLogs := func(tui bool) error {
		path := opts.logFile
		if path == "" && tui {
			path = defaultTUILog
		}
		if path == "" {
			Mo.SetupLogger(os.Stderr, opts.verbosity)
			return nil
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("could not open log file: %w", err)
		}
		logCloser = f
		Mo.SetupLogger(f, opts.verbosity)
		return nil
	}

	rootCmd.AddCommand(newRunCmd(opts, setupLogs))
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// defaultConfigPath prefers the environment over the working directory file
func defaultConfigPath() string {
	if p := Ms.FillEnvVar(configEnv); p != "ENOENT" {
		return p
	}
	return Ms.DefaultSettingsFile
}

func newRunCmd(root *rootOptions, setupLogs func(tui bool) error) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the presentation server and start bridging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogs(opts.tui); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runBridge(ctx, stop, root, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.port, "port", "p", "", "MIDI input name, overrides midi_BridgeName")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show the terminal status view")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "serve the status API and /metrics, e.g. "+defaultListen)
	cmd.Flags().StringVar(&opts.journal, "journal", "", "badger directory recording every dispatch")
	cmd.Flags().StringVar(&opts.jsonl, "jsonl", "", "append dispatches as JSON lines to this file, - for stdout")
	cmd.Flags().StringVar(&opts.otel, "otel", Mo.OTelNone, "tracing backend: honeycomb or otlp")

	return cmd
}

func runBridge(ctx context.Context, stop context.CancelFunc, root *rootOptions, opts *runOptions, in io.Reader, out io.Writer) error {
	start := time.Now()
	fmt.Fprintf(out, "cuebridge %s initializing for ... %s\n", Md.Version, Ms.FillEnvVar("USER"))
	fmt.Fprintf(out, "Started at %s\n", start.Format(time.RFC1123))

	settings, warnings, err := Ms.LoadSettingsFileName(root.config)
	if err != nil {
		return fmt.Errorf("could not load settings (use --config or %s): %w", configEnv, err)
	}
	for _, w := range warnings {
		slog.Warn("Settings property skipped", slog.Any("Error", w))
	}
	slog.Info("Settings loaded", slog.String("file", settings.Source), slog.String("settings", settings.String()))

	shutdown, err := Mo.InitOTel(ctx, opts.otel)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	stats := Mo.NewStatsInternal()

	conn := Ms.NewConnection(settings)
	res, err := conn.Establish(ctx)
	stats.RecConnected(res.OK)
	if err != nil {
		return err
	}
	slog.Info("Connected", slog.String("server", conn.BaseURL()),
		slog.Int("attempts", res.Attempts), slog.Bool("discovered", res.Discovered))

	tt, err := Ms.LoadTriggerFileName(settings.TriggerTable, conn.BaseURL())
	if err != nil {
		return err
	}

	// Servers with a login page are authenticated before the first event
	if err := conn.Login(ctx); err != nil {
		return fmt.Errorf("login did not complete: %w", err)
	}

	src, err := openInput(settings, opts.port, in, out)
	if err != nil {
		return err
	}

	engine := Ms.NewEngine(tt, conn, src, settings.Cadence())
	engine.Stats = stats
	engine.Diagnostic = settings.DiagnosticMode

	if opts.journal != "" {
		journal, err := Mp.NewBadgerJournal(opts.journal, 0)
		if err != nil {
			src.Close()
			return err
		}
		defer journal.Close()
		engine.Outputs = append(engine.Outputs, journal)
	}

	if opts.jsonl != "" {
		jo, err := openJSONL(opts.jsonl)
		if err != nil {
			src.Close()
			return err
		}
		defer jo.Close()
		engine.Outputs = append(engine.Outputs, jo)
	}

	if opts.tui || opts.listen != "" {
		var screen tcell.Screen
		if opts.tui {
			screen, err = Md.GetTTY()
			if err != nil {
				src.Close()
				return err
			}
		}
		view := Md.NewView(screen, stats, conn, tt)
		view.Source = src.Name()
		view.Stop = stop
		if opts.listen != "" {
			view.Serve(opts.listen)
		}
		view.Start(ctx)
		defer view.Close()
		engine.Outputs = append(engine.Outputs, view)
	}

	err = engine.Run(ctx)
	stats.RecConnected(false)
	slog.Info("Bridge finished", slog.Duration("uptime", time.Since(start)), slog.String("state", conn.State().String()))
	return err
}

// openInput picks the MIDI port by flag, then by the configured bridge name, then by asking
func openInput(s Ms.Settings, override string, in io.Reader, out io.Writer) (Mp.EventSource, error) {
	want := s.BridgeName
	if override != "" {
		want = override
	}

	port, err := Mp.SelectInPort(Mp.ListInputs(), want, in, out)
	if err != nil {
		return nil, err
	}
	mi, err := Mp.NewMIDIInput(port, inputBuffer)
	if err != nil {
		return nil, err
	}
	return mi, nil
}

func openJSONL(path string) (*Mp.JSONOutput, error) {
	if path == "-" {
		// stdout stays open after the output closes
		return Mp.NewJSONOutput(struct{ io.Writer }{os.Stdout}), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open JSON lines file: %w", err)
	}
	return Mp.NewJSONOutput(f), nil
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List MIDI input ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports := Mp.ListInputs()
			if len(ports) == 0 {
				return Mp.ErrNoMIDIInputs
			}
			for i, name := range ports {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s\n", i, name)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		journal string
		since   time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show dispatches recorded in a journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bj, err := Mp.NewBadgerJournal(journal, 0)
			if err != nil {
				return err
			}
			defer bj.Close()

			end := time.Now()
			ds, err := bj.QueryRange(end.Add(-since), end.Add(time.Second))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				jo := Mp.NewJSONOutput(out)
				for _, d := range ds {
					if err := jo.WriteDispatch(d); err != nil {
						return err
					}
				}
				return nil
			}
			for _, d := range ds {
				fmt.Fprintln(out, Md.DispatchLine(*d))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&journal, "journal", defaultJournal, "badger directory written by run --journal")
	cmd.Flags().DurationVar(&since, "since", time.Hour, "how far back to look")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Md.Version)
		},
	}
}
