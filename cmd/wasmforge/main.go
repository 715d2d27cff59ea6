package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/wasmforge/internal/compile"
	"git.home.luguber.info/inful/wasmforge/internal/config"
	"git.home.luguber.info/inful/wasmforge/internal/daemonproc"
	"git.home.luguber.info/inful/wasmforge/internal/events"
	"git.home.luguber.info/inful/wasmforge/internal/history"
	"git.home.luguber.info/inful/wasmforge/internal/janitor"
	"git.home.luguber.info/inful/wasmforge/internal/logfields"
	"git.home.luguber.info/inful/wasmforge/internal/metrics"
	"git.home.luguber.info/inful/wasmforge/internal/version"
	"git.home.luguber.info/inful/wasmforge/internal/watcher"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"wasmforge.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Compile struct {
		Archive string `arg:"" optional:"" help:"Source package archive (tar.gz or zip)"`
		GitURL  string `help:"Fetch sources from a git remote instead of an archive"`
		GitRef  string `help:"Branch or tag to fetch; empty means the remote default"`
		Output  string `short:"o" help:"Artifact output directory"`
	} `cmd:"" help:"Compile one source package to wasm"`

	Watch struct{} `cmd:"" help:"Run the registry watcher and cache janitor until interrupted"`

	Rules struct{} `cmd:"" help:"Print the active manifest patch rules"`

	History struct {
		Limit int `default:"20" help:"Number of recent jobs to show"`
	} `cmd:"" help:"Show recent compile jobs from the ledger"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if CLI.Verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	config.SetupLogging(cfg.Logging)

	var code int
	switch kctx.Command() {
	case "compile <archive>", "compile":
		code = runCompile(cfg)
	case "watch":
		code = runWatch(cfg)
	case "rules":
		code = runRules(cfg)
	case "history":
		code = runHistory(cfg)
	case "version":
		fmt.Printf("wasmforge %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", kctx.Command())
		code = 1
	}
	os.Exit(code)
}

func runCompile(cfg *config.Config) int {
	req := compile.CompileRequest{
		GitURL:    CLI.Compile.GitURL,
		GitRef:    CLI.Compile.GitRef,
		OutputDir: CLI.Compile.Output,
	}
	if CLI.Compile.Archive != "" {
		data, err := os.ReadFile(CLI.Compile.Archive)
		if err != nil {
			slog.Error("failed to read archive", logfields.Path(CLI.Compile.Archive), logfields.Error(err))
			return 1
		}
		req.Archive = data
	}

	opts := compile.Options{Recorder: metrics.NoopRecorder{}}
	if cfg.History.Enabled {
		ledger, err := history.Open(cfg.History.Path)
		if err != nil {
			slog.Error("failed to open job ledger", logfields.Error(err))
			return 1
		}
		defer ledger.Close()
		opts.Ledger = ledger
	}
	if cfg.Events.Enabled {
		pub, err := events.NewNATSPublisher(cfg.Events)
		if err != nil {
			slog.Error("failed to connect event publisher", logfields.Error(err))
			return 1
		}
		defer pub.Close()
		opts.Publisher = pub
	}

	svc, err := compile.NewService(cfg, opts)
	if err != nil {
		slog.Error("failed to initialize compile service", logfields.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := svc.Compile(ctx, req)
	if err != nil {
		slog.Error("compile failed", logfields.Error(err))
		if res != nil && res.Report.ToolOutput != "" {
			fmt.Fprintln(os.Stderr, res.Report.ToolOutput)
		}
		return 1
	}

	fmt.Println(res.Report.Summary())
	for _, f := range res.WasmFiles {
		fmt.Println(f)
	}
	return 0
}

func runWatch(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := compile.Options{}
	if cfg.Metrics.ListenAddr != "" {
		registry := prom.NewRegistry()
		opts.Recorder = metrics.NewPrometheusRecorder(registry)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.HTTPHandler(registry))
			slog.Info("metrics endpoint listening", slog.String("addr", cfg.Metrics.ListenAddr))
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				slog.Error("metrics endpoint failed", logfields.Error(err))
			}
		}()
	}

	svc, err := compile.NewService(cfg, opts)
	if err != nil {
		slog.Error("failed to initialize compile service", logfields.Error(err))
		return 1
	}

	if cfg.Node.Enabled {
		daemons := daemonproc.NewRegistry()
		defer daemons.StopAll()
		pid, err := daemons.Start("sim-node", daemonproc.StartOptions{
			Program: cfg.Node.Program,
			Args:    cfg.Node.Args,
		})
		if err != nil {
			slog.Error("failed to start simulator node", logfields.Error(err))
			return 1
		}
		slog.Info("simulator node running", logfields.DaemonKind("sim-node"), logfields.PID(pid))
	}

	w, err := watcher.Start(ctx, cfg.Registry.Dir, svc.Rules().Rules, cfg.Registry.SweepInterval)
	if err != nil {
		slog.Error("failed to start registry watcher", logfields.Error(err))
		return 1
	}
	defer w.Stop()

	j, err := janitor.New(svc.Cache(), svc.Workspaces(), cfg.Cache.MaxEntryAge, nil)
	if err != nil {
		slog.Error("failed to create janitor", logfields.Error(err))
		return 1
	}
	if err := j.Start(cfg.Cache.JanitorInterval); err != nil {
		slog.Error("failed to start janitor", logfields.Error(err))
		return 1
	}
	defer func() {
		if err := j.Stop(); err != nil {
			slog.Warn("janitor shutdown failed", logfields.Error(err))
		}
	}()

	slog.Info("watching registry", logfields.Path(cfg.Registry.Dir))
	<-ctx.Done()
	return 0
}

func runRules(cfg *config.Config) int {
	svc, err := compile.NewService(cfg, compile.Options{})
	if err != nil {
		slog.Error("failed to initialize compile service", logfields.Error(err))
		return 1
	}

	rules := svc.Rules()
	for _, r := range rules.Rules {
		fmt.Printf("rule %-18s package=%s bad=%v", r.Name, r.Package, r.BadVersions)
		if r.PinVersion != "" {
			fmt.Printf(" pin=%s", r.PinVersion)
		}
		fmt.Println()
	}
	for _, s := range rules.Signatures {
		fmt.Printf("signature %-18s %q\n", s.Rule, s.Signature)
	}
	return 0
}

func runHistory(cfg *config.Config) int {
	ledger, err := history.Open(cfg.History.Path)
	if err != nil {
		slog.Error("failed to open job ledger", logfields.Error(err))
		return 1
	}
	defer ledger.Close()

	records, err := ledger.Recent(context.Background(), CLI.History.Limit)
	if err != nil {
		slog.Error("failed to query job ledger", logfields.Error(err))
		return 1
	}
	for _, rec := range records {
		fmt.Printf("%s %-8s job=%s attempts=%d duration=%s",
			rec.FinishedAt.Format("2006-01-02 15:04:05"), rec.Outcome, rec.JobID, rec.Attempts, rec.Duration)
		if rec.Signature != "" {
			fmt.Printf(" defect=%q", rec.Signature)
		}
		fmt.Println()
	}
	return 0
}
