package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("PatternBrainz v%s\n", version)
	fmt.Println("Pattern-driven motion streaming daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  patternbrainz [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Streams position commands built from recorded motion patterns to a")
	fmt.Println("  device server. Speed follows an operator base, an optional joystick,")
	fmt.Println("  timed build-up ramps and a chaos mode. Control it over the IPC socket")
	fmt.Println("  (see patternctl) and watch it on the state WebSocket (see patternmon).")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  patternbrainz -config ~/.config/patternbrainz/config.yaml")
	fmt.Println("  patternbrainz -patterns-dir ./patterns -category slow -joystick")
	fmt.Println("  patternbrainz -transport ws -transport-url ws://127.0.0.1:8080/ws")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Flags override values from the config file")
	fmt.Println("  - Joystick access needs read permission on /dev/input/js* (group 'input')")
}

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		patternsDir   = flag.String("patterns-dir", "", "Pattern library root (one folder per category)")
		category      = flag.String("category", "", "Initial pattern category")
		transportKind = flag.String("transport", "", "Device transport: http|ws")
		transportURL  = flag.String("transport-url", "", "Device server URL")
		requireDevice = flag.Bool("require-device", false, "Refuse to play until the device server reports a device")
		joystick      = flag.Bool("joystick", false, "Enable joystick input")
		joystickDev   = flag.String("joystick-device", "", "Joystick device (e.g. /dev/input/js0)")
		statusPath    = flag.String("status-path", "", "Status snapshot file")
		ipcSocket     = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		httpListen    = flag.String("http-listen", "", "State WebSocket listen address")
		logLevelStr   = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion   = flag.Bool("version", false, "Print version and exit")
		showHelp      = flag.Bool("help", false, "Print help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "patterns-dir":
			o.PatternsDir = patternsDir
		case "category":
			o.Category = category
		case "transport":
			o.TransportKind = transportKind
		case "transport-url":
			o.TransportURL = transportURL
		case "require-device":
			o.RequireDevice = requireDevice
		case "joystick":
			o.JoystickEnabled = joystick
		case "joystick-device":
			o.JoystickDevice = joystickDev
		case "status-path":
			o.StatusPath = statusPath
		case "ipc-socket":
			o.IPCSocket = ipcSocket
		case "http-listen":
			o.HTTPListen = httpListen
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("patternbrainz exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires every task and blocks until ctx is canceled or a task fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	store := NewPatternStore(os.DirFS(ExpandPath(cfg.Patterns.Dir)), logger)

	categories, err := store.RefreshCategories()
	if err != nil {
		return fmt.Errorf("scan patterns: %w", err)
	}
	categories = slices.DeleteFunc(categories, func(c string) bool { return c == cfg.Patterns.ClimaxCategory })

	initial := cfg.Patterns.Category
	if initial == "" && len(categories) > 0 {
		initial = categories[0]
	}
	if initial != "" {
		if err := store.Load(initial); err != nil {
			// Playback stays unavailable until set_category succeeds.
			logger.Warn("initial category not loaded", "category", initial, "error", err)
		}
	} else {
		logger.Warn("no pattern categories found", "dir", cfg.Patterns.Dir)
	}
	if err := store.LoadClimax(cfg.Patterns.ClimaxCategory); err != nil {
		logger.Warn("climax patterns not loaded", "category", cfg.Patterns.ClimaxCategory, "error", err)
	}

	events := make(chan Event, 64)
	post := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	limits := cfg.SpeedLimits()
	controls := NewControls(limits.Neutral)
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))

	engine := NewEngine(cfg.EngineConfig(), store, controls, rng, logger.With("component", "engine"))
	engine.SetCategories(categories)

	transport, err := NewTransport(cfg.Transport, func(connected, deviceFound bool) {
		select {
		case events <- TransportStatusObserved{Connected: connected, DeviceFound: deviceFound}:
		default:
			logger.Warn("event queue full, dropping transport status")
		}
	}, logger.With("component", "transport"))
	if err != nil {
		return err
	}
	defer transport.Close()

	queue := NewBroadcastQueue(256, logger)
	notifier := NewNotifier(queue, logger.With("component", "cues"))
	server := NewServer(logger.With("component", "ws"), events, ServerConfig{})

	var sink StatusFileSink
	var statusWriter *StatusWriter
	if cfg.Status.Enabled {
		statusWriter = NewStatusWriter(ExpandPath(cfg.Status.Path), msDuration(cfg.Status.IntervalMS), logger)
		sink = statusWriter
	}

	fx := Effects{
		Device: transport,
		Cues:   notifier,
		Status: queue,
		Loader: store,
		Loads:  &CategoryLoads{},
	}
	validator := EventValidator{Limits: limits, BuildupDefaults: cfg.BuildupDefaults()}

	logger.Info("starting patternbrainz",
		"version", version,
		"patterns_dir", cfg.Patterns.Dir,
		"category", initial,
		"categories", len(categories),
		"transport", cfg.Transport.Kind,
		"transport_url", cfg.Transport.URL,
		"joystick", cfg.Joystick.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runDaemon(gctx, events, engine, fx, msDuration(cfg.Dispatch.FloorMS), post, logger.With("component", "daemon"))
		return nil
	})
	g.Go(func() error { return transport.Run(gctx) })
	g.Go(func() error {
		server.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, server.Hub(), queue.C(), sink, logger)
		return nil
	})
	if statusWriter != nil {
		g.Go(func() error {
			statusWriter.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, validator, logger.With("component", "ipc"))
	})
	if cfg.HTTP.Listen != "" {
		g.Go(func() error { return runHTTPServer(gctx, cfg.HTTP.Listen, server, logger) })
	}
	if cfg.Joystick.Enabled {
		js := NewJoystick(cfg.Joystick, limits, controls, events, logger.With("component", "joystick"))
		g.Go(func() error {
			// A missing joystick degrades to IPC-only control.
			if err := runJoystick(gctx, js); err != nil {
				logger.Error("joystick stopped", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// runHTTPServer serves the state WebSocket until ctx is canceled.
func runHTTPServer(ctx context.Context, addr string, server *Server, logger *slog.Logger) error {
	mux := http.NewServeMux()
	server.Register(mux, "/ws/state")

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("state server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("state server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("state server shutdown", "error", err)
	}
	return nil
}
