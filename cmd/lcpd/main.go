package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/codelaboratoryltd/lcpd/pkg/fsm"
	"github.com/codelaboratoryltd/lcpd/pkg/lcpopt"
	"github.com/codelaboratoryltd/lcpd/pkg/metrics"
	"github.com/codelaboratoryltd/lcpd/pkg/session"
	"github.com/codelaboratoryltd/lcpd/pkg/transport"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lcpd",
	Short: "PPP Link Control Protocol negotiation daemon",
	Long: `lcpd - PPP LCP option negotiation over a UDP frame transport.

Each datagram carries one PPP frame; every peer address gets its own
session, negotiated per RFC 1661.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the LCP daemon",
	RunE:  runLCPD,
}

var (
	configFile  string
	logLevel    string
	listenAddr  string
	metricsAddr string
	capturePath string
	readBuffer  int
	maxSessions int

	// LCP options
	mru      uint16
	minMRU   uint16
	maxMRU   uint16
	magic    bool
	maxLoops int
	pfc      bool
	acfc     bool

	// Automaton timers and counters
	restartTimer time.Duration
	maxConfigure int
	maxTerminate int
	termLinger   time.Duration

	shutdownTimeout time.Duration
)

func init() {
	optDefaults := lcpopt.DefaultConfig()
	fsmDefaults := fsm.DefaultConfig()

	runCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/lcpd/config.yaml",
		"Configuration file path")
	runCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info",
		"Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&listenAddr, "listen", transport.DefaultConfig().ListenAddr,
		"UDP address to receive PPP frames on")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090",
		"Prometheus metrics and session API listen address")
	runCmd.Flags().StringVar(&capturePath, "capture", "",
		"Write every frame to this pcap file")
	runCmd.Flags().IntVar(&readBuffer, "read-buffer", 0,
		"Socket receive buffer size in bytes (0 = system default)")
	runCmd.Flags().IntVar(&maxSessions, "max-sessions", 0,
		"Maximum concurrent sessions (0 = unlimited)")

	// LCP option flags
	runCmd.Flags().Uint16Var(&mru, "mru", optDefaults.MRU,
		"MRU to propose (0 = do not propose)")
	runCmd.Flags().Uint16Var(&minMRU, "min-mru", optDefaults.MinMRU,
		"Smallest MRU accepted from peers")
	runCmd.Flags().Uint16Var(&maxMRU, "max-mru", optDefaults.MaxMRU,
		"Largest MRU accepted from peers")
	runCmd.Flags().BoolVar(&magic, "magic", optDefaults.Magic,
		"Negotiate magic numbers for loop detection")
	runCmd.Flags().IntVar(&maxLoops, "max-loops", optDefaults.MaxLoops,
		"Magic number collisions before a link is declared looped back")
	runCmd.Flags().BoolVar(&pfc, "pfc", optDefaults.PFC,
		"Negotiate Protocol-Field-Compression")
	runCmd.Flags().BoolVar(&acfc, "acfc", optDefaults.ACFC,
		"Negotiate Address-and-Control-Field-Compression")

	// Automaton flags
	runCmd.Flags().DurationVar(&restartTimer, "restart-timer", fsmDefaults.RestartTimer,
		"Restart timer for Configure-Request and Terminate-Request")
	runCmd.Flags().IntVar(&maxConfigure, "max-configure", fsmDefaults.MaxConfigure,
		"Configure-Request transmissions before giving up")
	runCmd.Flags().IntVar(&maxTerminate, "max-terminate", fsmDefaults.MaxTerminate,
		"Terminate-Request transmissions before giving up")
	runCmd.Flags().DurationVar(&termLinger, "term-linger", 3*time.Second,
		"How long a terminating session waits for LCP to finish")
	runCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second,
		"How long to wait for sessions to terminate on shutdown")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lcpd version %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
	},
}

func runLCPD(cmd *cobra.Command, args []string) error {
	// Initialize logger
	logger, err := initLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	// Load config file before consuming flag values.
	// CLI flags that were explicitly set take precedence.
	if err := loadConfigFile(cmd, logger); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("Starting lcpd",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("listen", listenAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Transport
	tcfg := transport.DefaultConfig()
	tcfg.ListenAddr = listenAddr
	tcfg.ReadBuffer = readBuffer
	srv, err := transport.NewServer(tcfg, logger.Named("transport"))
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	defer srv.Close()

	if capturePath != "" {
		capture, err := transport.OpenCapture(capturePath)
		if err != nil {
			return err
		}
		defer capture.Close()
		srv.SetCapture(capture)
		logger.Info("Capturing frames", zap.String("path", capturePath))
	}

	// Metrics
	m := metrics.New(srv, logger.Named("metrics"))
	if err := m.Register(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Sessions
	registry := lcpopt.NewRegistry(lcpopt.Config{
		MRU:      mru,
		MinMRU:   minMRU,
		MaxMRU:   maxMRU,
		Magic:    magic,
		MaxLoops: maxLoops,
		PFC:      pfc,
		ACFC:     acfc,
	})
	scfg := session.DefaultConfig(registry)
	scfg.FSM = fsm.Config{
		RestartTimer: restartTimer,
		MaxConfigure: maxConfigure,
		MaxTerminate: maxTerminate,
	}
	scfg.TermLinger = termLinger
	scfg.MaxSessions = maxSessions

	sessions, err := session.NewManager(scfg, srv, logger.Named("session"), session.WithRecorder(m))
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	srv.SetHandler(sessions)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/sessions", sessionsHandler(sessions, logger))
	httpServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	g.Go(func() error {
		logger.Info("Metrics server started", zap.String("addr", metricsAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		m.StartCollector(5*time.Second, gctx.Done())
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Sessions first so their Terminate-Requests still go out
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Sessions did not terminate cleanly", zap.Error(err))
		}
		if err := srv.Close(); err != nil {
			logger.Warn("Failed to close transport", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("lcpd started",
		zap.String("listen", srv.LocalAddr().String()),
		zap.String("metrics", metricsAddr),
		zap.Uint16("mru", mru),
		zap.Bool("magic", magic),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("lcpd stopped")
	return nil
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	config := zap.NewProductionConfig()
	config.Level = zapLevel
	config.Encoding = "json"

	return config.Build()
}

// loadConfigFile reads a YAML config file and applies values to unset flags.
// CLI flags take precedence over config file values.
func loadConfigFile(cmd *cobra.Command, logger *zap.Logger) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg map[string]string
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", configFile, err)
	}

	logger.Info("Loaded config file", zap.String("path", configFile), zap.Int("keys", len(cfg)))

	for key, val := range cfg {
		f := cmd.Flags().Lookup(key)
		if f == nil {
			logger.Warn("Unknown config key, skipping", zap.String("key", key))
			continue
		}
		if cmd.Flags().Changed(key) {
			continue
		}
		if err := cmd.Flags().Set(key, val); err != nil {
			logger.Warn("Failed to set config value",
				zap.String("key", key),
				zap.String("value", val),
				zap.Error(err),
			)
		}
	}

	return nil
}
