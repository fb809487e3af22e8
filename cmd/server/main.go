package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/vinodismyname/mcpsheets/config"
	"github.com/vinodismyname/mcpsheets/internal/eval"
	"github.com/vinodismyname/mcpsheets/internal/query"
	"github.com/vinodismyname/mcpsheets/internal/registry"
	"github.com/vinodismyname/mcpsheets/internal/runtime"
	"github.com/vinodismyname/mcpsheets/internal/security"
	"github.com/vinodismyname/mcpsheets/internal/telemetry"
	"github.com/vinodismyname/mcpsheets/internal/workbook"
	"github.com/vinodismyname/mcpsheets/pkg/validation"
	"github.com/vinodismyname/mcpsheets/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg := config.Defaults()
	var useStdio bool

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.StringVar(&cfg.WorkbookPath, "workbook", "", "Workbook to serve (or "+config.EnvWorkbook+")")
	flag.StringVar(&cfg.DefaultLanguage, "default-language", cfg.DefaultLanguage, "Expression language when a call omits one: javascript or cel")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn, or error")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on host:port")
	flag.DurationVar(&cfg.EvaluationTimeout, "eval-timeout", cfg.EvaluationTimeout, "Per-operation expression time limit")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	flag.Parse()

	cfg = cfg.FromEnv(os.Getenv)

	// Logs go to stderr so stdout stays reserved for the protocol stream.
	logger := zlog.Output(os.Stderr).With().Str("service", "mcpsheets-server").Logger()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	ctx := logger.WithContext(context.Background())

	if msg := validation.ValidateStruct(cfg); msg != "" {
		logger.Error().Str("reason", msg).Msg("config: invalid configuration")
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManagerFromConfig(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set "+config.EnvAllowedDirs)
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set "+config.EnvAllowedDirs)
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	wb, err := workbook.NewLoader(secMgr, config.DefaultLoadParallelism).Load(ctx, cfg.WorkbookPath)
	if err != nil {
		logger.Error().Err(err).Msg("workbook: load failed")
		fmt.Fprintf(os.Stderr, "failed to load workbook: %v\n", err)
		os.Exit(1)
	}

	limits := runtime.NewLimits(config.DefaultMaxConcurrentRequests, config.DefaultMaxConcurrentEvals)
	limits.EvaluationTimeout = cfg.EvaluationTimeout
	runtimeController := runtime.NewController(limits)
	runtimeMW := runtime.NewMiddleware(runtimeController)
	metrics := telemetry.NewMetrics()

	allowed := []eval.Dialect{eval.JavaScript, eval.CEL}
	if !cfg.AllowJavaScript {
		allowed = []eval.Dialect{eval.CEL}
	}
	eng, err := query.New(wb, query.Options{
		DefaultLanguage:   eval.Dialect(strings.ToLower(cfg.DefaultLanguage)),
		AllowedLanguages:  allowed,
		EvaluationTimeout: limits.EvaluationTimeout,
		Gate:              runtimeController,
		Observer:          metrics,
	})
	if err != nil {
		logger.Error().Err(err).Msg("query: engine setup failed")
		fmt.Fprintf(os.Stderr, "invalid language configuration: %v\n", err)
		os.Exit(1)
	}

	toolRegistry := registry.New()
	scriptFilter := registry.NewScriptToolFilter(cfg.DisableScriptTools)

	srv := server.NewMCPServer(
		"MCP Sheet Query Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithRecovery(),
		server.WithHooks(telemetry.NewHooks(logger, metrics).Server()),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return scriptFilter.FilterTools(ctx, tools) }),
	)

	registry.RegisterQueryTools(srv, toolRegistry, eng, runtimeController.LimitsSnapshot(), scriptFilter)
	registry.RegisterSheetResources(srv, eng)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics listener stopped")
			}
		}()
	}

	toolContextSize := toolRegistry.ModelContextSize("gpt-4o")
	tools, err := toolRegistry.Tools(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("registry: tool listing failed")
		os.Exit(1)
	}

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Str("workbook", cfg.WorkbookPath).
		Str("workbook_id", wb.ID()).
		Int("sheets", len(wb.SheetNames())).
		Int("tools", len(tools)).
		Str("default_language", string(eng.DefaultLanguage())).
		Bool("script_tools", !cfg.DisableScriptTools).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("model_context_size", toolContextSize).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if !useStdio {
		// If no transport flags provided, print usage and exit non-zero
		fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
		os.Exit(2)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(srv, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
			return logger.WithContext(ctx)
		}))
	}()

	select {
	case err = <-errCh:
	case <-sigCtx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn().Err(serr).Msg("metrics listener shutdown")
		}
		cancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		// Use stderr for transport errors so clients don't misinterpret output
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
