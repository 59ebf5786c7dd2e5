package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"arbitration-rag/internal/api"
	"arbitration-rag/internal/config"
	"arbitration-rag/internal/logger"
	"arbitration-rag/internal/mcpadapter"
	"arbitration-rag/internal/setup"
	"arbitration-rag/internal/tui"
)

const usage = `Usage: rag [--config=config.yaml] [command] [args]

Commands:
  tui            interactive search (default)
  serve          HTTP API with OpenAPI document
  mcp            MCP server over stdio
  query "text"   answer one question and exit
`

var errUsage = errors.New("unknown command")

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	_ = godotenv.Load()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Error().Err(err).Msg("rag failed")
		os.Exit(1)
	}
}

// run executes one command. Cleanup is deferred here so it also happens
// when the command fails.
func run(argv []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("rag", flag.ContinueOnError)
	var cfgPath string
	var topK int
	fs.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/arbitration-rag/config.yaml if not provided)")
	fs.IntVar(&topK, "top-k", 0, "Sources per query (0 uses retrieval.top_k)")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage); fs.PrintDefaults() }
	if err := fs.Parse(argv); err != nil {
		return err
	}

	cmd, args := "tui", fs.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "tui", "serve", "mcp", "query":
	default:
		fs.Usage()
		return fmt.Errorf("%w: %s", errUsage, cmd)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The TUI and MCP modes own the terminal streams.
	quiet := cmd == "tui" || cmd == "mcp"
	appLogger, closer, err := logger.New(cfg.Log, quiet)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := setup.Wire(ctx, cfg, &appLogger)
	if err != nil {
		return fmt.Errorf("unable to wire dependencies: %w", err)
	}
	defer deps.Close()

	switch cmd {
	case "tui":
		err = runTUI(ctx, deps, topK)
	case "serve":
		err = runServer(ctx, deps, cfg.Server)
	case "mcp":
		err = runMCP(ctx, deps)
	case "query":
		err = runQuery(ctx, deps, strings.Join(args, " "), topK, stdout)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func runTUI(ctx context.Context, deps *setup.Dependencies, topK int) error {
	fmt.Fprintln(os.Stderr, "Indexing corpus...")
	if err := deps.Service.Initialize(ctx); err != nil {
		return err
	}
	m := tui.New(deps.Service, deps.Service.Summary(), topK)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runQuery(ctx context.Context, deps *setup.Dependencies, text string, topK int, out io.Writer) error {
	if strings.TrimSpace(text) == "" {
		return errors.New(`query text required: rag query "..."`)
	}
	if err := deps.Service.Initialize(ctx); err != nil {
		return err
	}
	res, err := deps.Service.Query(ctx, text, topK)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Answer)
	if len(res.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
	}
	for i, s := range res.Sources {
		m := s.Chunk.Metadata
		fmt.Fprintf(out, "  [%d] %.3f  %s | %s: %s  (%s)\n", i+1, s.Score, m.CaseTitle, m.DocumentType, m.DocumentTitle, s.Chunk.ID)
	}
	return nil
}

func runMCP(ctx context.Context, deps *setup.Dependencies) error {
	if err := deps.Service.Initialize(ctx); err != nil {
		return err
	}
	server := mcpadapter.NewServer(deps.Service)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		// EOF / "server is closing" is expected when stdin closes
		if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "server is closing") {
			deps.Logger.Debug().Err(err).Msg("MCP server stopped")
			return nil
		}
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, deps *setup.Dependencies, sc config.ServerConfig) error {
	logger := deps.Logger

	// Index in the background; endpoints answer 503 until ready.
	go func() {
		if err := deps.Service.Initialize(ctx); err != nil {
			logger.Error().Err(err).Msg("corpus indexing failed")
		}
	}()

	container := api.NewContainer(api.NewHandler(deps.Service, logger), logger)

	c := cors.New(cors.Options{
		AllowedOrigins: sc.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept", "X-Request-ID"},
	})

	srv := &http.Server{
		Addr:         sc.Addr,
		Handler:      c.Handler(container),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", sc.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
