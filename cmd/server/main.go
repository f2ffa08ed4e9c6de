package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	flag "github.com/spf13/pflag"

	"github.com/Azure/azure-resource-graph-mcp/internal/config"
	"github.com/Azure/azure-resource-graph-mcp/internal/logger"
	mcpserver "github.com/Azure/azure-resource-graph-mcp/internal/server"
	"github.com/Azure/azure-resource-graph-mcp/internal/version"
	"github.com/Azure/azure-resource-graph-mcp/pkg/graph"
)

const subscriptionLookupTimeout = 15 * time.Second

func main() {
	cfg := config.NewConfig()
	if err := cfg.ParseFlags(os.Args[1:]); err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			fmt.Print(cfg.Usage())
			os.Exit(0)
		case errors.Is(err, config.ErrVersion):
			fmt.Println(version.String())
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Warnf("Invalid log level %q, keeping %s", cfg.LogLevel, logger.GetLevel())
	}
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		logger.Warnf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Errorf("Server error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	scope := strings.TrimSuffix(cfg.Endpoint, "/") + "/.default"
	provider, err := graph.NewCredentialProvider(cfg.AuthConfig(), scope)
	if err != nil {
		return fmt.Errorf("failed to configure credentials: %w", err)
	}
	logger.Infof("Using %s authentication", provider.Mode())

	var resolver graph.SubscriptionResolver
	if cfg.DiscoverSubscription {
		resolver = graph.NewCLISubscriptionResolver()
	}
	lookupCtx, cancel := context.WithTimeout(ctx, subscriptionLookupTimeout)
	subscriptions := graph.ResolveDefaultSubscriptions(lookupCtx, cfg.DefaultSubscription, provider.Mode(), resolver)
	cancel()

	client := graph.NewClient(graph.ClientConfig{
		Endpoint:             cfg.Endpoint,
		Timeout:              cfg.TimeoutDuration(),
		DefaultSubscriptions: subscriptions,
		Version:              version.GetVersion(),
	}, provider)

	mcpServer := server.NewMCPServer(
		version.ServerName,
		version.GetVersion(),
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	handlers := mcpserver.NewHandlers(client, graph.NewFormatter(cfg.MaxChars), cfg.TimeoutDuration())
	handlers.Register(mcpServer)

	logger.Infof("Starting %s (version %s)", version.ServerName, version.GetVersion())
	return runServer(ctx, mcpServer, cfg)
}

func runServer(ctx context.Context, mcpServer *server.MCPServer, cfg *config.Config) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	switch cfg.Transport {
	case "stdio":
		logger.Infof("Listening for requests on STDIO...")
		return server.ServeStdio(mcpServer)

	case "sse":
		baseURL := fmt.Sprintf("http://%s", addr)
		sseServer := server.NewSSEServer(
			mcpServer,
			server.WithBaseURL(baseURL),
		)

		endpoints := []mcpserver.Endpoint{
			{Path: "/sse", Description: "Server-sent event stream"},
			{Path: "/message", Description: "JSON-RPC messages for an SSE session"},
			{Path: "/health", Description: "Health check"},
		}

		mux := http.NewServeMux()
		mux.Handle("/sse", sseServer.SSEHandler())
		mux.Handle("/message", sseServer.MessageHandler())
		mux.HandleFunc("/health", mcpserver.HealthHandler(cfg.Transport))

		logger.Infof("SSE server listening on %s", addr)
		logger.Infof("Connect to %s/sse for real-time events, send JSON-RPC to /message", baseURL)
		for _, e := range endpoints {
			logger.Debugf("Endpoint %s: %s", e.Path, e.Description)
		}

		return serveHTTP(ctx, addr, mux)

	case "streamable-http":
		endpoints := []mcpserver.Endpoint{
			{Path: "/mcp", Description: "Streamable HTTP MCP endpoint with sessions"},
			{Path: "/mcp-http", Description: "Stateless JSON-RPC over POST"},
			{Path: "/health", Description: "Health check"},
			{Path: "/", Description: "Server information (JSON)"},
			{Path: "/mcp-info", Description: "Server information (HTML)"},
		}
		info := mcpserver.NewServerInfo(cfg.Transport, endpoints, cfg.MaxChars, cfg.TimeoutDuration())
		infoPage, err := mcpserver.InfoPageHandler(info)
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))
		mux.Handle("/mcp-http", server.NewStreamableHTTPServer(mcpServer, server.WithStateLess(true)))
		mux.HandleFunc("/health", mcpserver.HealthHandler(cfg.Transport))
		mux.HandleFunc("/mcp-info", infoPage)
		mux.HandleFunc("/", mcpserver.InfoHandler(info))

		logger.Infof("Streamable HTTP server listening on %s", addr)
		logger.Infof("MCP endpoint available at: http://%s/mcp", addr)
		logger.Infof("Stateless endpoint available at: http://%s/mcp-http", addr)
		logger.Infof("Send POST requests to /mcp to initialize session and obtain Mcp-Session-Id")

		return serveHTTP(ctx, addr, mux)

	default:
		return fmt.Errorf("invalid transport type: %s (must be 'stdio', 'sse', or 'streamable-http')", cfg.Transport)
	}
}

// serveHTTP runs until ctx is cancelled, then drains connections.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Infof("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
