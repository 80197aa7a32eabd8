package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/api"
	"github.com/Aman-CERP/docindex/internal/mcp"
	"github.com/Aman-CERP/docindex/internal/store"
)

// Serve transports.
const (
	transportStdio   = "stdio"
	transportHTTP    = "http"
	transportMCPHTTP = "mcp-http"
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		addr      string
		noIngest  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge store over MCP or HTTP",
		Long: `Serve the knowledge store.

Transports:
  stdio     MCP over stdin/stdout, for AI clients (default)
  http      JSON API on --addr
  mcp-http  MCP streamable HTTP on --addr

With stdio, logs go to ~/.docindex/logs/ only; stdout carries JSON-RPC.`,
		Example: `  docindex serve
  docindex serve --transport http --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, transport, addr, noIngest)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "", "stdio, http or mcp-http (default from config)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for http transports (default from config)")
	cmd.Flags().BoolVar(&noIngest, "no-ingest", false, "Do not offer document ingestion")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, transport, addr string, noIngest bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport == "" {
		transport = cfg.Server.Transport
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}
	switch transport {
	case transportStdio, transportHTTP, transportMCPHTTP:
	default:
		return fmt.Errorf("unknown transport %q (want stdio, http or mcp-http)", transport)
	}

	a, err := openApp(ctx, transport == transportStdio)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if !noIngest {
		if err := a.enableIngest(ctx); err != nil {
			return err
		}
	}

	slog.Info("serve_starting",
		slog.String("transport", transport),
		slog.String("addr", addr),
		slog.String("backend", a.store.Backend()),
		slog.Bool("ingest", a.orchestrator != nil))

	switch transport {
	case transportHTTP:
		var ing api.Ingestor
		if a.orchestrator != nil {
			ing = a.orchestrator
		}
		srv, err := api.NewServer(a.store, ing)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "docindex API listening on %s\n", addr)
		return srv.ListenAndServe(ctx, addr)
	default:
		var ing mcp.Ingestor
		if a.orchestrator != nil {
			ing = a.orchestrator
		}
		srv, err := mcp.NewServer(a.store, ing, store.DefaultCollectionNames())
		if err != nil {
			return err
		}
		mcpTransport := "stdio"
		if transport == transportMCPHTTP {
			mcpTransport = "http"
		}
		return srv.Serve(ctx, mcpTransport, addr)
	}
}
