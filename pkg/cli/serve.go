package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/service/mcp"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	var (
		cfg      config
		httpAddr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "http",
			Usage:       "Serve streamable HTTP on this address instead of stdio (e.g. 127.0.0.1:8080)",
			Sources:     cli.EnvVars("MKAI_HTTP_ADDR"),
			Destination: &httpAddr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run as an MCP server exposing the assistant as tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			logger := logging.From(ctx)

			ctrl, err := cfg.newController(ctx)
			if err != nil {
				return err
			}
			if _, err := ensureUser(ctx, ctrl); err != nil {
				return err
			}

			server := mcp.NewServer(ctrl)
			if httpAddr == "" {
				logger.Info("serving MCP over stdio")
				return server.Run(ctx)
			}

			httpServer := &http.Server{
				Addr:              httpAddr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("serving MCP over HTTP", "addr", httpAddr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "http server failed", goerr.V("addr", httpAddr))
				}
				return nil
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shut down http server")
				}
				return nil
			}
		},
	}
}
