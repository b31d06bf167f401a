package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/lookout/internal/api"
	"github.com/FranksOps/lookout/internal/report"
	"github.com/FranksOps/lookout/internal/serp"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "run <name...>",
		Short: "Find, scrape and analyse a person's profiles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q", format)
			}
			a, err := newApp(opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			a.startMetrics()

			if err := a.buildPipeline(cmd.Context()); err != nil {
				return err
			}

			out, err := a.pipeline.RunDetailed(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			summary := report.GenerateSummary(out)
			if format == "json" {
				return report.WriteJSON(cmd.OutOrStdout(), summary)
			}
			return report.WriteText(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, json)")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query...>",
		Short: "Run a single search and print classified results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			results, err := a.search.Search(cmd.Context(), query)
			if err != nil {
				var pe *serp.ProviderError
				if errors.As(err, &pe) {
					return fmt.Errorf("%s search failed with status %d: %w", pe.Provider, pe.StatusCode, err)
				}
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d results for %q via %s\n", len(results), query, a.search.Name())
			for i, r := range results {
				fmt.Fprintf(w, "%2d. [%s] %s\n    %s\n", i+1, r.Source, r.Title, r.Link)
			}
			return nil
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var runTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyze API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.buildPipeline(cmd.Context()); err != nil {
				return err
			}

			addr := opts.cfg.Server.Addr
			if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
				addr = f.Value.String()
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(a.pipeline, runTimeout, a.logger).Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting server", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server failed: %w", err)
			case <-cmd.Context().Done():
				a.logger.Info("shutting down server")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 15*time.Minute, "maximum duration of one analyze request")
	return cmd
}
