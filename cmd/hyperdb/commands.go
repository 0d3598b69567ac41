package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/cli"
	"github.com/hyperjump/hyperdb/internal/document"
	"github.com/hyperjump/hyperdb/internal/server"
	"github.com/hyperjump/hyperdb/internal/storage"
	"github.com/hyperjump/hyperdb/internal/store"
	"github.com/hyperjump/hyperdb/internal/watcher"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var watch, syncExisting bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the store and start the HTTP server",
		Long: `Loads the snapshot, or builds it from the data path when it does not exist,
then serves the HTTP API until interrupted. The snapshot is saved on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(g)
			if err != nil {
				return err
			}
			defer c.Close()
			logger := c.logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := c.engine.Open(ctx); err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}

			if watch || c.cfg.Watch.Enabled {
				w := watcher.New(c.cfg.Ingest.DataPath, c.engine,
					watcher.WithFilter(c.engine.Accepts),
					watcher.WithRecursive(c.cfg.Watch.RecursiveOrDefault()),
					watcher.WithLogger(logger))
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start watcher: %w", err)
				}
				defer w.Stop()
				if syncExisting {
					go w.SyncExistingFiles()
				}
			}

			srv := server.NewServer(c.engine, &c.cfg.Server, logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("Server shutdown failed", zap.Error(err))
			}
			if err := c.engine.Save(); err != nil {
				logger.Warn("Snapshot save failed", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "watch the data path for changes (overrides watch.enabled)")
	cmd.Flags().BoolVar(&syncExisting, "sync", false, "re-ingest existing files when the watcher starts")
	return cmd
}

func newBuildCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Ingest the data path into a new snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(g)
			if err != nil {
				return err
			}
			defer c.Close()
			if _, err := os.Stat(c.cfg.Store.SnapshotPath); err == nil && !force {
				return fmt.Errorf("snapshot %s already exists (use --force to rebuild)", c.cfg.Store.SnapshotPath)
			}
			n, err := c.engine.Build(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Built %d documents into %s\n", n, c.cfg.Store.SnapshotPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing snapshot")
	return cmd
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var (
		topK     int
		output   string
		asRecord bool
	)
	cmd := &cobra.Command{
		Use:   "query [flags] <text>",
		Short: "Rank stored documents against a query",
		Long: `Query is all remaining arguments joined by spaces. With --record the query is
parsed as a JSON object and embedded like a stored record.`,
		Example: `  hyperdb query machine learning
  hyperdb query --top-k 10 --output json "vector databases"
  hyperdb query --record '{"description": "invoices from 2023"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			q, err := buildQuery(args, asRecord)
			if err != nil {
				return err
			}
			c, err := setup(g)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.loadSnapshot(false); err != nil {
				return err
			}
			results, err := c.engine.Query(cmd.Context(), q, topK)
			if err != nil {
				return err
			}
			return cli.WriteQueryResults(cmd.OutOrStdout(), results, format)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", store.DefaultTopK, "number of results")
	cmd.Flags().StringVarP(&output, "output", "o", string(cli.OutputText), "output format: text or json")
	cmd.Flags().BoolVar(&asRecord, "record", false, "parse the query as a JSON object")
	return cmd
}

// buildQuery joins args into a query document. Blank input is an error.
func buildQuery(args []string, asRecord bool) (document.Document, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if s := strings.TrimSpace(a); s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		return document.Document{}, errors.New("query is empty")
	}
	if !asRecord {
		return document.Text(text), nil
	}
	rec := document.NewRecord()
	if err := json.Unmarshal([]byte(text), rec); err != nil {
		return document.Document{}, fmt.Errorf("query is not a JSON object: %w", err)
	}
	return document.FromRecord(rec), nil
}

func newListCmd(g *globalFlags) *cobra.Command {
	var (
		vectors bool
		limit   int
		output  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			c, err := setup(g)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.loadSnapshot(false); err != nil {
				return err
			}
			var entries []store.Entry
			for e := range c.store.Listing(vectors) {
				if limit > 0 && len(entries) == limit {
					break
				}
				entries = append(entries, e)
			}
			return cli.WriteEntries(cmd.OutOrStdout(), entries, format)
		},
	}
	cmd.Flags().BoolVar(&vectors, "vectors", false, "include vectors")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries to print (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", string(cli.OutputText), "output format: text or json")
	return cmd
}

func newRemoveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <index>...",
		Short: "Remove documents by index and save the snapshot",
		Long:  `Indices refer to the listing before any removal; later entries shift down.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indices, err := parseIndices(args)
			if err != nil {
				return err
			}
			c, err := setup(g)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.loadSnapshot(false); err != nil {
				return err
			}
			for _, i := range indices {
				if err := c.store.RemoveDocument(i); err != nil {
					return err
				}
			}
			if err := c.engine.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d documents, %d remain\n", len(indices), c.store.Len())
			return nil
		},
	}
}

// parseIndices parses args as distinct non-negative indices, highest first,
// so removing them in order does not shift the ones still pending.
func parseIndices(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, a := range args {
		i, err := strconv.Atoi(a)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("invalid index %q", a)
		}
		out = append(out, i)
	}
	slices.Sort(out)
	slices.Reverse(out)
	return slices.Compact(out), nil
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var vectors bool
	cmd := &cobra.Command{
		Use:   "export <sqlite-path>",
		Short: "Copy the store listing into a SQLite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(g)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.loadSnapshot(false); err != nil {
				return err
			}
			n, err := storage.ExportSQLite(cmd.Context(), args[0], c.store.Listing(vectors))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d documents to %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&vectors, "vectors", true, "include vectors (without them import re-embeds)")
	return cmd
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <sqlite-path>",
		Short: "Append documents from a SQLite export and save the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(g)
			if err != nil {
				return err
			}
			defer c.Close()
			if !replace {
				if err := c.loadSnapshot(true); err != nil {
					return err
				}
			}
			docs, vecs, err := storage.ImportSQLite(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := c.store.AddDocuments(cmd.Context(), docs, vecs); err != nil {
				return err
			}
			if err := c.engine.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d documents, store holds %d\n", len(docs), c.store.Len())
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "start from an empty store instead of the existing snapshot")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show snapshot and store status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			c, err := setup(g)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.loadSnapshot(true); err != nil {
				return err
			}
			st := c.engine.Status()
			w := cmd.OutOrStdout()
			if format == cli.OutputJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintf(w, "Snapshot:   %s (%.2f MB)\n", st.SnapshotPath, storage.FormatMB(st.SnapshotBytes))
			fmt.Fprintf(w, "Documents:  %d\n", st.Documents)
			fmt.Fprintf(w, "Dimensions: %d\n", st.Dimensions)
			fmt.Fprintf(w, "Metric:     %s\n", st.Metric)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", string(cli.OutputText), "output format: text or json")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hyperdb version %s\n", version)
		},
	}
}
