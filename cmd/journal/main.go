package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pbaille/journal/internal/api"
	"github.com/pbaille/journal/internal/config"
	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/logging"
	"github.com/pbaille/journal/internal/store"
	"github.com/pbaille/journal/internal/supervisor"
)

var (
	configPath string
	dbPath     string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "journal",
		Short:         "Journal with background mood and topic analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			logging.Init(cfg.LoggingConfig())
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(runOnceCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(categoriesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp opens the app for one command and closes it afterwards
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a)
	}
}

// resolveID accepts a full id or a unique prefix of a recent entry
func resolveID(ctx context.Context, s *store.Store, id string) (string, error) {
	if _, err := s.GetContent(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	entries, err := s.ListContents(ctx, 500, 0)
	if err != nil {
		return "", err
	}
	var found string
	for _, e := range entries {
		if strings.HasPrefix(e.ID, id) {
			if found != "" {
				return "", fmt.Errorf("ambiguous id prefix: %s", id)
			}
			found = e.ID
		}
	}
	if found == "" {
		return "", fmt.Errorf("entry not found: %s", id)
	}
	return found, nil
}

func serveCmd() *cobra.Command {
	var addr string
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server and analysis workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if n, err := a.runner.RecoverStale(ctx); err == nil && n > 0 {
				logging.Info().Int64("jobs", n).Msg("recovered jobs left running by a previous process")
			}

			tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
			if !noWorkers {
				for _, svc := range a.runner.Services() {
					tree.AddWorker(svc)
				}
			}
			tree.AddMessagingService(a.notifier)

			server := api.New(a.journal, a.store, a.client)
			tree.AddAPIService(supervisor.NewHTTPService(server.HTTPServer(cfg.Server.Addr), cfg.Server.ShutdownTimeout))

			logging.Info().
				Str("addr", cfg.Server.Addr).
				Str("analysis_url", cfg.Analysis.BaseURL).
				Int("workers", cfg.Jobs.Workers).
				Bool("workers_enabled", !noWorkers).
				Msg("journal server starting")

			if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logging.Info().Msg("journal server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (overrides config)")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the API only; run workers elsewhere")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run analysis workers without the API",
		RunE: withApp(func(ctx context.Context, a *app) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
			for _, svc := range a.runner.Services() {
				tree.AddWorker(svc)
			}
			tree.AddMessagingService(a.notifier)

			logging.Info().Int("workers", cfg.Jobs.Workers).Msg("analysis workers starting")
			if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}),
	}
}

func addCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Add a new entry and schedule its analysis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args, " ")
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.journal.Create(ctx, title, body)
				if err != nil && (res == nil || res.Content == nil) {
					return err
				}
				fmt.Printf("Added entry: %s\n", shortID(res.Content.ID))
				fmt.Printf("Content: %s\n", truncate(res.Content.Body, 80))
				if res.Job != nil {
					fmt.Printf("Analysis queued: job %s\n", shortID(res.Job.ID))
				} else {
					fmt.Printf("(analysis not scheduled: %v)\n", err)
				}
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "entry title")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [url]",
		Short: "Create an entry from a web page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.journal.Import(ctx, args[0])
				if err != nil && (res == nil || res.Content == nil) {
					return err
				}
				fmt.Printf("Imported entry: %s\n", shortID(res.Content.ID))
				fmt.Printf("Title: %s\n", res.Content.Title)
				return nil
			})(cmd, args)
		},
	}
}

func listCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent entries",
		RunE: withApp(func(ctx context.Context, a *app) error {
			entries, err := a.store.ListContents(ctx, limit, 0)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entries yet. Use 'journal add' to create one.")
				return nil
			}
			for _, e := range entries {
				mark := " "
				if e.Analyzed() {
					mark = "*"
				}
				fmt.Printf("%s %s  %s\n", shortID(e.ID), mark, truncate(firstNonBlank(e.Title, e.Body), 60))
			}
			return nil
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show an entry with its latest analyses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				id, err := resolveID(ctx, a.store, args[0])
				if err != nil {
					return err
				}
				c, err := a.store.GetContent(ctx, id)
				if err != nil {
					return err
				}

				fmt.Printf("ID:      %s\n", c.ID)
				fmt.Printf("Created: %s\n", formatTime(c.CreatedAt))
				if c.Title != "" {
					fmt.Printf("Title:   %s\n", c.Title)
				}
				fmt.Printf("Content:\n%s\n", c.Body)

				if c.LatestEmotionAnalysisID != nil {
					if e, err := a.store.GetEmotionAnalysis(ctx, *c.LatestEmotionAnalysisID); err == nil {
						fmt.Printf("\nMood:     %s (%s %s)\n", e.TopLabel, e.ModelName, e.ModelVersion)
					}
				}
				if c.LatestCategoryAnalysisID != nil {
					if ca, err := a.store.GetCategoryAnalysis(ctx, *c.LatestCategoryAnalysisID); err == nil {
						fmt.Printf("Category: %s (confidence %.2f)\n", domain.Humanize(ca.PrimaryCategory), ca.Confidence)
					}
				}
				if !c.Analyzed() {
					fmt.Println("\n(not analyzed yet)")
				}

				if len(c.Tags) > 0 {
					fmt.Printf("\nTags:\n")
					for _, t := range c.Tags {
						fmt.Printf("  - %s [%s]\n", t.Name, t.Kind)
					}
				}
				return nil
			})(cmd, args)
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [id]",
		Short: "Schedule a fresh analysis of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				id, err := resolveID(ctx, a.store, args[0])
				if err != nil {
					return err
				}
				job, err := a.journal.Reanalyze(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("Analysis queued: job %s\n", shortID(job.ID))
				return nil
			})(cmd, args)
		},
	}
}

func runOnceCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Process ready analysis jobs in the foreground",
		RunE: withApp(func(ctx context.Context, a *app) error {
			if all {
				n, err := a.runner.Drain(ctx)
				fmt.Printf("Processed %d job(s)\n", n)
				return err
			}
			ran, err := a.runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Println("No job ready.")
			} else {
				fmt.Println("Processed 1 job")
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&all, "all", false, "keep going until no job is ready")
	return cmd
}

func jobsCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List analysis jobs",
		RunE: withApp(func(ctx context.Context, a *app) error {
			js, err := a.store.ListJobs(ctx, domain.JobStatus(status), limit)
			if err != nil {
				return err
			}
			if len(js) == 0 {
				fmt.Println("No jobs.")
				return nil
			}
			for _, j := range js {
				fmt.Printf("%s  %-9s  entry %s  attempts %d/%d", shortID(j.ID), j.Status, shortID(j.ContentID), j.Attempts, j.MaxAttempts)
				if j.LastError != "" {
					fmt.Printf("  last error: %s", truncate(j.LastError, 60))
				}
				fmt.Println()
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (queued, running, succeeded, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	return cmd
}

func tagsCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List all tags",
		RunE: withApp(func(ctx context.Context, a *app) error {
			tags, err := a.store.ListTags(ctx, domain.TagKind(kind))
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				fmt.Println("No tags yet. System tags emerge from entry analysis.")
				return nil
			}
			for _, t := range tags {
				fmt.Printf("%-24s %-6s %s\n", t.Name, t.Kind, t.Color)
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "filter by kind (user, system)")
	return cmd
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the categories the analysis service knows",
		RunE: withApp(func(ctx context.Context, a *app) error {
			for _, c := range a.client.Categories(ctx) {
				fmt.Printf("%-22s %s\n", c, domain.Humanize(c))
			}
			return nil
		}),
	}
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
