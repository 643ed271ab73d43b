package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/anturkov/SQL-DB-CopyData/internal/catalog"
	"github.com/anturkov/SQL-DB-CopyData/internal/checkpoint"
	"github.com/anturkov/SQL-DB-CopyData/internal/config"
	"github.com/anturkov/SQL-DB-CopyData/internal/exitcodes"
	"github.com/anturkov/SQL-DB-CopyData/internal/logging"
	"github.com/anturkov/SQL-DB-CopyData/internal/mssql"
	"github.com/anturkov/SQL-DB-CopyData/internal/notify"
	"github.com/anturkov/SQL-DB-CopyData/internal/pipeline"
	"github.com/anturkov/SQL-DB-CopyData/internal/provision"
	"github.com/anturkov/SQL-DB-CopyData/internal/report"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "dbcopy",
		Usage:   "Bulk data copy between SQL Server databases on one instance",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			// Set log level from flag
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			// Set log format
			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Copy all table data from the source to the destination database",
				Action: runCopy,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "source",
						Usage: "Override the source database name",
					},
					&cli.StringFlag{
						Name:  "destination",
						Usage: "Override the destination database name",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of tables transferred in parallel",
					},
					&cli.BoolFlag{
						Name:  "clone",
						Usage: "Create the destination as a schema-only clone of the source first",
					},
					&cli.StringFlag{
						Name:  "restore-policy",
						Usage: "Failure policy when re-enabling constraints: warn or strict",
					},
				},
			},
			{
				Name:   "verify",
				Usage:  "Compare row counts between source and destination without copying",
				Action: verifyCounts,
			},
			{
				Name:   "history",
				Usage:  "List past copy runs, or view details of a specific run",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show per-table results for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of runs to list",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		logging.Error("%v (%s)", err, exitcodes.Description(code))
		if exitcodes.IsRecoverable(code) {
			logging.Info("This failure class is safe to retry")
		}
		os.Exit(code)
	}
}

func runCopy(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	if c.IsSet("source") {
		cfg.Source = c.String("source")
	}
	if c.IsSet("destination") {
		cfg.Destination = c.String("destination")
	}
	if c.IsSet("workers") {
		cfg.Copy.Workers = c.Int("workers")
	}
	if c.IsSet("clone") {
		cfg.Copy.CloneDestination = c.Bool("clone")
	}
	if c.IsSet("restore-policy") {
		cfg.Copy.RestoreFailurePolicy = strings.ToLower(c.String("restore-policy"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if logging.IsDebug() {
		dump, _ := yaml.Marshal(cfg.Sanitized())
		logging.Debug("Effective configuration:\n%s", dump)
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Finishing current statements...")
		cancel()
	}()

	restoreRecovery, err := prepareInstance(ctx, cfg)
	if err != nil {
		return err
	}
	defer restoreRecovery()

	pool, err := mssql.NewPool(cfg, cfg.Destination)
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("connecting to destination: %w", err), exitcodes.ConnectionError)
	}
	defer pool.Close()

	reader := catalog.NewReader(pool, cfg.Source)
	p := pipeline.New(cfg, pool, reader)

	hist, err := checkpoint.New(cfg.Copy.DataDir)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer hist.Close()

	if err := hist.RecordStart(p.RunID(), cfg.Source, cfg.Destination); err != nil {
		logging.Warn("Could not record run start: %v", err)
	}

	notifier := notify.New(&cfg.Slack)
	if err := notifier.RunStarted(p.RunID(), cfg.Source, cfg.Destination); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	started := time.Now()
	rep, runErr := p.Run(ctx)

	if rep == nil {
		if err := hist.RecordFailure(p.RunID(), runErr); err != nil {
			logging.Warn("Could not record run failure: %v", err)
		}
		if err := notifier.RunFailed(p.RunID(), runErr, time.Since(started)); err != nil {
			logging.Warn("Slack notification failed: %v", err)
		}
		return runErr
	}

	rep.Render()

	result := report.ResultOf(rep)
	if err := hist.RecordReport(rep, result.Status); err != nil {
		logging.Warn("Could not record run outcome: %v", err)
	}
	if err := notifier.RunCompleted(rep); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}
	if err := outputJSON(c, result); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
	}

	return runErr
}

// prepareInstance validates databases and privileges, optionally clones the
// destination, and puts it into SIMPLE recovery for the duration of the copy.
// The returned function restores the prior recovery model.
func prepareInstance(ctx context.Context, cfg *config.Config) (func(), error) {
	adminPool, err := mssql.NewPool(cfg, "master")
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("connecting to instance: %w", err), exitcodes.ConnectionError)
	}

	prov := provision.New(adminPool)

	if err := prov.EnsureDatabases(ctx, cfg.Source, cfg.Destination, cfg.Copy.CloneDestination); err != nil {
		adminPool.Close()
		return nil, err
	}
	if cfg.Copy.CloneDestination {
		if err := prov.CloneDestination(ctx, cfg.Source, cfg.Destination); err != nil {
			adminPool.Close()
			return nil, err
		}
	}
	if err := prov.CheckPrivileges(ctx, cfg.Destination); err != nil {
		adminPool.Close()
		return nil, err
	}

	prior, err := prov.RecoveryModel(ctx, cfg.Destination)
	if err != nil {
		adminPool.Close()
		return nil, err
	}
	if prior == "SIMPLE" {
		adminPool.Close()
		return func() {}, nil
	}

	if err := prov.SetRecoveryModel(ctx, cfg.Destination, "SIMPLE"); err != nil {
		adminPool.Close()
		return nil, err
	}
	logging.Info("Recovery model of %s switched from %s to SIMPLE for the copy", cfg.Destination, prior)

	return func() {
		// Restore with a fresh context; the run's may already be canceled.
		restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := prov.SetRecoveryModel(restoreCtx, cfg.Destination, prior); err != nil {
			logging.Warn("Could not restore recovery model of %s to %s: %v", cfg.Destination, prior, err)
		}
		adminPool.Close()
	}, nil
}

func verifyCounts(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()

	pool, err := mssql.NewPool(cfg, cfg.Destination)
	if err != nil {
		return exitcodes.NewExitError(fmt.Errorf("connecting to destination: %w", err), exitcodes.ConnectionError)
	}
	defer pool.Close()

	snap, err := catalog.NewReader(pool, cfg.Source).Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("reading source catalog: %w", err)
	}

	var source, dest []report.RowCount
	var mismatches int
	for i := range snap.Tables {
		t := &snap.Tables[i]
		srcRows, err := pool.RowCount(ctx, cfg.Source, t.Schema, t.Name)
		if err != nil {
			logging.Warn("Could not count rows in %s.%s: %v", cfg.Source, t.String(), err)
			srcRows = -1
		}
		dstRows, err := pool.RowCount(ctx, cfg.Destination, t.Schema, t.Name)
		if err != nil {
			logging.Warn("Could not count rows in %s.%s: %v", cfg.Destination, t.String(), err)
			dstRows = -1
		}
		if srcRows != dstRows {
			mismatches++
		}
		source = append(source, report.RowCount{Table: t.String(), Rows: srcRows, Origin: report.OriginSource})
		dest = append(dest, report.RowCount{Table: t.String(), Rows: dstRows, Origin: report.OriginDestination})
	}

	rep := &report.Report{
		SourceDB:      cfg.Source,
		DestinationDB: cfg.Destination,
		Counts:        report.Merge(source, dest),
	}
	rep.Render()

	if mismatches > 0 {
		return fmt.Errorf("%d of %d tables have mismatched row counts", mismatches, len(snap.Tables))
	}
	logging.Info("All %d tables match", len(snap.Tables))
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	hist, err := checkpoint.New(cfg.Copy.DataDir)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer hist.Close()

	if runID := c.String("run"); runID != "" {
		results, err := hist.TableResults(runID)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Printf("No table results recorded for run %s\n", runID)
			return nil
		}
		fmt.Printf("%-40s %12s %12s %s\n", "Table", "Source", "Destination", "Status")
		for _, r := range results {
			status := "ok"
			if r.Failed {
				status = "FAILED"
			}
			fmt.Printf("%-40s %12d %12d %s\n", r.Table, r.SourceRows, r.DestinationRows, status)
		}
		return nil
	}

	runs, err := hist.RecentRuns(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	fmt.Printf("%-36s %-20s %-24s %-10s %s\n", "Run ID", "Started", "Status", "Tables", "Failed")
	for _, r := range runs {
		fmt.Printf("%-36s %-20s %-24s %-10d %d\n",
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			r.TablesTotal,
			r.TablesFailed)
	}
	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !c.IsSet("config") {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	return config.Load(configPath)
}

// outputJSON writes the run result as JSON to stdout and/or a file
func outputJSON(c *cli.Context, result *report.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	// Write to stdout if --output-json flag is set
	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	// Write to file if --output-file flag is set
	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
