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
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"k8s.io/klog"

	"github.com/bcaldwell/plaid2qfx/pkg/config"
	"github.com/bcaldwell/plaid2qfx/pkg/exporter"
	"github.com/bcaldwell/plaid2qfx/pkg/influxutils"
	"github.com/bcaldwell/plaid2qfx/pkg/linker"
	"github.com/bcaldwell/plaid2qfx/pkg/metrics"
	"github.com/bcaldwell/plaid2qfx/pkg/output"
	"github.com/bcaldwell/plaid2qfx/pkg/plaid"
	"github.com/bcaldwell/plaid2qfx/pkg/postgresutils"
	"github.com/bcaldwell/plaid2qfx/pkg/state"
	"github.com/bcaldwell/plaid2qfx/pkg/statement"
)

type Runner interface {
	Run() error
}

var (
	configFile  string
	secretsFile string
	schedule    bool
	metricsAddr string
	remote      bool
)

func init() {
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config.yml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&secretsFile, "secrets", "./secrets.ejson", "ejson secrets file")

	exportCmd.Flags().BoolVar(&schedule, "schedule", false, "keep running and export on the configured cron schedule")
	exportCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address in scheduled mode, e.g. :9090")
	accountsCmd.Flags().BoolVar(&remote, "remote", false, "also list the accounts Plaid reports for each item")

	rootCmd.AddCommand(exportCmd, linkCmd, accountsCmd, updateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		klog.Flush()
		os.Exit(exitCode(err))
	}
	klog.Flush()
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrConfig), errors.Is(err, linker.ErrDuplicateItem):
		return 2
	case errors.Is(err, exporter.ErrUnknownItem):
		return 3
	case errors.Is(err, statement.ErrMissingRoutingNumber):
		return 4
	case errors.Is(err, statement.ErrNoFragments):
		return 5
	case errors.Is(err, plaid.ErrLoginRequired):
		return 6
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "plaid2qfx",
	Short: "Export bank transactions from Plaid as Quicken QFX statements",
	Long: `plaid2qfx links bank accounts through Plaid, downloads new transactions with
the transactions sync cursor and writes them as QFX files Quicken can import.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.ReadConfig(configFile, secretsFile)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportCmd.RunE(cmd, args)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [item]",
	Short: "Write a QFX file with the new transactions of every linked item, or just one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if len(config.CurrentConfig().Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No linked items yet, add one with: plaid2qfx link <name>")
			return nil
		}

		only := ""
		if len(args) == 1 {
			only = args[0]
		}

		runner, closer, err := newExportRunner(ctx, only, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer closer.Close()

		if schedule {
			if metricsAddr != "" {
				go serveMetrics(ctx, metricsAddr)
			}
			return runScheduled(ctx, runner, config.CurrentConfig().Schedule)
		}
		return runner.Run()
	},
}

var linkCmd = &cobra.Command{
	Use:   "link [name]",
	Short: "Link a new bank login through Plaid Link",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		client, err := newPlaidClient()
		if err != nil {
			return err
		}

		l := newLinker(client, cmd.InOrStdin(), cmd.OutOrStdout())
		item, err := l.Link(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s was linked successfully\n", item.Name)

		export, err := l.Confirm("Would you like to export transactions for this item now?")
		if err != nil || !export {
			return err
		}

		runner, closer, err := newExportRunner(ctx, item.Name, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer closer.Close()
		return runner.Run()
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List linked items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		var client *plaid.Client
		if remote {
			var err error
			client, err = newPlaidClient()
			if err != nil {
				return err
			}
		}

		for _, item := range config.CurrentConfig().Items {
			fmt.Fprintf(out, "\nLinked item --- %s\n", item.Name)
			for _, kv := range [][2]string{
				{"itemId", item.ItemID},
				{"institutionId", item.InstitutionID},
				{"routingNumber", item.RoutingNumber},
				{"bid", item.BID},
			} {
				fmt.Fprintf(out, "    %-15s %s\n", kv[0]+":", kv[1])
			}

			if client == nil {
				continue
			}

			accounts, err := client.Accounts(cmd.Context(), config.CurrentSecrets().AccessTokens[item.Name])
			if err != nil {
				return fmt.Errorf("failed to get accounts for %s: %w", item.Name, err)
			}
			linker.PrintAccounts(out, accounts)
		}

		return nil
	},
}

var updateConfigCmd = &cobra.Command{
	Use:   "update-config",
	Short: "Interactively update the general settings in the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return newLinker(nil, cmd.InOrStdin(), cmd.OutOrStdout()).UpdateConfig()
	},
}

func newPlaidClient() (*plaid.Client, error) {
	client, err := plaid.NewClient(
		config.CurrentConfig().Environment,
		config.CurrentSecrets().Plaid.ClientID,
		config.CurrentSecrets().Plaid.Secret,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	return client, nil
}

func newLinker(client linker.Client, in io.Reader, out io.Writer) *linker.Linker {
	return linker.New(linker.Options{
		Client:      client,
		Config:      config.CurrentConfig(),
		ConfigFile:  configFile,
		SecretsFile: secretsFile,
		In:          in,
		Out:         out,
	})
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, closer := range c {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newExportRunner(ctx context.Context, only string, in io.Reader, out io.Writer) (Runner, io.Closer, error) {
	cfg := config.CurrentConfig()
	secrets := config.CurrentSecrets()
	var toClose closers

	client, err := newPlaidClient()
	if err != nil {
		return nil, nil, err
	}

	writer, err := output.New(ctx, cfg.OutputDir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: outputDir: %v", config.ErrConfig, err)
	}
	toClose = append(toClose, writer)

	var store state.Store = state.NewFileStore(cfg.StateFile)
	if cfg.SQL.Enabled {
		db, err := postgresutils.CreatePostgresClient(ctx, cfg.SQL.Database, *secrets)
		if err != nil {
			toClose.Close()
			return nil, nil, err
		}
		sqlStore, err := state.NewSQLStore(ctx, db, cfg.SQL.CursorTable)
		if err != nil {
			db.Close()
			toClose.Close()
			return nil, nil, err
		}
		toClose = append(toClose, sqlStore)
		store = sqlStore
	}

	var recorder exporter.Recorder
	if cfg.Influx.Enabled {
		influxClient, err := influxutils.CreateInfluxClient(secrets.Influx)
		if err != nil {
			toClose.Close()
			return nil, nil, fmt.Errorf("failed to create influx client: %w", err)
		}
		statementRecorder, err := influxutils.NewStatementRecorder(influxClient, cfg.Influx.Database, cfg.Influx.Measurement)
		if err != nil {
			influxClient.Close()
			toClose.Close()
			return nil, nil, err
		}
		toClose = append(toClose, statementRecorder)
		recorder = statementRecorder
	}

	runner := exporter.NewExportRunner(exporter.Options{
		Source:       client,
		Reauthorizer: newLinker(client, in, out),
		Writer:       writer,
		Store:        store,
		Recorder:     recorder,
		Config:       cfg,
		Secrets:      secrets,
		ConfigFile:   configFile,
		Only:         only,
	})

	return &instrumentedRunner{ctx: ctx, runner: runner, metrics: exportMetrics()}, toClose, nil
}

var registerMetrics sync.Once
var sharedMetrics *metrics.Metrics

func exportMetrics() *metrics.Metrics {
	registerMetrics.Do(func() {
		sharedMetrics = metrics.New(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

type instrumentedRunner struct {
	ctx     context.Context
	runner  *exporter.ExportRunner
	metrics *metrics.Metrics
}

func (r *instrumentedRunner) Run() error {
	started := time.Now()
	summary, err := r.runner.Export(r.ctx)
	r.metrics.ObserveRun(summary, err, started, time.Now())
	return err
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	klog.Infof("Serving metrics on %s/metrics\n", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		klog.Errorf("Metrics server failed: %v\n", err)
	}
}

func runScheduled(ctx context.Context, runner Runner, spec string) error {
	c := cron.New()
	if err := c.AddFunc(spec, func() { run(runner) }); err != nil {
		return fmt.Errorf("%w: invalid schedule %q: %v", config.ErrConfig, spec, err)
	}

	run(runner)

	c.Start()
	klog.Infof("Waiting for the next run on schedule %s\n", spec)
	<-ctx.Done()
	c.Stop()

	return nil
}

func run(runner Runner) {
	klog.Infof("Starting export at %s\n", time.Now().Format(time.RFC850))
	err := runner.Run()
	if err != nil {
		klog.Errorf("Export failed: %v\n", err)
	}
}
