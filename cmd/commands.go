package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	service "github.com/okian/mindshare/internal/app"
	"github.com/okian/mindshare/internal/config"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/fixtures"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

// withService opens a service for a one-shot command and closes it after fn.
func withService(ctx context.Context, cfg *config.Config, fn func(*service.Service) error) (err error) {
	svc, err := service.New(cfg, service.WithLogger(logger.Named("service")))
	if err != nil {
		return err
	}
	if err := svc.Open(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err = errors.Join(err, svc.Stop(stopCtx))
	}()
	return fn(svc)
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		project string
		rollup  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass over every project, or one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.load(ctx)
			if err != nil {
				return err
			}
			return withService(ctx, cfg, func(svc *service.Service) error {
				var (
					results []service.CycleResult
					ingErr  error
				)
				if project != "" {
					res, err := svc.Pipeline().IngestOnce(ctx, project)
					results, ingErr = []service.CycleResult{res}, err
				} else {
					results, ingErr = svc.Pipeline().IngestAll(ctx)
				}
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				if ingErr != nil {
					return ingErr
				}
				if !rollup {
					return nil
				}
				res, err := svc.Trigger().Run(ctx, metrics.TriggerManual)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "ingest only this project")
	cmd.Flags().BoolVar(&rollup, "rollup", false, "run a rollup after ingesting")
	return cmd
}

func newRollupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollup",
		Short: "Merge the latest slice of every project into the global store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.load(ctx)
			if err != nil {
				return err
			}
			return withService(ctx, cfg, func(svc *service.Service) error {
				res, err := svc.Trigger().Run(ctx, metrics.TriggerManual)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newDiffCmd(opts *rootOptions) *cobra.Command {
	var project, timeframe, t1, t2, metric string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Print rank and metric changes between two timestamps as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := model.ParseMetric(metric)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg, err := opts.load(ctx)
			if err != nil {
				return err
			}
			return withService(ctx, cfg, func(svc *service.Service) error {
				res, err := svc.Query().Diff(ctx, project, timeframe, t1, t2, m)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name")
	cmd.Flags().StringVarP(&timeframe, "timeframe", "t", "", "timeframe tag, e.g. 7D")
	cmd.Flags().StringVar(&t1, "t1", "", "earlier timestamp (default: ninth newest)")
	cmd.Flags().StringVar(&t2, "t2", "", "later timestamp (default: newest)")
	cmd.Flags().StringVar(&metric, "metric", string(model.MetricMindshare), "mindshare or composite")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("timeframe")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var (
		sc       fixtures.SeedConfig
		provider string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write synthetic snapshot files for one project timeframe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := model.ParseProvider(provider)
			if err != nil {
				return err
			}
			if sc.Files < 1 || sc.Entries < 1 {
				return errors.New("files and entries must be positive")
			}
			sc.Provider = p
			paths, err := fixtures.Seed(cmd.Context(), sc)
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sc.Dir, "dir", "", "provider root directory")
	cmd.Flags().StringVar(&provider, "provider", string(model.ProviderCookie), "cookie, wallchain or kaito")
	cmd.Flags().StringVar(&sc.Project, "project", "", "project directory name")
	cmd.Flags().StringVar(&sc.Timeframe, "timeframe", "7D", "timeframe directory name")
	cmd.Flags().IntVar(&sc.Files, "files", 12, "number of snapshot files")
	cmd.Flags().IntVar(&sc.Entries, "entries", 50, "entries per snapshot")
	cmd.Flags().IntVar(&sc.Population, "population", 0, "identities to draw from (default: twice entries)")
	cmd.Flags().DurationVar(&sc.Step, "step", time.Hour, "time between snapshots")
	cmd.Flags().Uint64Var(&sc.Seed, "seed", 1, "random seed")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
