package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ezoic/taxifare/config"
	"github.com/ezoic/taxifare/dataset"
	taxiErrors "github.com/ezoic/taxifare/pkg/errors"
	"github.com/ezoic/taxifare/pkg/log"
	"github.com/ezoic/taxifare/tracking"
	"github.com/ezoic/taxifare/trainer"
)

type options struct {
	configPath string
	data       string
	nrows      int
	artifact   string
	plot       string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "taxifare",
		Short: "Train the taxi-fare linear model and track the run",
		Long: `Loads the first N trips of the training CSV, cleans them, splits 70/30,
fits the distance + time-feature linear pipeline, logs RMSE to the
experiment tracker and saves the fitted model.`,
		Args: cobra.NoArgs,
		Example: `  taxifare
  taxifare --nrows 50000 --plot predictions.png
  TAXIFARE_TRACKING_URI=http://localhost:5000 taxifare --config taxifare.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log, cmd.ErrOrStderr())
			return train(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&opts.data, "data", "", "Training CSV path or URL (default: public dataset)")
	cmd.Flags().IntVar(&opts.nrows, "nrows", 0, "Number of rows to load (default 10000)")
	cmd.Flags().StringVar(&opts.artifact, "artifact", "", "Where to write the model (default model.gob)")
	cmd.Flags().StringVar(&opts.plot, "plot", "", "Write a predicted-vs-actual chart to this file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log per-step fit timings")

	cmd.AddCommand(newPredictCommand(&opts))
	return cmd
}

// loadConfig loads the file and environment, then applies the flags that
// were set explicitly.
func loadConfig(cmd *cobra.Command, opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.Data.Source = opts.data
	}
	if flags.Changed("nrows") {
		cfg.Data.NRows = opts.nrows
	}
	if flags.Changed("artifact") {
		cfg.Model.ArtifactPath = opts.artifact
	}
	if flags.Changed("plot") {
		cfg.Report.PlotPath = opts.plot
	}
	if flags.Changed("verbose") {
		cfg.Model.Verbose = opts.verbose
	}
	return cfg, cfg.Validate()
}

func setupLogging(c config.LogConfig, w io.Writer) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		level = log.LevelInfo
	}
	var provider *log.ZerologProvider
	if c.Format == "console" {
		provider = log.NewConsoleProvider(level)
	} else {
		provider = log.NewZerologProviderWithWriter(w, level)
	}
	log.SetProvider(provider)
	taxiErrors.SetZerologWarnFunc(provider.WarnFunc())
}

// newExperimentLogger wires the tracker and, when configured, the AMQP
// event mirror. A broker that cannot be reached only disables the mirror.
func newExperimentLogger(cfg config.Config) *tracking.ExperimentLogger {
	var opts []tracking.Option
	if cfg.Events.AMQPURL != "" {
		pub, err := tracking.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			taxiErrors.Warn(taxiErrors.NewTrackingWarning("amqp_dial", 1, err))
		} else {
			opts = append(opts, tracking.WithPublisher(pub))
		}
	}
	return tracking.NewExperimentLogger(cfg.TrackingConfig(), opts...)
}

func train(ctx context.Context, cfg config.Config, out io.Writer) (err error) {
	logger := log.GetLoggerWithName("taxifare")
	experiment := newExperimentLogger(cfg)
	defer func() {
		status := tracking.RunFinished
		if err != nil {
			status = tracking.RunFailed
		}
		// The run is ended even when ctx was cancelled.
		if endErr := experiment.EndRun(context.WithoutCancel(ctx), status); endErr != nil && err == nil {
			err = endErr
		}
		_ = experiment.Close()
	}()

	raw, err := dataset.LoadCSV(ctx, cfg.Data.Source, cfg.Data.NRows)
	if err != nil {
		return err
	}
	df, err := dataset.Clean(raw)
	if err != nil {
		return err
	}
	split, err := dataset.TrainTestSplit(df, dataset.FareAmount, cfg.Data.TestSize, cfg.Data.Seed)
	if err != nil {
		return err
	}

	tr, err := trainer.New(split.XTrain, split.YTrain, experiment, cfg.TrainerConfig())
	if err != nil {
		return err
	}
	if err := tr.Run(ctx); err != nil {
		return err
	}
	rmse, err := tr.Evaluate(ctx, split.XTest, split.YTest)
	if err != nil {
		return err
	}
	path, err := tr.Save(ctx)
	if err != nil {
		return err
	}

	rep := tr.Report()
	logger.Info("Training run complete",
		log.RMSEKey, rmse,
		log.PathKey, path,
	)
	fmt.Fprintf(out, "rmse: %.4f\nmae: %.4f\nr2: %.4f\nmodel: %s\n", rep.RMSE, rep.MAE, rep.R2, path)
	return nil
}

