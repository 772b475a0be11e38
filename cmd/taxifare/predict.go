package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ezoic/taxifare/config"
	"github.com/ezoic/taxifare/dataset"
	"github.com/ezoic/taxifare/pkg/log"
	"github.com/ezoic/taxifare/trainer"
)

func newPredictCommand(root *options) *cobra.Command {
	var nrows int

	cmd := &cobra.Command{
		Use:   "predict <modelfile> <csv>",
		Short: "Predict fares for trips with a saved model",
		Long: `Prints one predicted fare per trip. The CSV needs the pickup time and
coordinates; fare_amount is ignored when present. Trips with a missing
value are skipped.`,
		Args:  cobra.ExactArgs(2),
		Example: `  taxifare predict model.gob trips.csv
  taxifare predict model.gob https://example.com/trips.csv --nrows 100`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log, cmd.ErrOrStderr())

			pipe, err := trainer.LoadPipeline(args[0])
			if err != nil {
				return err
			}
			trips, err := dataset.LoadTrips(cmd.Context(), args[1], nrows)
			if err != nil {
				return err
			}
			trips, err = dataset.DropIncomplete(trips, dataset.TripColumns...)
			if err != nil {
				return err
			}
			preds, err := pipe.Predict(trips)
			if err != nil {
				return err
			}

			n, _ := preds.Dims()
			out := cmd.OutOrStdout()
			for i := 0; i < n; i++ {
				fmt.Fprintf(out, "%.2f\n", preds.At(i, 0))
			}
			log.GetLoggerWithName("taxifare").Info("Predictions written",
				log.OperationKey, log.OperationPredict,
				log.PredsKey, n,
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&nrows, "nrows", 0, "Number of rows to read (default all)")
	return cmd
}
