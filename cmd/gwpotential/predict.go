package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	gwhttp "gwpotential/http"
	"gwpotential/inference"
	"gwpotential/pipeline"
)

var (
	predictValues map[string]string
	batchIn       string
	batchOut      string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict one record from --set Field=Value pairs",
	Example: `  gwpotential predict --set Geological.Features=Granite --set Elevation=High \
      --set Natural.vegetation.tree.vigour=Good`,
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := inference.Load(cfg.Artifacts.Dir)
		if err != nil {
			return err
		}
		pred, err := model.PredictValues(predictValues)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pred)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Append a Prediction column to every row of a CSV or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := inference.Load(cfg.Artifacts.Dir)
		if err != nil {
			return err
		}
		var out io.Writer = cmd.OutOrStdout()
		if batchOut != "" && batchOut != "-" {
			f, err := os.Create(batchOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", batchOut)
			}
			defer f.Close()
			out = f
		}
		return predictFile(model, batchIn, cfg.Dataset.ReadOptions, out)
	},
}

func init() {
	predictCmd.Flags().StringToStringVar(&predictValues, "set", nil, "field value, repeatable (Field=Value)")
	batchCmd.Flags().StringVar(&batchIn, "in", "", "input table, CSV or XLSX")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "output CSV (default stdout)")
	_ = batchCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(predictCmd, batchCmd)
}

func predictFile(model *inference.ModelContext, path string, opts pipeline.ReadOptions, out io.Writer) error {
	table, err := pipeline.ReadFile(path, opts)
	if err != nil {
		return err
	}
	result, err := model.PredictBatch(table)
	if err != nil {
		return err
	}
	return gwhttp.WriteBatchCSV(out, result)
}
