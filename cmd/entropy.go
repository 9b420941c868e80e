package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/inundation-cli/internal/entropy"
	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster/gdalio"
)

var entropyYear string

var entropyCmd = &cobra.Command{
	Use:   "entropy",
	Short: "Compute temporal entropy of monthly index stacks",
	Long:  "Scans the input folder for Monthly_<INDEX>_Stack_<YEAR>.tif files and writes one Shannon entropy raster per stack.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := cmd.Flags()
		if f.Changed("input") {
			cfg.Entropy.InputDir, _ = f.GetString("input")
		}
		if f.Changed("output") {
			cfg.Entropy.OutputDir, _ = f.GetString("output")
		}
		if f.Changed("indices") {
			cfg.Entropy.Indices, _ = f.GetStringSlice("indices")
		}
		if err := cfg.Validate("entropy"); err != nil {
			return err
		}

		jobs, err := entropy.Discover(cfg.Entropy.InputDir, cfg.Entropy.OutputDir, upper(cfg.Entropy.Indices), entropyYear)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No matching stacks found.")
			return model.ErrNoDataFound
		}
		zap.L().Info("entropy: stacks discovered", zap.Int("stacks", len(jobs)))

		gdalio.Register()
		err = entropy.Run(ctx, jobs, entropy.Options{
			Bins:    cfg.Entropy.Bins,
			Min:     cfg.Entropy.Min,
			Max:     cfg.Entropy.Max,
			Workers: cfg.Entropy.Workers,
		})
		if err != nil {
			return err
		}
		for _, j := range jobs {
			fmt.Println(j.Output)
		}
		return nil
	},
}

func init() {
	f := entropyCmd.Flags()
	f.String("input", "", "folder holding Monthly_<INDEX>_Stack_<YEAR>.tif stacks")
	f.String("output", "", "output folder")
	f.StringSlice("indices", nil, "indices to process (default NDVI,NDWI,BSI)")
	f.StringVar(&entropyYear, "year", "", "only process this year")
	rootCmd.AddCommand(entropyCmd)
}

func upper(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}
