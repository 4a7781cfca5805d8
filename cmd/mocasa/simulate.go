package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mocasa/internal/config"
	"mocasa/internal/data"
	"mocasa/internal/logging"
	"mocasa/internal/matrix"
	"mocasa/internal/params"
	"mocasa/internal/sample"
)

type simulateOptions struct {
	paramsFile string
	nVariants  int
	se         float64
	seed       uint64
	outDir     string
}

func newSimulateCmd(a *app) *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Draw a synthetic data set from known parameters, with a configuration to train on it",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command) error {
			return runSimulate(a.logger, opts)
		}),
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.paramsFile, "params", "", "generative parameters (default: one endophenotype, betas 2 and 3, sigmas 0.5)")
	flags.IntVar(&opts.nVariants, "variants", 500, "number of variants to draw")
	flags.Float64Var(&opts.se, "se", 0.2, "standard error of every observation")
	flags.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flags.StringVarP(&opts.outDir, "out-dir", "o", "", "directory for the data, ids and configuration files")
	_ = cmd.MarkFlagRequired("out-dir")
	return cmd
}

func defaultGenerativeParams() (*params.Params, error) {
	betas, err := matrix.FromSlice(1, 2, []float64{2, 3})
	if err != nil {
		return nil, err
	}
	return params.New([]string{"trait_a", "trait_b"}, []float64{0}, []float64{1}, betas, []float64{0.5, 0.5})
}

func runSimulate(logger *logging.Logger, opts simulateOptions) error {
	var truth *params.Params
	var err error
	if opts.paramsFile != "" {
		truth, err = params.Read(opts.paramsFile)
	} else {
		truth, err = defaultGenerativeParams()
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", opts.outDir, err)
	}

	d, err := sample.Simulate(truth, opts.nVariants, opts.se, rand.NewPCG(opts.seed, 0))
	if err != nil {
		return err
	}
	sources, err := data.WriteGwasFiles(d, opts.outDir)
	if err != nil {
		return err
	}
	idsFile := filepath.Join(opts.outDir, "ids.txt")
	if err := writeIDs(idsFile, d.Meta.VarIDs); err != nil {
		return err
	}
	truthFile := filepath.Join(opts.outDir, "truth.json")
	if err := params.Write(truthFile, truth); err != nil {
		return err
	}

	conf := &config.Config{
		Files: config.Files{
			Params: filepath.Join(opts.outDir, "params.json"),
			Trace:  filepath.Join(opts.outDir, "trace.tsv"),
		},
		Train:    config.Train{IDsFile: idsFile, NEndos: truth.NEndos(), Seed: opts.seed},
		Classify: config.Classify{OutFile: filepath.Join(opts.outDir, "classified.tsv"), Seed: opts.seed},
	}
	for _, s := range sources {
		conf.Gwas = append(conf.Gwas, config.Gwas{Name: s.Name, File: s.File})
	}
	conf.ApplyDefaults()
	confFile := filepath.Join(opts.outDir, "mocasa.toml")
	if err := conf.Save(confFile); err != nil {
		return err
	}
	logger.Info("simulated data written",
		"variants", d.NDataPoints(),
		"traits", d.NTraits(),
		"config", confFile,
		"truth", truthFile,
	)
	return nil
}

func writeIDs(path string, ids []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(file, id); err != nil {
			file.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return file.Close()
}
