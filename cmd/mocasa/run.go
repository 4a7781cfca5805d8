package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mocasa/internal/classify"
	"mocasa/internal/config"
	"mocasa/internal/data"
	"mocasa/internal/logging"
	"mocasa/internal/params"
	"mocasa/internal/train"
)

func newTrainCmd(a *app) *cobra.Command {
	var confFile string
	var dry bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the model parameters to the training variants",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command) error {
			return runTrain(cmd.Context(), a.logger, confFile, dry)
		}),
	}
	cmd.Flags().StringVarP(&confFile, "conf-file", "f", "", "configuration file (.toml, .yaml or .json)")
	cmd.Flags().BoolVar(&dry, "dry", false, "load and check everything, but do not train")
	_ = cmd.MarkFlagRequired("conf-file")
	return cmd
}

func newClassifyCmd(a *app) *cobra.Command {
	var confFile string
	var dry bool
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Sample the posterior endophenotypes of every variant",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command) error {
			return runClassify(cmd.Context(), a.logger, confFile, dry)
		}),
	}
	cmd.Flags().StringVarP(&confFile, "conf-file", "f", "", "configuration file (.toml, .yaml or .json)")
	cmd.Flags().BoolVar(&dry, "dry", false, "load and check everything, but do not classify")
	_ = cmd.MarkFlagRequired("conf-file")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var confFile, action string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load the configuration, data and parameters and run every check, without sampling",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command) error {
			switch action {
			case config.ActionTrain.String():
				return runTrain(cmd.Context(), a.logger, confFile, true)
			case config.ActionClassify.String():
				return runClassify(cmd.Context(), a.logger, confFile, true)
			}
			return fmt.Errorf("unknown action %q (use train or classify)", action)
		}),
	}
	cmd.Flags().StringVarP(&confFile, "conf-file", "f", "", "configuration file (.toml, .yaml or .json)")
	cmd.Flags().StringVar(&action, "action", config.ActionClassify.String(), "what to check for: train or classify")
	_ = cmd.MarkFlagRequired("conf-file")
	return cmd
}

// closeInto closes c and reports a failure through err unless err is
// already set.
func closeInto(err *error, c io.Closer, path string) {
	if closeErr := c.Close(); closeErr != nil && *err == nil {
		*err = fmt.Errorf("close %s: %w", path, closeErr)
	}
}

func loadConfig(logger *logging.Logger, path string, action config.Action) (*config.Config, error) {
	conf, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := conf.CheckPrerequisites(action); err != nil {
		return nil, err
	}
	logger.Info("configuration loaded", "file", path, "traits", len(conf.Gwas))
	return conf, nil
}

func runTrain(ctx context.Context, logger *logging.Logger, confFile string, dry bool) (err error) {
	conf, err := loadConfig(logger, confFile, config.ActionTrain)
	if err != nil {
		return err
	}
	ids, err := data.ReadIDs(conf.Train.IDsFile)
	if err != nil {
		return err
	}
	d, err := data.LoadForTraining(ctx, ids, conf.Sources())
	if err != nil {
		return err
	}
	logger.Info("training data loaded", "variants", d.NDataPoints(), "traits", d.NTraits())

	var initial *params.Params
	if conf.Train.InitialParams != "" {
		initial, err = params.Read(conf.Train.InitialParams)
		if err == nil {
			err = conf.CheckParams(initial)
		}
	} else {
		initial, err = params.Estimate(d, conf.Train.NEndos)
	}
	if err != nil {
		return err
	}
	if err := initial.Validate(); err != nil {
		return fmt.Errorf("initial parameters: %w", err)
	}
	logger.Info("initial parameters", "params", initial.String())
	if dry {
		logger.Info("dry run, not training")
		return nil
	}

	var tracer train.RoundTracer
	if conf.Files.Trace != "" {
		roundTracer, traceErr := params.NewRoundTracer(conf.Files.Trace, initial.NEndos(), initial.TraitNames)
		if traceErr != nil {
			return traceErr
		}
		defer closeInto(&err, roundTracer, conf.Files.Trace)
		tracer = roundTracer
	}
	result, err := train.Train(ctx, d, initial, conf.Train.TrainConfig(), logger, tracer)
	if err != nil {
		return err
	}
	if err := params.Write(conf.Files.Params, result.Params); err != nil {
		return err
	}
	logger.Info("parameters written",
		"file", conf.Files.Params,
		"converged", result.Converged,
		"rounds", result.Rounds,
	)
	return nil
}

func runClassify(ctx context.Context, logger *logging.Logger, confFile string, dry bool) error {
	conf, err := loadConfig(logger, confFile, config.ActionClassify)
	if err != nil {
		return err
	}
	p, err := params.Read(conf.Files.Params)
	if err != nil {
		return err
	}
	if err := conf.CheckParams(p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("params file %s: %w", conf.Files.Params, err)
	}
	ids, err := conf.ClassifyIDs()
	if err != nil {
		return err
	}
	d, err := data.LoadForClassification(ctx, ids, conf.Sources())
	if err != nil {
		return err
	}
	logger.Info("classification data loaded", "variants", d.NDataPoints(), "traits", d.NTraits())
	if dry {
		logger.Info("dry run, not classifying")
		return nil
	}

	results, err := classify.Classify(ctx, d, p, conf.Classify.ClassifyConfig(), logger)
	if err != nil {
		return err
	}
	if err := classify.WriteResults(conf.Classify.OutFile, p.NEndos(), p.TraitNames, results); err != nil {
		return err
	}
	logger.Info("classification written", "file", conf.Classify.OutFile, "variants", len(results))
	return nil
}
