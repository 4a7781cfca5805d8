package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mocasa/internal/logging"
	"mocasa/internal/metrics"
)

// app holds the global flags and what they set up for a command.
type app struct {
	logLevel    string
	logJSON     bool
	logFile     string
	metricsAddr string

	root    *logging.Logger
	logger  *logging.Logger
	metrics *metrics.Server
}

func (a *app) setUp(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.root, err = logging.New(logging.Config{
		Level:   level,
		JSON:    a.logJSON,
		LogFile: a.logFile,
		Service: "mocasa",
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.logger = a.root.With("run_id", uuid.NewString(), "command", cmd.Name())
	if a.metricsAddr != "" {
		a.metrics, err = metrics.Serve(a.metricsAddr)
		if err != nil {
			a.tearDown()
			return fmt.Errorf("failed to serve metrics on %s: %w", a.metricsAddr, err)
		}
		a.logger.Info("serving metrics", "addr", a.metrics.Addr())
	}
	return nil
}

func (a *app) tearDown() error {
	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close())
		a.metrics = nil
	}
	if a.root != nil {
		errs = append(errs, a.root.Close())
		a.root = nil
	}
	return errors.Join(errs...)
}

// run wraps a command body so that logging and metrics are torn down
// whether or not it fails.
func (a *app) run(body func(cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		defer func() {
			if tearDownErr := a.tearDown(); tearDownErr != nil && err == nil {
				err = tearDownErr
			}
		}()
		return body(cmd)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "mocasa",
		Short: "Estimate and apply an endophenotype model over GWAS summary statistics",
		Long: `mocasa links unobserved endophenotypes to several GWAS traits.

train fits the model parameters by multi-chain stochastic EM,
classify samples the posterior endophenotypes of every variant.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setUp,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVar(&a.logJSON, "log-json", false, "log as JSON instead of text")
	flags.StringVar(&a.logFile, "log-file", "", "also append JSON logs to this file")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running, e.g. :9090")

	root.AddCommand(newTrainCmd(a), newClassifyCmd(a), newCheckCmd(a), newSimulateCmd(a))
	return root
}
