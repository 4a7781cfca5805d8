package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mocasa/internal/params"
)

// Action is what a run is going to do.
type Action int

const (
	ActionTrain Action = iota
	ActionClassify
)

func (a Action) String() string {
	if a == ActionTrain {
		return "train"
	}
	return "classify"
}

func checkParentDirExists(key, path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%s: directory of %s: %w", key, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %s is not a directory: %w", key, dir, ErrInvalidConfig)
	}
	return nil
}

func checkFileExists(key, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %s is a directory: %w", key, path, ErrInvalidConfig)
	}
	return nil
}

// CheckPrerequisites verifies, before any data is read, that every input
// file of action exists and that every output file can be created. All
// problems are reported together.
func (c *Config) CheckPrerequisites(action Action) error {
	var errs []error
	for _, g := range c.Gwas {
		errs = append(errs, checkFileExists("gwas "+g.Name, g.File))
	}
	switch action {
	case ActionTrain:
		if c.Train.IDsFile == "" {
			errs = append(errs, fmt.Errorf("train.ids_file is required for training: %w", ErrInvalidConfig))
		} else {
			errs = append(errs, checkFileExists("train.ids_file", c.Train.IDsFile))
		}
		if c.Train.InitialParams != "" {
			errs = append(errs, checkFileExists("train.initial_params", c.Train.InitialParams))
		}
		errs = append(errs, checkParentDirExists("files.params", c.Files.Params))
		if c.Files.Trace != "" {
			errs = append(errs, checkParentDirExists("files.trace", c.Files.Trace))
		}
	case ActionClassify:
		errs = append(errs, checkFileExists("files.params", c.Files.Params))
		if c.Classify.OutFile == "" {
			errs = append(errs, fmt.Errorf("classify.out_file is required for classification: %w", ErrInvalidConfig))
		} else {
			errs = append(errs, checkParentDirExists("classify.out_file", c.Classify.OutFile))
		}
		if c.Classify.OnlyIDsFile != "" {
			errs = append(errs, checkFileExists("classify.only_ids_file", c.Classify.OnlyIDsFile))
		}
	}
	return errors.Join(errs...)
}

// CheckParams verifies that p was trained on the configured traits, in
// the configured order.
func (c *Config) CheckParams(p *params.Params) error {
	names := c.TraitNames()
	if len(names) != p.NTraits() {
		return fmt.Errorf("%d gwas entries but %d traits in params: %w", len(names), p.NTraits(), ErrInvalidConfig)
	}
	for i, name := range names {
		if p.TraitNames[i] != name {
			return fmt.Errorf("trait %d is %s in the config but %s in params: %w",
				i, name, p.TraitNames[i], ErrInvalidConfig)
		}
	}
	return nil
}
