// Package config loads the run configuration shared by the train and
// classify commands.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"mocasa/internal/classify"
	"mocasa/internal/data"
	"mocasa/internal/params"
	"mocasa/internal/stats"
	"mocasa/internal/train"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the whole configuration file.
type Config struct {
	Files    Files    `toml:"files" yaml:"files" json:"files"`
	Gwas     []Gwas   `toml:"gwas" yaml:"gwas" json:"gwas" validate:"required,min=1,unique=Name,dive"`
	Train    Train    `toml:"train" yaml:"train" json:"train"`
	Classify Classify `toml:"classify" yaml:"classify" json:"classify"`
}

// Files names the parameter file and the optional round trace.
type Files struct {
	Params string `toml:"params" yaml:"params" json:"params" validate:"required"`
	Trace  string `toml:"trace,omitempty" yaml:"trace,omitempty" json:"trace,omitempty"`
}

// Gwas is one trait and its summary statistics file.
type Gwas struct {
	Name      string        `toml:"name" yaml:"name" json:"name" validate:"required"`
	File      string        `toml:"file" yaml:"file" json:"file" validate:"required"`
	Cols      data.GwasCols `toml:"cols,omitempty" yaml:"cols,omitempty" json:"cols,omitempty"`
	Delimiter string        `toml:"delimiter,omitempty" yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
}

// Train holds the training knobs.
type Train struct {
	IDsFile              string            `toml:"ids_file" yaml:"ids_file" json:"ids_file"`
	NEndos               int               `toml:"n_endos" yaml:"n_endos" json:"n_endos" validate:"gte=0"`
	NStepsBurnIn         int               `toml:"n_steps_burn_in" yaml:"n_steps_burn_in" json:"n_steps_burn_in" validate:"gte=0"`
	NSamplesPerIteration int               `toml:"n_samples_per_iteration" yaml:"n_samples_per_iteration" json:"n_samples_per_iteration" validate:"gte=0"`
	NIterationsPerRound  int               `toml:"n_iterations_per_round" yaml:"n_iterations_per_round" json:"n_iterations_per_round" validate:"gte=0"`
	NRounds              int               `toml:"n_rounds" yaml:"n_rounds" json:"n_rounds" validate:"gte=0"`
	Precision            float64           `toml:"precision" yaml:"precision" json:"precision" validate:"gte=0"`
	MaxInterIntraRatio   float64           `toml:"max_inter_intra_ratio" yaml:"max_inter_intra_ratio" json:"max_inter_intra_ratio" validate:"gte=0"`
	MinChainsUsed        int               `toml:"min_chains_used" yaml:"min_chains_used" json:"min_chains_used" validate:"gte=0"`
	NChains              int               `toml:"n_chains" yaml:"n_chains" json:"n_chains" validate:"gte=0"`
	Seed                 uint64            `toml:"seed" yaml:"seed" json:"seed"`
	InitialParams        string            `toml:"initial_params,omitempty" yaml:"initial_params,omitempty" json:"initial_params,omitempty"`
	Wootz                stats.WootzConfig `toml:"wootz" yaml:"wootz" json:"wootz"`
}

// Classify holds the classification knobs.
type Classify struct {
	ParamsOverride    params.Override `toml:"params_override" yaml:"params_override" json:"params_override"`
	NormalizeMuOne    bool            `toml:"normalize_mu_one" yaml:"normalize_mu_one" json:"normalize_mu_one"`
	NStepsBurnIn      int             `toml:"n_steps_burn_in" yaml:"n_steps_burn_in" json:"n_steps_burn_in" validate:"gte=0"`
	NSamples          int             `toml:"n_samples" yaml:"n_samples" json:"n_samples" validate:"gte=0"`
	NChainsPerVariant int             `toml:"n_chains_per_variant" yaml:"n_chains_per_variant" json:"n_chains_per_variant" validate:"gte=0"`
	NWorkers          int             `toml:"n_workers" yaml:"n_workers" json:"n_workers" validate:"gte=0"`
	Seed              uint64          `toml:"seed" yaml:"seed" json:"seed"`
	OutFile           string          `toml:"out_file" yaml:"out_file" json:"out_file"`
	TraceIDs          []string        `toml:"trace_ids,omitempty" yaml:"trace_ids,omitempty" json:"trace_ids,omitempty"`
	OnlyIDs           []string        `toml:"only_ids,omitempty" yaml:"only_ids,omitempty" json:"only_ids,omitempty"`
	OnlyIDsFile       string          `toml:"only_ids_file,omitempty" yaml:"only_ids_file,omitempty" json:"only_ids_file,omitempty"`
}

// Load reads a TOML, YAML or JSON file, chosen by extension, fills the
// default knobs and validates the result. Unknown keys are an error.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var config Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(content))
		decoder.DisallowUnknownFields()
		err = decoder.Decode(&config)
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		err = decoder.Decode(&config)
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(content))
		decoder.DisallowUnknownFields()
		err = decoder.Decode(&config)
	default:
		return nil, fmt.Errorf("config file %s: unsupported extension %q (use .toml, .yaml or .json): %w",
			path, ext, ErrInvalidConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &config, nil
}

// Save writes the configuration in the format Load expects for path.
func (c *Config) Save(path string) error {
	var content []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		content, err = yaml.Marshal(c)
	case ".json":
		content, err = json.MarshalIndent(c, "", "  ")
	default:
		content, err = toml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ApplyDefaults fills zero knobs with the package defaults.
func (c *Config) ApplyDefaults() {
	t := &c.Train
	if t.NEndos == 0 {
		t.NEndos = 1
	}
	defaults := train.Config{}.WithDefaults()
	if t.NStepsBurnIn == 0 {
		t.NStepsBurnIn = defaults.NStepsBurnIn
	}
	if t.NSamplesPerIteration == 0 {
		t.NSamplesPerIteration = defaults.NSamplesPerIteration
	}
	if t.NIterationsPerRound == 0 {
		t.NIterationsPerRound = defaults.NIterationsPerRound
	}
	if t.NRounds == 0 {
		t.NRounds = defaults.NRounds
	}
	if t.Precision == 0 {
		t.Precision = defaults.Precision
	}
	if t.MaxInterIntraRatio == 0 {
		t.MaxInterIntraRatio = defaults.MaxInterIntraRatio
	}
	if t.MinChainsUsed == 0 {
		t.MinChainsUsed = defaults.MinChainsUsed
	}
	t.Wootz = t.Wootz.WithDefaults()

	k := &c.Classify
	if k.NStepsBurnIn == 0 {
		k.NStepsBurnIn = classify.DefaultNStepsBurnIn
	}
	if k.NSamples == 0 {
		k.NSamples = classify.DefaultNSamples
	}
	if k.NChainsPerVariant == 0 {
		k.NChainsPerVariant = classify.DefaultNChainsPerVariant
	}
	for i := range c.Gwas {
		c.Gwas[i].Cols = c.Gwas[i].Cols.WithDefaults()
	}
}

// Validate checks the struct tags and the rules they cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for _, g := range c.Gwas {
		if _, err := delimiter(g.Delimiter); err != nil {
			return fmt.Errorf("gwas %s: %w: %w", g.Name, err, ErrInvalidConfig)
		}
	}
	if c.Train.MinChainsUsed < 2 {
		return fmt.Errorf("train.min_chains_used is %d, need at least 2: %w", c.Train.MinChainsUsed, ErrInvalidConfig)
	}
	if c.Train.NChains > 0 && c.Train.NChains < c.Train.MinChainsUsed {
		return fmt.Errorf("train.n_chains %d is below train.min_chains_used %d: %w",
			c.Train.NChains, c.Train.MinChainsUsed, ErrInvalidConfig)
	}
	if c.Classify.OnlyIDsFile != "" && len(c.Classify.OnlyIDs) > 0 {
		return fmt.Errorf("set classify.only_ids or classify.only_ids_file, not both: %w", ErrInvalidConfig)
	}
	return nil
}

// delimiter parses a one-character delimiter; "\t" and "tab" mean tab.
func delimiter(s string) (rune, error) {
	switch s {
	case "":
		return data.DefaultDelimiter, nil
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter %q must be a single character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// TraitNames lists the traits in configuration order.
func (c *Config) TraitNames() []string {
	names := make([]string, len(c.Gwas))
	for i, g := range c.Gwas {
		names[i] = g.Name
	}
	return names
}

// Sources converts the gwas entries for the data loaders.
func (c *Config) Sources() []data.Source {
	sources := make([]data.Source, len(c.Gwas))
	for i, g := range c.Gwas {
		d, _ := delimiter(g.Delimiter)
		sources[i] = data.Source{Name: g.Name, File: g.File, Cols: g.Cols, Delimiter: d}
	}
	return sources
}

// TrainConfig converts the training knobs.
func (t Train) TrainConfig() train.Config {
	return train.Config{
		NStepsBurnIn:         t.NStepsBurnIn,
		NSamplesPerIteration: t.NSamplesPerIteration,
		NIterationsPerRound:  t.NIterationsPerRound,
		NRounds:              t.NRounds,
		Precision:            t.Precision,
		MaxInterIntraRatio:   t.MaxInterIntraRatio,
		MinChainsUsed:        t.MinChainsUsed,
		NChains:              t.NChains,
		Seed:                 t.Seed,
		Wootz:                t.Wootz,
	}.WithDefaults()
}

// ClassifyConfig converts the classification knobs. Trace files are
// named after the output file.
func (k Classify) ClassifyConfig() classify.Config {
	return classify.Config{
		NStepsBurnIn:      k.NStepsBurnIn,
		NSamples:          k.NSamples,
		NChainsPerVariant: k.NChainsPerVariant,
		NWorkers:          k.NWorkers,
		Seed:              k.Seed,
		Override:          k.ParamsOverride,
		NormalizeMuOne:    k.NormalizeMuOne,
		TracePrefix:       k.OutFile,
		TraceIDs:          k.TraceIDs,
	}.WithDefaults()
}

// ClassifyIDs returns the variants to classify: only_ids, the lines of
// only_ids_file, or nil for every variant in the gwas files.
func (c *Config) ClassifyIDs() ([]string, error) {
	if c.Classify.OnlyIDsFile != "" {
		return data.ReadIDs(c.Classify.OnlyIDsFile)
	}
	return c.Classify.OnlyIDs, nil
}
