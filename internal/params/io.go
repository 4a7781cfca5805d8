package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Read loads parameters from a JSON file, or YAML for .yaml/.yml.
func Read(path string) (*Params, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params file %s: %w", path, err)
	}
	var p Params
	if isYAML(path) {
		err = yaml.Unmarshal(content, &p)
	} else {
		err = json.Unmarshal(content, &p)
	}
	if err != nil {
		return nil, fmt.Errorf("parse params file %s: %w", path, err)
	}
	if err := p.CheckShape(); err != nil {
		return nil, fmt.Errorf("params file %s: %w", path, err)
	}
	return &p, nil
}

// Write stores p in the format Read expects for path.
func Write(path string, p *Params) error {
	var content []byte
	var err error
	if isYAML(path) {
		content, err = yaml.Marshal(p)
	} else {
		content, err = json.MarshalIndent(p, "", "  ")
		content = append(content, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write params file %s: %w", path, err)
	}
	return nil
}

// RoundTracer appends one line per training round with every parameter's
// current value.
type RoundTracer struct {
	file *os.File
}

// NewRoundTracer creates path and writes the header line.
func NewRoundTracer(path string, nEndos int, traitNames []string) (*RoundTracer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create params trace %s: %w", path, err)
	}
	header := "round\t" + strings.Join(Names(nEndos, traitNames), "\t") + "\n"
	if _, err := file.WriteString(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write params trace %s: %w", path, err)
	}
	return &RoundTracer{file: file}, nil
}

// Trace writes the values of p for round.
func (t *RoundTracer) Trace(round int, p *Params) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", round)
	for _, v := range p.Vec() {
		fmt.Fprintf(&b, "\t%g", v)
	}
	b.WriteByte('\n')
	_, err := t.file.WriteString(b.String())
	return err
}

// Close closes the trace file.
func (t *RoundTracer) Close() error { return t.file.Close() }
