package classify

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"

	"mocasa/internal/logging"
)

// traceWriter is one trace file. The first write error is logged and
// the file is skipped from then on.
type traceWriter struct {
	name   string
	file   *os.File
	w      *bufio.Writer
	failed bool
}

func newTraceWriter(path, header string) (*traceWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file %s: %w", path, err)
	}
	t := &traceWriter{name: path, file: file, w: bufio.NewWriter(file)}
	if _, err := fmt.Fprintf(t.w, "%s\tchain\n", header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write trace file %s: %w", path, err)
	}
	return t, nil
}

func (t *traceWriter) write(logger *logging.Logger, value float64, chain int) {
	if t.failed {
		return
	}
	line := strconv.FormatFloat(value, 'g', -1, 64) + "\t" + strconv.Itoa(chain) + "\n"
	if _, err := t.w.WriteString(line); err != nil {
		t.failed = true
		logger.Warn("could not write trace", "file", t.name, "error", err)
	}
}

func (t *traceWriter) close() error {
	flushErr := t.w.Flush()
	return errors.Join(flushErr, t.file.Close())
}

// FileTracer writes every draw of one variant to one file per latent
// variable: <prefix>_<var_id>_trace_E_<k> and <prefix>_<var_id>_trace_T_<trait>.
type FileTracer struct {
	logger *logging.Logger
	es     []*traceWriter
	ts     []*traceWriter
}

// NewFileTracer creates the trace files of varID.
func NewFileTracer(prefix, varID string, nEndos int, traitNames []string, logger *logging.Logger) (*FileTracer, error) {
	t := &FileTracer{logger: logger}
	for k := 0; k < nEndos; k++ {
		name := fmt.Sprintf("E_%d", k)
		w, err := newTraceWriter(fmt.Sprintf("%s_%s_trace_%s", prefix, varID, name), name)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.es = append(t.es, w)
	}
	for _, trait := range traitNames {
		name := "T_" + trait
		w, err := newTraceWriter(fmt.Sprintf("%s_%s_trace_%s", prefix, varID, name), name)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.ts = append(t.ts, w)
	}
	return t, nil
}

// TraceE records a draw of endophenotype k.
func (t *FileTracer) TraceE(chain, _, k int, e float64) { t.es[k].write(t.logger, e, chain) }

// TraceT records a draw of trait i.
func (t *FileTracer) TraceT(chain, _, i int, v float64) { t.ts[i].write(t.logger, v, chain) }

// Close flushes and closes every file.
func (t *FileTracer) Close() error {
	var errs []error
	for _, w := range slices.Concat(t.es, t.ts) {
		errs = append(errs, w.close())
	}
	return errors.Join(errs...)
}
