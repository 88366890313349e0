package output

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"imgtriage/analysis"
	"imgtriage/config"
	"imgtriage/logger"
	"imgtriage/version"

	"github.com/pkg/errors"
)

// SchemaVersion identifies the layout of the output document.
const SchemaVersion = "1.0"

const (
	flushEveryRecords = 16
	flushMaxInterval  = 2 * time.Second
)

// Source describes the artifact on the analyst's disk, for chain of custody.
type Source struct {
	Path          string `json:"path"`
	Size          int64  `json:"size"`
	ModTime       string `json:"mod_time,omitempty"`
	AccessTime    string `json:"access_time,omitempty"`
	ChangeTime    string `json:"change_time,omitempty"`
	BirthTime     string `json:"birth_time,omitempty"`
	DeclaredImage bool   `json:"declared_image"`
}

// Record is one analyzed input: either a summary or the error that rejected it.
type Record struct {
	Source  Source            `json:"source"`
	Summary *analysis.Summary `json:"summary,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type Metrics struct {
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	TotalInputs     int    `json:"total_inputs"`
	InputsAnalyzed  int    `json:"inputs_analyzed"`
	InputsFailed    int    `json:"inputs_failed"`
	FilesEnumerated int    `json:"files_enumerated"`
}

type ndjsonRecord struct {
	RecordType    string      `json:"record_type"`
	SchemaVersion string      `json:"schema_version"`
	Payload       interface{} `json:"payload"`
}

// Writer streams records into a single JSON document or an NDJSON file.
// It is safe for concurrent use.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	mu      sync.Mutex
	first   bool
	closed  bool
	metrics *Metrics
	otel    *otelLogger
	format  string

	analyzed atomic.Int64
	failed   atomic.Int64
	files    atomic.Int64

	recordsSinceSync int
	lastSyncAt       time.Time
}

func New(cfg *config.Config, m *Metrics) (*Writer, error) {
	format := strings.ToLower(cfg.OutputFormat)
	if format == "" {
		format = "json"
	}
	w := &Writer{
		first:   true,
		metrics: m,
		format:  format,
	}
	otel, err := newOtelLogger(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		w.otel = otel
	}

	f, err := os.OpenFile(cfg.OutputFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "open output")
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 1024*1024)
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, w.buf.Flush()
}

func (w *Writer) writeHeader() error {
	if w.format == "ndjson" {
		return w.writeLine("run", map[string]string{"tool_version": version.Version})
	}
	header := fmt.Sprintf("{\n  \"schema_version\": %q,\n  \"tool_version\": %q,\n  \"analyses\": [\n", SchemaVersion, version.Version)
	_, err := w.buf.WriteString(header)
	return err
}

func (w *Writer) writeLine(recordType string, payload interface{}) error {
	line, err := jsonMarshal(ndjsonRecord{RecordType: recordType, SchemaVersion: SchemaVersion, Payload: payload})
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

// WriteRecord appends one analysis result.
func (w *Writer) WriteRecord(rec Record) {
	if rec.Summary != nil {
		w.analyzed.Add(1)
		w.files.Add(int64(rec.Summary.FileCount))
	} else {
		w.failed.Add(1)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	switch w.format {
	case "ndjson":
		if err := w.writeLine("analysis", rec); err != nil {
			logger.Errorf("Failed to write record for %s: %v", rec.Source.Path, err)
			return
		}
	default:
		data, err := jsonMarshalIndent(rec, "    ", "  ")
		if err != nil {
			logger.Errorf("Failed to encode record for %s: %v", rec.Source.Path, err)
			return
		}
		if !w.first {
			_, _ = w.buf.WriteString(",\n")
		}
		_, _ = w.buf.WriteString("    ")
		_, _ = w.buf.Write(data)
		w.first = false
	}
	w.otel.Emit("analysis", rec)

	w.recordsSinceSync++
	_ = w.buf.Flush()
	if w.shouldSync() {
		_ = w.file.Sync()
		w.recordsSinceSync = 0
		w.lastSyncAt = time.Now()
	}
}

// shouldSync bounds how much written output a crash can lose.
func (w *Writer) shouldSync() bool {
	if w.recordsSinceSync == 0 {
		return false
	}
	return w.lastSyncAt.IsZero() ||
		w.recordsSinceSync >= flushEveryRecords ||
		time.Since(w.lastSyncAt) >= flushMaxInterval
}

// SetMetrics replaces the run metrics; the counters are taken from the
// records written so far.
func (w *Writer) SetMetrics(m Metrics) {
	m.InputsAnalyzed = int(w.analyzed.Load())
	m.InputsFailed = int(w.failed.Load())
	m.FilesEnumerated = int(w.files.Load())
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = &m
}

func (w *Writer) Analyzed() int64 { return w.analyzed.Load() }

func (w *Writer) Failed() int64 { return w.failed.Load() }

// Close finishes the document. It is safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true

	switch w.format {
	case "ndjson":
		if w.metrics != nil {
			_ = w.writeLine("metrics", w.metrics)
		}
	default:
		_, _ = w.buf.WriteString("\n  ]")
		if w.metrics != nil {
			if data, err := jsonMarshalIndent(w.metrics, "  ", "  "); err == nil {
				_, _ = w.buf.WriteString(",\n  \"metrics\": ")
				_, _ = w.buf.Write(data)
			}
		}
		_, _ = w.buf.WriteString("\n}\n")
	}
	if w.metrics != nil {
		w.otel.Emit("metrics", w.metrics)
	}
	_ = w.buf.Flush()
	_ = w.file.Sync()
	_ = w.file.Close()
	w.otel.Shutdown()
}
