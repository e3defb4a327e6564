// Package logsink writes one row per telemetry sample to a workout log file.
// Files are created when the workout clock starts and finalized with the
// workout averages and maxima, or removed when the workout is discarded.
package logsink

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
)

const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

var Columns = []string{"Time", "Cadence", "Power", "HR BPM", "HR Zone", "Gradient", "Speed"}

// Sink receives snapshots while a workout runs.
type Sink interface {
	AppendRow(s telemetry.Snapshot) error
	Close(avg, max telemetry.Dataset) error
	Discard() error
	Path() string
}

// FileName is the log file name for a workout started at start, e.g.
// Workout-26-05-01-(18h04m09).csv.
func FileName(start time.Time, ext string) string {
	return start.Format("Workout-06-01-02-(15h04m05).") + ext
}

// Open creates a sink of the given format in dir.
func Open(format, dir string, start time.Time, logger *log.Logger) (Sink, error) {
	switch format {
	case FormatCSV, "":
		return NewCSVSink(filepath.Join(dir, FileName(start, FormatCSV)), start, logger)
	case FormatParquet:
		return NewParquetSink(filepath.Join(dir, FileName(start, FormatParquet)), logger)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func values(d telemetry.Dataset) []float64 {
	return []float64{d.Cadence, d.Power, d.HeartRate, d.HRZone, d.Gradient, d.Speed}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
