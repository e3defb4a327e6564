package logsink

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
)

// Row kinds of the parquet log
const (
	KindSample  = "sample"
	KindAverage = "average"
	KindMax     = "max"
)

type parquetRow struct {
	Kind       string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TimeS      float64 `parquet:"name=time_s, type=DOUBLE"`
	CadenceRPM float64 `parquet:"name=cadence_rpm, type=DOUBLE"`
	PowerW     float64 `parquet:"name=power_w, type=DOUBLE"`
	HRBPM      float64 `parquet:"name=hr_bpm, type=DOUBLE"`
	HRZone     float64 `parquet:"name=hr_zone, type=DOUBLE"`
	GradePct   float64 `parquet:"name=grade_pct, type=DOUBLE"`
	SpeedKmh   float64 `parquet:"name=speed_kmh, type=DOUBLE"`
}

func newParquetRow(kind string, timeS float64, d telemetry.Dataset) parquetRow {
	return parquetRow{
		Kind:       kind,
		TimeS:      timeS,
		CadenceRPM: d.Cadence,
		PowerW:     d.Power,
		HRBPM:      d.HeartRate,
		HRZone:     d.HRZone,
		GradePct:   d.Gradient,
		SpeedKmh:   d.Speed,
	}
}

// ParquetSink writes the same columns as the CSV log plus a kind column,
// SNAPPY compressed. Summary rows carry the last sample time.
type ParquetSink struct {
	path   string
	logger *log.Logger

	mu       sync.Mutex
	file     source.ParquetFile
	pw       *writer.ParquetWriter
	lastTime float64
}

func NewParquetSink(path string, logger *log.Logger) (*ParquetSink, error) {
	if logger == nil {
		panic("ParquetSink: logger cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("create workout log: %w", err)
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 4)
	if err != nil {
		fw.Close()
		os.Remove(path)
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	logger.Printf("LogSink: Workout data file created: %s", path)
	return &ParquetSink{path: path, logger: logger, file: fw, pw: pw}, nil
}

func (s *ParquetSink) Path() string { return s.path }

func (s *ParquetSink) AppendRow(snap telemetry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pw == nil {
		return fmt.Errorf("append to %s: sink closed", s.path)
	}
	s.lastTime = snap.WorkoutTime.Seconds()
	if err := s.pw.Write(newParquetRow(KindSample, s.lastTime, snap.Momentary)); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

func (s *ParquetSink) Close(avg, max telemetry.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pw == nil {
		return nil
	}

	var err error
	for _, row := range []parquetRow{
		newParquetRow(KindAverage, s.lastTime, avg),
		newParquetRow(KindMax, s.lastTime, max),
	} {
		if err = s.pw.Write(row); err != nil {
			break
		}
	}
	if serr := s.pw.WriteStop(); err == nil {
		err = serr
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.pw = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	s.logger.Printf("LogSink: Closed %s", s.path)
	return nil
}

func (s *ParquetSink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pw != nil {
		_ = s.pw.WriteStop()
		s.file.Close()
		s.pw = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard %s: %w", s.path, err)
	}
	s.logger.Printf("LogSink: Discarded %s", s.path)
	return nil
}
