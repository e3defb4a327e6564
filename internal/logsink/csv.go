package logsink

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
)

// CSVSink writes the spreadsheet friendly log: a two line preamble, the
// column header, one row per sample and AVERAGE/MAX rows at the end.
type CSVSink struct {
	path   string
	logger *log.Logger

	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

func NewCSVSink(path string, created time.Time, logger *log.Logger) (*CSVSink, error) {
	if logger == nil {
		panic("CSVSink: logger cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create workout log: %w", err)
	}

	s := &CSVSink{path: path, logger: logger, file: f, w: csv.NewWriter(f)}
	s.w.UseCRLF = true

	preamble := [][]string{
		{"Workout log file", ""},
		{"Created:", created.Format("02 Jan 2006"), "at:", created.Format("15:04:05")},
		Columns,
	}
	if err := s.w.WriteAll(preamble); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write log header: %w", err)
	}
	logger.Printf("LogSink: Workout data file created: %s", path)
	return s, nil
}

func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) AppendRow(snap telemetry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("append to %s: sink closed", s.path)
	}

	row := []string{formatFloat(snap.WorkoutTime.Seconds())}
	for _, v := range values(snap.Momentary) {
		row = append(row, formatFloat(v))
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) summary(label string, d telemetry.Dataset) []string {
	row := []string{label}
	for _, v := range values(d) {
		row = append(row, formatFloat(v))
	}
	return row
}

func (s *CSVSink) Close(avg, max telemetry.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}

	s.w.Write(s.summary("AVERAGE:", avg))
	s.w.Write(s.summary("MAX:", max))
	s.w.Flush()
	err := s.w.Error()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.w = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	s.logger.Printf("LogSink: Closed %s", s.path)
	return nil
}

func (s *CSVSink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		s.file.Close()
		s.w = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard %s: %w", s.path, err)
	}
	s.logger.Printf("LogSink: Discarded %s", s.path)
	return nil
}
