package workout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrProgramNotFound = errors.New("program not found")

// Catalog is the program list persisted as a JSON file.
type Catalog struct {
	path   string
	logger *log.Logger
	now    func() time.Time

	mu       sync.RWMutex
	programs []Program
}

func NewCatalog(path string, logger *log.Logger) *Catalog {
	if logger == nil {
		panic("Catalog: logger cannot be nil")
	}
	return &Catalog{path: path, logger: logger, now: time.Now}
}

func (c *Catalog) Path() string {
	return c.path
}

// Load replaces the in-memory list with the file contents. A missing file
// yields an empty catalog.
func (c *Catalog) Load() error {
	buf, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Printf("Catalog: %s does not exist, starting empty", c.path)
		c.mu.Lock()
		c.programs = nil
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read programs: %w", err)
	}

	var programs []Program
	if err := json.Unmarshal(buf, &programs); err != nil {
		return fmt.Errorf("parse %s: %w", c.path, err)
	}
	for _, p := range programs {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.path, err)
		}
	}

	c.mu.Lock()
	c.programs = programs
	c.mu.Unlock()
	c.logger.Printf("Catalog: loaded %d programs from %s", len(programs), c.path)
	return nil
}

// Save writes the current list. The file is replaced atomically.
func (c *Catalog) Save() error {
	c.mu.RLock()
	buf, err := json.MarshalIndent(c.programs, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode programs: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".programs-*.json")
	if err != nil {
		return fmt.Errorf("save programs: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(buf, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("save programs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save programs: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("save programs: %w", err)
	}
	return nil
}

// SaveProgram replaces the whole list and persists it.
func (c *Catalog) SaveProgram(programs []Program) error {
	cp := make([]Program, len(programs))
	for i, p := range programs {
		if err := p.Validate(); err != nil {
			return err
		}
		cp[i] = p.Clone()
	}
	c.mu.Lock()
	c.programs = cp
	c.mu.Unlock()
	return c.Save()
}

// Program returns a deep copy of program id.
func (c *Catalog) Program(id int) (Program, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id < 0 || id >= len(c.programs) {
		return Program{}, fmt.Errorf("%w: id %d of %d", ErrProgramNotFound, id, len(c.programs))
	}
	return c.programs[id].Clone(), nil
}

func (c *Catalog) Programs() []Program {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Program, len(c.programs))
	for i, p := range c.programs {
		out[i] = p.Clone()
	}
	return out
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.programs))
	for i, p := range c.programs {
		names[i] = p.Name
	}
	return names
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// NewProgram appends a program with one default segment. An empty name
// becomes wk-YYMMDD-HHMM. It returns the new program id.
func (c *Catalog) NewProgram(name string) int {
	if name == "" {
		name = c.now().Format("wk-060102-1504")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programs = append(c.programs, Program{
		Name:     name,
		Segments: []Segment{{Type: SegmentPower, Duration: 300, Setting: 100}},
	})
	return len(c.programs) - 1
}

// Update replaces program id with a copy of p.
func (c *Catalog) Update(id int, p Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.programs) {
		return fmt.Errorf("%w: id %d", ErrProgramNotFound, id)
	}
	c.programs[id] = p.Clone()
	return nil
}

func (c *Catalog) Remove(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.programs) {
		return fmt.Errorf("%w: id %d", ErrProgramNotFound, id)
	}
	c.programs = append(c.programs[:id], c.programs[id+1:]...)
	return nil
}

// Parameters computes the aggregates of programs from..to inclusive. Ids out
// of range are skipped.
func (c *Catalog) Parameters(from, to int) []Parameters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Parameters
	for id := from; id <= to; id++ {
		if id < 0 || id >= len(c.programs) {
			continue
		}
		out = append(out, c.programs[id].Parameters())
	}
	return out
}
