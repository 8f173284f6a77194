// Package labels maps classifier output indices to disease names.
package labels

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/antonholmquist/jason"

	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
)

//go:embed data/labels.json
var bundledLabels []byte

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the labels module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("labels")
	})
	return serviceLogger
}

// Table maps class indices to human-readable names. A Table is immutable
// after construction and safe for concurrent use.
type Table struct {
	names map[int]string
}

// Parse builds a Table from a flat JSON object whose keys are integers
// written as text, e.g. {"0": "Healthy"}.
func Parse(data []byte) (*Table, error) {
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, labelError(fmt.Errorf("labels: invalid JSON object: %w", err), "parse")
	}

	entries := obj.Map()
	names := make(map[int]string, len(entries))
	for key, value := range entries {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, labelError(fmt.Errorf("labels: key %q is not an integer", key), "parse")
		}
		name, err := value.String()
		if err != nil {
			return nil, labelError(fmt.Errorf("labels: value for key %q is not a string", key), "parse")
		}
		if _, dup := names[idx]; dup {
			return nil, labelError(fmt.Errorf("labels: index %d appears more than once", idx), "parse")
		}
		names[idx] = name
	}

	return &Table{names: names}, nil
}

// LoadFile reads and parses a label file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("labels: read %s: %w", path, err)).
			Component("labels").
			Category(errors.CategoryLabelLoad).
			FileContext(path, 0).
			Context("operation", "load_file").
			Build()
	}

	t, err := Parse(data)
	if err != nil {
		return nil, err
	}

	GetLogger().Debug("Label table loaded",
		logger.String("path", path),
		logger.Int("classes", t.Len()))
	return t, nil
}

// Default returns the bundled five-class cassava table.
func Default() *Table {
	t, err := Parse(bundledLabels)
	if err != nil {
		panic(fmt.Sprintf("labels: bundled label table is invalid: %v", err))
	}
	return t
}

// Load returns the table at path, or the bundled table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// New builds a Table directly from a map. The map is copied.
func New(names map[int]string) *Table {
	return &Table{names: maps.Clone(names)}
}

// Lookup returns the name for index. A missing index is not an error: it
// yields ("", false).
func (t *Table) Lookup(index int) (string, bool) {
	name, ok := t.names[index]
	return name, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.names)
}

// Indices returns the indices present in the table, ascending.
func (t *Table) Indices() []int {
	return slices.Sorted(maps.Keys(t.names))
}

// MaxIndex returns the largest index, or -1 for an empty table.
func (t *Table) MaxIndex() int {
	if len(t.names) == 0 {
		return -1
	}
	return slices.Max(slices.Collect(maps.Keys(t.names)))
}

// Entries returns a copy of the index to name mapping.
func (t *Table) Entries() map[int]string {
	return maps.Clone(t.names)
}

func labelError(err error, op string) error {
	return errors.New(err).
		Component("labels").
		Category(errors.CategoryLabelLoad).
		Context("operation", op).
		Build()
}
