package engine

import (
	"fmt"
	"os"

	"github.com/cassavanet/cassavanet/internal/errors"
	"github.com/cassavanet/cassavanet/internal/logger"
)

// ModelFile is the read-only contents of a model artifact. Release must be
// called once the runtime no longer needs Data.
type ModelFile struct {
	Path   string
	Data   []byte
	Mapped bool

	release func() error
}

// Release unmaps or drops the file contents. It is safe to call twice.
func (m *ModelFile) Release() error {
	if m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.Data = nil
	return err
}

// OpenModelFile memory-maps the model at path where the platform supports it
// and reads it into memory otherwise.
func OpenModelFile(path string) (*ModelFile, error) {
	if path == "" {
		return nil, errors.Newf("model path is empty").
			Component("engine").
			Category(errors.CategoryModelLoad).
			Build()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("open model: %w", err)).
			Component("engine").
			Category(errors.CategoryModelLoad).
			ModelContext(path, "").
			Build()
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.New(fmt.Errorf("stat model: %w", err)).
			Component("engine").
			Category(errors.CategoryModelLoad).
			ModelContext(path, "").
			Build()
	}
	if st.Size() == 0 {
		return nil, errors.Newf("model file is empty").
			Component("engine").
			Category(errors.CategoryModelLoad).
			ModelContext(path, "").
			Build()
	}

	data, release, err := mapFile(f, st.Size())
	if err == nil {
		return &ModelFile{Path: path, Data: data, Mapped: true, release: release}, nil
	}
	GetLogger().Debug("Memory map unavailable, reading model into memory",
		logger.String("path", path), logger.Error(err))

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("read model: %w", err)).
			Component("engine").
			Category(errors.CategoryModelLoad).
			FileContext(path, st.Size()).
			Build()
	}
	return &ModelFile{Path: path, Data: data, release: func() error { return nil }}, nil
}
