package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/pkg/errors"
)

const (
	dirMode = 0700
)

// ErrModelUnavailable is returned by Load when there is no artifact at the
// path. Callers that have a heuristic fallback may use it; everything else
// about a failed load is a *LoadError.
var ErrModelUnavailable = errors.New("model unavailable")

// LoadError reports an artifact that exists but can not be used.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("error loading model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Exists reports whether an artifact is present at path.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Save writes the model artifact to path. The file is written next to the
// target first and renamed into place, so readers never see a partial file.
func Save(m *Model, path string) (retErr error) {
	if m == nil {
		return errors.New("model required")
	}
	if path == "" {
		return errors.New("model path required")
	}
	if err := m.validate(); err != nil {
		return errors.Wrap(err, "invalid model")
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal model")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return errors.Wrapf(err, "failed to create model dir: %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file in: %s", dir)
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		return errors.Wrapf(err, "failed to write model: %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close model: %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to move model into place: %s", path)
	}

	slog.Debug("model saved", "path", path, "features", len(m.Features))
	return nil
}

// Load reads a model artifact. A missing file is ErrModelUnavailable, any
// other failure is a *LoadError.
func Load(path string) (*Model, error) {
	if path == "" {
		return nil, errors.Wrap(ErrModelUnavailable, "model path not specified")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrModelUnavailable, "no model at: %s", path)
		}
		return nil, &LoadError{Path: path, Err: err}
	}

	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, &LoadError{Path: path, Err: errors.Wrap(err, "corrupt artifact")}
	}

	if m.SchemaVersion != SchemaVersion {
		return nil, &LoadError{Path: path, Err: errors.Errorf("unsupported schema version: %d", m.SchemaVersion)}
	}

	if err := m.validate(); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	vocab, ok := feature.VocabularyOf(m.Features)
	if !ok {
		return nil, &LoadError{Path: path, Err: errors.Errorf("feature list does not match a known vocabulary: %v", m.Features)}
	}
	if m.Vocabulary != "" && m.Vocabulary != vocab {
		return nil, &LoadError{Path: path, Err: errors.Errorf("artifact vocabulary %q does not match its features (%s)", m.Vocabulary, vocab)}
	}
	m.Vocabulary = vocab

	slog.Debug("model loaded", "path", path, "vocabulary", vocab)
	return &m, nil
}
