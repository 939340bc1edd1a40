package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Loader reads and writes a settings file.
type Loader struct {
	fs     FileSystem
	path   string
	prefix string
	getenv func(string) string
}

// NewLoader creates a loader for the settings file at path on the OS file
// system.
func NewLoader(path string) *Loader {
	return NewLoaderWithFS(DefaultFS(), path)
}

// NewLoaderWithFS creates a loader that reads from fsys.
func NewLoaderWithFS(fsys FileSystem, path string) *Loader {
	return &Loader{
		fs:     fsys,
		path:   path,
		prefix: "FLOO_",
		getenv: os.Getenv,
	}
}

// Path returns the settings file path.
func (l *Loader) Path() string {
	return l.path
}

// Load returns the defaults overlaid with the settings file and the
// environment. A missing settings file is not an error.
func (l *Loader) Load() (*Settings, error) {
	s := Default()
	if err := l.loadFile(s); err != nil {
		return nil, err
	}
	if err := l.applyEnv(s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Loader) loadFile(s *Settings) error {
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			glog.V(1).Infof("[config]no settings at %s\n", l.path)
			return nil
		}
		return fmt.Errorf("reading settings file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(l.path)); ext {
	case ".toml", "":
		return l.decodeTOML(data, s)
	case ".yaml", ".yml":
		return l.decodeYAML(data, s)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func (l *Loader) decodeTOML(data []byte, s *Settings) error {
	if err := toml.Unmarshal(data, s); err != nil {
		perr := &ParseError{Path: l.path, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

func (l *Loader) decodeYAML(data []byte, s *Settings) error {
	if err := yaml.Unmarshal(data, s); err != nil {
		return &ParseError{Path: l.path, Message: err.Error(), Err: err}
	}
	return nil
}

// Save writes s to the settings file as TOML. The file is replaced
// atomically and is readable only by its owner since it holds secrets.
func (l *Loader) Save(s *Settings) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return writeFileAtomic(l.path, buf.Bytes(), 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	return os.Rename(name, path)
}
