package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/fluxgo/core/engine"
)

// FileSource reads a Document from a .json, .yaml or .yml file on every fetch.
type FileSource struct {
	path string
}

// NewFileSource returns a source for path.
func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

// Fetch reads and decodes the file. The modification time stands in for a
// missing as_of.
func (s *FileSource) Fetch(context.Context) (engine.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return engine.Snapshot{}, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return engine.Snapshot{}, err
	}
	var doc Document
	switch ext := strings.ToLower(filepath.Ext(s.path)); ext {
	case ".json":
		err = json.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		return engine.Snapshot{}, fmt.Errorf("unsupported price file format: %s", ext)
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc.Snapshot(data, info.ModTime())
}
