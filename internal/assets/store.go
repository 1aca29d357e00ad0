// Package assets persists generated image bytes for the rest of the
// application to serve.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Store is the collaborator contract consumed by the generation pipeline.
type Store interface {
	Save(data []byte, suggestedName string) (string, error)
	Exists(path string) bool
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// DirStore writes assets into a flat local directory.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) (*DirStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("asset directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Save writes data under a sanitized version of suggestedName, appending a
// numeric suffix instead of overwriting on collision.
func (s *DirStore) Save(data []byte, suggestedName string) (string, error) {
	name := sanitizeName(suggestedName)
	path := filepath.Join(s.dir, name)
	for i := 1; s.Exists(path); i++ {
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		path = filepath.Join(s.dir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write asset: %w", err)
	}
	return path, nil
}

func (s *DirStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "asset.jpg"
	}
	name = unsafeNameChars.ReplaceAllString(name, "-")
	if filepath.Ext(name) == "" {
		name += ".jpg"
	}
	return name
}
