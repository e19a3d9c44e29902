package levels

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/antibyte/crisisroom/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Decode parses a level in YAML or JSON; JSON is read by the YAML decoder.
func Decode(data []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("decode level: %w", err)
	}
	return l, nil
}

// Encode writes a level as "json" or "yaml".
func Encode(l Layout, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(l, "", "  ")
	case "yaml", "yml", "":
		return yaml.Marshal(l)
	}
	return nil, fmt.Errorf("unsupported level format %q", format)
}

// FileName derives a file-system friendly name from the level name.
func FileName(l Layout, ext string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(l.Name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String() + "." + ext
}

// LoadFile reads and validates one level file.
func LoadFile(path string, width, height int) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	l, err := Decode(data)
	if err != nil {
		return Layout{}, err
	}
	if err := Validate(&l, width, height); err != nil {
		return Layout{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return l, nil
}

// SaveFile writes l into dir using the extension to pick the format.
func SaveFile(dir string, l Layout, format string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	data, err := Encode(l, format)
	if err != nil {
		return "", err
	}
	if format == "" {
		format = "yaml"
	}
	path := filepath.Join(dir, FileName(l, format))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadDir loads every .yaml, .yml and .json level in dir, sorted by file
// name. A missing directory yields no levels. Invalid files are skipped
// and logged.
func LoadDir(dir string, width, height int) ([]Layout, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []Layout{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	layouts := make([]Layout, 0, len(names))
	for _, name := range names {
		l, err := LoadFile(filepath.Join(dir, name), width, height)
		if err != nil {
			logger.Warn(logger.AreaLevels, "skipping level file: %v", err)
			continue
		}
		layouts = append(layouts, l)
	}
	logger.Info(logger.AreaLevels, "loaded %d custom levels from %s", len(layouts), dir)
	return layouts, nil
}
