package strategy

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed scripts/*.js
var embeddedScripts embed.FS

// ErrScriptNotFound is returned when no extraction script exists for a name.
var ErrScriptNotFound = errors.New("extraction script not found")

// LoadScript returns the extraction script called name. A file named
// <name>.js inside dir takes precedence over the built-in copy.
func LoadScript(dir, name string) (string, error) {
	file := name + ".js"
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, file))
		switch {
		case err == nil:
			return strings.TrimSpace(string(data)), nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("read script %s: %w", file, err)
		}
	}
	data, err := embeddedScripts.ReadFile("scripts/" + file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrScriptNotFound, name)
		}
		return "", fmt.Errorf("read embedded script %s: %w", file, err)
	}
	return strings.TrimSpace(string(data)), nil
}
