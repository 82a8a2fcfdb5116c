// Package prefs persists the local display preference.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Theme is the display theme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// FileName is the preference file under the user config directory.
const FileName = "prefs.yaml"

// ErrInvalidTheme is returned for a theme other than dark or light.
var ErrInvalidTheme = errors.New("invalid theme")

// ParseTheme validates s as a theme.
func ParseTheme(s string) (Theme, error) {
	switch t := Theme(s); t {
	case ThemeDark, ThemeLight:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTheme, s)
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// Prefs is the persisted preference document.
type Prefs struct {
	Theme Theme `yaml:"theme"`
}

// Default returns the preferences used when nothing is stored.
func Default() Prefs {
	return Prefs{Theme: ThemeDark}
}

// Load reads preferences from path. A missing file, or a stored theme that
// is not recognised, yields the default theme.
func Load(path string) (Prefs, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("read prefs: %w", err)
	}

	var p Prefs
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Default(), fmt.Errorf("parse prefs: %w", err)
	}
	if _, err := ParseTheme(string(p.Theme)); err != nil {
		p.Theme = ThemeDark
	}
	return p, nil
}

// Save writes preferences to path, creating the directory.
func Save(path string, p Prefs) error {
	if _, err := ParseTheme(string(p.Theme)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create prefs directory: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}
