package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// rootMarkers name the directories that mark a project root, checked in
// order at each level.
var rootMarkers = []string{".git", ProjectConfigDir}

// ResolvePaths makes the state, log and event paths absolute. A leading
// "~/" expands to the home directory; other relative paths are joined to
// base, or to the working directory when base is empty. Empty paths stay
// empty.
func ResolvePaths(paths PathsConfig, base string) (PathsConfig, error) {
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return paths, fmt.Errorf("get working directory: %w", err)
		}
		base = wd
	}

	var firstErr error
	abs := func(p string) string {
		out, err := absPath(p, base)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return out
	}
	out := PathsConfig{
		State:  abs(paths.State),
		Log:    abs(paths.Log),
		Events: abs(paths.Events),
	}
	if firstErr != nil {
		return paths, firstErr
	}
	return out, nil
}

func absPath(p, base string) (string, error) {
	switch {
	case p == "", filepath.IsAbs(p):
		return p, nil
	case p == "~" || strings.HasPrefix(p, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return p, fmt.Errorf("expand %q: %w", p, err)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	default:
		return filepath.Join(base, p), nil
	}
}

// FindProjectRoot returns the nearest directory at or above start that
// holds a .git or .coachrun directory. Without a marker it returns start
// made absolute. An empty start means the working directory.
func FindProjectRoot(start string) string {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		start = wd
	}
	origin, err := filepath.Abs(start)
	if err != nil {
		return start
	}

	for dir := origin; ; {
		if hasRootMarker(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return origin
		}
		dir = parent
	}
}

func hasRootMarker(dir string) bool {
	for _, m := range rootMarkers {
		if fi, err := os.Stat(filepath.Join(dir, m)); err == nil && fi.IsDir() {
			return true
		}
	}
	return false
}
