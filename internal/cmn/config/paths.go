package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// XDGConfig holds the base directories used when no home directory is set.
type XDGConfig struct {
	DataHome   string
	ConfigHome string
	StateHome  string
	CacheHome  string
}

// Paths are the default directories of the application.
type Paths struct {
	ConfigDir string
	DataDir   string
	LogDir    string
	TempDir   string
}

func defaultXDG() XDGConfig {
	return XDGConfig{
		DataHome:   xdg.DataHome,
		ConfigHome: xdg.ConfigHome,
		StateHome:  xdg.StateHome,
		CacheHome:  xdg.CacheHome,
	}
}

// ResolvePaths uses the directory in the appHomeEnv variable when it is set
// and the XDG base directories otherwise.
func ResolvePaths(appHomeEnv string, x XDGConfig) Paths {
	if home := os.Getenv(appHomeEnv); home != "" {
		return unifiedPaths(home)
	}
	return Paths{
		ConfigDir: filepath.Join(x.ConfigHome, AppSlug),
		DataDir:   filepath.Join(x.DataHome, AppSlug),
		LogDir:    filepath.Join(x.StateHome, AppSlug, "logs"),
		TempDir:   filepath.Join(x.CacheHome, AppSlug, "tmp"),
	}
}

// unifiedPaths places everything below a single home directory.
func unifiedPaths(home string) Paths {
	return Paths{
		ConfigDir: home,
		DataDir:   filepath.Join(home, "data"),
		LogDir:    filepath.Join(home, "logs"),
		TempDir:   filepath.Join(home, "tmp"),
	}
}
