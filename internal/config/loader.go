package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	envPrefix         = "ASKD_"
)

// boolDefaults are the switches that default to on. They are seeded before
// the file is loaded because the zero value cannot be told apart from an
// explicit false.
var boolDefaults = map[string]bool{
	"server.mcp_enabled": true,
	"gaps.enabled":       true,
	"secrets.enabled":    true,
	"chromem.compress":   true,
}

// LoadWithFile loads configuration from a YAML file, then environment
// variables, then fills defaults. An empty configPath means
// ~/.config/askd/config.yaml; a missing file is not an error.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the first underscore separates the section:
//
//	ASKD_SERVER_HTTP_PORT -> server.http_port
//	ASKD_GAPS_QUALITY_FLOOR -> gaps.quality_floor
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range boolDefaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("seeding default %s: %w", key, err)
		}
	}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "askd", "config.yaml")
	}

	if err := checkConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path rejected: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading %s* environment: %w", envPrefix, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyDefaults(&cfg)
	if err := expandPaths(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey maps ASKD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile reads path through one descriptor so the permission and
// size checks apply to the bytes actually loaded. The file must be owner
// readable only and at most 1MB.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("inspecting config file: %w", err)
	}
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0600 && perm != 0400 {
		return nil, fmt.Errorf("config file %s has mode %v, want 0600 or 0400", path, perm)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxConfigFileSize))
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// expandPaths resolves ~ in every filesystem setting.
func expandPaths(cfg *Config) error {
	for _, p := range []*string{
		&cfg.Chromem.Path,
		&cfg.Snapshot.Path,
		&cfg.Embeddings.CacheDir,
		&cfg.Permission.PolicyFile,
	} {
		v, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// checkConfigPath confines the config file, after resolving symlinks, to
// ~/.config/askd/ or /etc/askd/. It runs whether or not the file exists.
func checkConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	for _, dir := range []string{filepath.Join(home, ".config", "askd"), "/etc/askd"} {
		if strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/askd/ or /etc/askd/, got %s", path)
}
