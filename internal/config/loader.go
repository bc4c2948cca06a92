package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the primary config file name.
const ConfigFileName = "wardsql.yaml"

// ConfigFileNameAlt is the alternate config file name.
const ConfigFileNameAlt = "wardsql.yml"

var configFileUsed string

// flagKeyMap bridges flag names to nested config keys. Flags not listed
// here map by the kebab-to-snake rule at the top level.
var flagKeyMap = map[string]string{
	"catalog":    "catalog.path",
	"concepts":   "catalog.concepts",
	"watch":      "catalog.watch",
	"audit-db":   "audit.path",
	"max-rows":   "guard.max_rows",
	"timeout-ms": "executor.statement_timeout_ms",
	"row-cap":    "executor.row_cap",
	"db-type":    "target.type",
	"db-path":    "target.path",
	"host":       "target.host",
	"port":       "target.port",
	"database":   "target.database",
	"username":   "target.username",
}

// findConfigFile finds the config file to use.
// Priority: explicit path > wardsql.yaml > wardsql.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults.
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"target.type":                   "postgres",
		"guard.max_rows":                2000,
		"executor.statement_timeout_ms": 15000,
		"executor.row_cap":              2000,
		"validator.tolerance":           0.05,
		"validator.small_count_floor":   20,
		"catalog.path":                  "catalog.yaml",
		"audit.path":                    filepath.Join(".wardsql", "audit.db"),
		"verbose":                       false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file, when present.
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment variables (WARDSQL_ prefix).
	// Double underscore nests: WARDSQL_GUARD__MAX_ROWS -> guard.max_rows.
	if err := k.Load(env.Provider("WARDSQL_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "WARDSQL_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, highest priority.
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set.
			if !f.Changed {
				return "", nil
			}
			if key, ok := flagKeyMap[f.Name]; ok {
				return key, posflag.FlagVal(flags, f)
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Paths from the config file resolve relative to the file's directory.
	if configFileUsed != "" {
		base := filepath.Dir(configFileUsed)
		cfg.Catalog.Path = resolvePathRelativeTo(cfg.Catalog.Path, base)
		cfg.Catalog.Concepts = resolvePathRelativeTo(cfg.Catalog.Concepts, base)
		cfg.Audit.Path = resolvePathRelativeTo(cfg.Audit.Path, base)
	}

	// Credentials may reference environment variables as ${VAR}.
	cfg.Target.Username = expandEnvVars(cfg.Target.Username)
	cfg.Target.Password = expandEnvVars(cfg.Target.Password)
	cfg.Target.Host = expandEnvVars(cfg.Target.Host)
	cfg.Target.Database = expandEnvVars(cfg.Target.Database)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FileUsed returns the path to the config file being used, if any.
func FileUsed() string {
	return configFileUsed
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not
// absolute. Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
}
