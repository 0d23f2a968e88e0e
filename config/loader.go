package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/eventbridge/util"
)

// FileSystem interface for file operations (useful for testing).
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem implements FileSystem using actual file operations.
type RealFileSystem struct{}

func (rfs *RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadEnv loads a .env file without overriding variables already set.
func (rfs *RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Resolver handles finding and resolving config and env files.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved config and env file paths.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles finds config and env files for a service.
// Returns explicit paths if provided, otherwise searches for them.
func (cr *Resolver) ResolveFiles(serviceName string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	}
	if resolved.ConfigFile == "" {
		resolved.ConfigFile = cr.findFirst(searchPaths(serviceName, "config.yml"))
	}
	if resolved.EnvFile == "" {
		resolved.EnvFile = cr.findFirst(append(
			searchPaths(serviceName, ".env."+serviceName),
			searchPaths(serviceName, ".env")...,
		))
	}
	return resolved
}

func (cr *Resolver) findFirst(paths []string) string {
	for _, path := range paths {
		if cr.FileSystem.Exists(path) {
			return path
		}
	}
	return ""
}

// searchPaths lists candidate locations of fileName, most specific first.
func searchPaths(serviceName, fileName string) []string {
	return []string{
		fmt.Sprintf("./cmd/%s/%s", serviceName, fileName),
		fmt.Sprintf("../cmd/%s/%s", serviceName, fileName),
		fmt.Sprintf("../../cmd/%s/%s", serviceName, fileName),
		fmt.Sprintf("./config/%s", fileName),
		fmt.Sprintf("../config/%s", fileName),
		fmt.Sprintf("./%s", fileName),
		fmt.Sprintf("../%s", fileName),
	}
}

// EnvAlias maps an environment variable onto a config key whose name does not
// follow the automatic UPPER_SNAKE -> nested.key convention.
type EnvAlias struct {
	Env string
	Key string
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string // Direct config file path (optional)
	EnvFile    string // Direct env file path (optional)
	Aliases    []EnvAlias
	Defaults   map[string]interface{}
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvAliases adds explicit environment bindings. When several aliases
// target the same key, the last one that is set wins.
func WithEnvAliases(aliases ...EnvAlias) LoaderOption {
	return func(lc *LoaderConfig) { lc.Aliases = append(lc.Aliases, aliases...) }
}

// WithDefaults registers default values by config key.
func WithDefaults(defaults map[string]interface{}) LoaderOption {
	return func(lc *LoaderConfig) {
		if lc.Defaults == nil {
			lc.Defaults = make(map[string]interface{}, len(defaults))
		}
		for k, v := range defaults {
			lc.Defaults[k] = v
		}
	}
}

// LoadConfig loads configuration for a service into the provided cfg struct.
// Precedence, lowest first: defaults, config.yml, environment (including
// values loaded from .env), aliases.
func LoadConfig(serviceName string, cfg interface{}, opts ...LoaderOption) error {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = &RealFileSystem{}
	}

	resolver := &Resolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(serviceName, lc)

	return loadFromResolvedFiles(serviceName, cfg, files, lc)
}

func loadFromResolvedFiles(serviceName string, cfg interface{}, files ResolvedFiles, lc LoaderConfig) error {
	v := viper.New()
	for k, val := range lc.Defaults {
		v.SetDefault(k, val)
	}

	if files.ConfigFile != "" && lc.FileSystem.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "[config] warning: failed to load config file %s: %v\n", files.ConfigFile, err)
		}
	}

	// .env never overrides variables already present in the process environment.
	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			fmt.Fprintf(os.Stderr, "[config] warning: failed to load .env file %s: %v\n", files.EnvFile, err)
		}
	}

	autoBindEnvVars(v)
	applyAliases(v, lc.Aliases)

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config for service %s: %w", serviceName, err)
	}
	return nil
}

func applyAliases(v *viper.Viper, aliases []EnvAlias) {
	for _, a := range aliases {
		if val, ok := os.LookupEnv(a.Env); ok && strings.TrimSpace(val) != "" {
			v.Set(a.Key, util.SanitizeEnvValue(val))
		}
	}
}

// autoBindEnvVars binds every environment variable to viper under each of its
// possible nested key spellings.
func autoBindEnvVars(v *viper.Viper) {
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || key == "" {
			continue
		}
		for _, variant := range generateEnvKeyVariants(key) {
			v.Set(variant, util.SanitizeEnvValue(value))
		}
	}
}

// generateEnvKeyVariants creates all possible key variants for environment variable binding.
// Examples:
//
//	KAFKA_CLIENT_ID -> [kafka_client_id, kafka.client.id, kafka.client_id, kafka_client.id]
func generateEnvKeyVariants(envKey string) []string {
	lowerKey := strings.ToLower(envKey)
	parts := strings.Split(lowerKey, "_")

	if len(parts) <= 1 {
		return []string{lowerKey}
	}

	variants := []string{
		lowerKey,
		strings.ReplaceAll(lowerKey, "_", "."),
	}

	// One split point: prefix.suffix with underscores kept on each side.
	for i := 1; i < len(parts); i++ {
		prefix := strings.Join(parts[:i], "_")
		suffix := strings.Join(parts[i:], "_")
		variants = append(variants, prefix+"."+suffix)
	}
	// Nested prefix, flat suffix.
	for i := 1; i < len(parts); i++ {
		prefix := strings.Join(parts[:i], ".")
		suffix := strings.Join(parts[i:], "_")
		variants = append(variants, prefix+"."+suffix)
	}

	return util.Union(variants)
}
