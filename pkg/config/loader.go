package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. FASTIR_CORPUS_SOURCE.
const EnvPrefix = "FASTIR"

// Options controls where Load looks for a configuration file.
type Options struct {
	// Path is an explicit config file. When set, the file must exist.
	Path string
	// SearchDirs are searched for fastir.yaml / fastir.yml when Path is empty.
	SearchDirs []string
}

// Load loads configuration with the following priority (highest to lowest):
//  1. Environment variables (FASTIR_*)
//  2. Config file, with ${VAR} references expanded
//  3. Default values
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}

	path, err := resolvePath(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
				WithDetail("path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to unmarshal config")
	}

	// The Hub's own variable is honoured when no token is configured.
	if cfg.Storage.Hub.Token == "" {
		cfg.Storage.Hub.Token = os.Getenv("HF_TOKEN")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump renders cfg as YAML. Secrets are masked.
func Dump(cfg *Config) ([]byte, error) {
	masked := *cfg
	masked.Storage.S3.SecretKey = mask(masked.Storage.S3.SecretKey)
	masked.Storage.Hub.Token = mask(masked.Storage.Hub.Token)

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal config")
	}
	return data, nil
}

// Save writes cfg to path as YAML, without masking.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func resolvePath(opts Options) (string, error) {
	if opts.Path != "" {
		if _, err := os.Stat(opts.Path); err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "config file not found").
				WithDetail("path", opts.Path)
		}
		return opts.Path, nil
	}
	for _, dir := range opts.SearchDirs {
		for _, name := range []string{"fastir.yaml", "fastir.yml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", nil
}

// setDefaults registers every key of defaults with viper. Registering the
// full key set is what lets AutomaticEnv override keys absent from the file.
func setDefaults(v *viper.Viper, defaults *Config) error {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal defaults")
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to decode defaults")
	}

	flat := make(map[string]interface{})
	flatten("", tree, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.SetDefault(k, flat[k])
	}
	return nil
}

func flatten(prefix string, tree map[string]interface{}, out map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = val
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
