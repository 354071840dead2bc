package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration. Sources are applied in order of increasing
// precedence: defaults, the YAML file at path (skipped when path is empty),
// then REALTIME_* environment variables.
func Load(_ context.Context, path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		data, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawMap(data), nil); err != nil {
			return nil, fmt.Errorf("failed to apply %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return unmarshalAndValidate(k)
}

func readYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	return filterNilValues(out), nil
}

// filterNilValues drops nil values so they do not override defaults.
func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if filtered := filterNilValues(nested); len(filtered) > 0 {
				result[k] = filtered
			}
			continue
		}
		result[k] = v
	}
	return result
}

// transformEnvKey converts REALTIME_RECONNECT_MIN_BACKOFF to
// reconnect.min_backoff. Map entries use one more level:
// REALTIME_AUTH_CREDENTIALS_API_KEY sets auth.credentials.api_key.
func transformEnvKey(key, value string) (string, any) {
	s := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' })
	if len(parts) == 0 {
		return "", nil
	}
	if len(parts) == 1 {
		return parts[0], value
	}

	// Longest prefix first: auth_strategy_config is a map below auth_strategy.
	for _, m := range []string{"auth_credentials", "auth_strategy_config", "auth_strategy"} {
		prefix := m + "_"
		if joined := strings.Join(parts, "_"); strings.HasPrefix(joined, prefix) {
			return strings.ReplaceAll(m, "_", ".") + "." + strings.TrimPrefix(joined, prefix), value
		}
	}
	return parts[0] + "." + strings.Join(parts[1:], "_"), value
}

func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

func unmarshalAndValidate(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and the auth strategy.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.Auth.Strategy.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: auth.strategy: %w", err)
	}
	if cfg.Auth.BearerToken != "" && cfg.Auth.Strategy.Type != "" {
		return fmt.Errorf("configuration validation failed: auth.bearer_token and auth.strategy are mutually exclusive")
	}
	return nil
}

type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}
