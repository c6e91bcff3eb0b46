// Package config loads hub configuration from YAML files, dotenv files and
// ORDERHUB_ environment overrides into the raw map consumed by core.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: ORDERHUB_DOWNSTREAM__BASE_URL sets downstream.base_url.
const EnvPrefix = "ORDERHUB_"

// FileLoader implements core.RawConfigLoader.
type FileLoader struct {
	// Path of the YAML file. A missing file yields an empty base layer.
	Path string
	// EnvFiles are read with godotenv. Process environment wins over them.
	EnvFiles []string
	// Environ defaults to os.Environ.
	Environ func() []string
}

func NewFileLoader(path string, envFiles ...string) *FileLoader {
	return &FileLoader{Path: strings.TrimSpace(path), EnvFiles: envFiles}
}

func (l *FileLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env, err := l.environment()
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	if l.Path != "" {
		content, err := os.ReadFile(l.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", l.Path, err)
		default:
			expanded := os.Expand(string(content), func(key string) string {
				return env[key]
			})
			if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", l.Path, err)
			}
			if raw == nil {
				raw = map[string]any{}
			}
		}
	}

	applyEnvOverrides(raw, env)
	if err := normalizeDurations(raw, ""); err != nil {
		return nil, err
	}
	return raw, nil
}

func (l *FileLoader) environment() (map[string]string, error) {
	env := map[string]string{}
	for _, file := range l.EnvFiles {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: read env file %s: %w", file, err)
		}
		for key, value := range values {
			env[key] = value
		}
	}
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	for _, entry := range environ() {
		key, value, ok := strings.Cut(entry, "=")
		if ok {
			env[key] = value
		}
	}
	return env, nil
}

func applyEnvOverrides(raw map[string]any, env map[string]string) {
	for key, value := range env {
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__")
		setPath(raw, path, parseScalar(value))
	}
}

func setPath(raw map[string]any, path []string, value any) {
	current := raw
	for i, segment := range path {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return
		}
		if i == len(path)-1 {
			current[segment] = value
			return
		}
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
}

func parseScalar(value string) any {
	trimmed := strings.TrimSpace(value)
	if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return parsed
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}
	if strings.Contains(trimmed, ",") {
		parts := strings.Split(trimmed, ",")
		out := make([]any, 0, len(parts))
		for _, part := range parts {
			out = append(out, strings.TrimSpace(part))
		}
		return out
	}
	return value
}

// durationKeys are decoded from strings such as "30s" before the map reaches
// the typed config.
var durationKeys = []string{"timeout", "interval", "after", "ttl", "schedule"}

func isDurationKey(key string) bool {
	for _, suffix := range durationKeys {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

func normalizeDurations(raw map[string]any, prefix string) error {
	for key, value := range raw {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch typed := value.(type) {
		case map[string]any:
			if err := normalizeDurations(typed, path); err != nil {
				return err
			}
		case string:
			if !isDurationKey(key) {
				continue
			}
			parsed, err := time.ParseDuration(strings.TrimSpace(typed))
			if err != nil {
				return fmt.Errorf("config: %s: %w", path, err)
			}
			raw[key] = parsed
		case []any:
			if !isDurationKey(key) {
				continue
			}
			out := make([]time.Duration, 0, len(typed))
			for i, item := range typed {
				text, ok := item.(string)
				if !ok {
					return fmt.Errorf("config: %s[%d] must be a duration string", path, i)
				}
				parsed, err := time.ParseDuration(strings.TrimSpace(text))
				if err != nil {
					return fmt.Errorf("config: %s[%d]: %w", path, i, err)
				}
				out = append(out, parsed)
			}
			raw[key] = out
		}
	}
	return nil
}

// Load resolves defaults < file < runtime through the core option stack.
func Load(ctx context.Context, path string, runtime core.Config, envFiles ...string) (core.Config, error) {
	provider := core.NewCfgxConfigProvider(NewFileLoader(path, envFiles...))
	return core.ResolveConfig(ctx, provider, core.GoOptionsResolver{}, runtime)
}

var _ core.RawConfigLoader = (*FileLoader)(nil)
