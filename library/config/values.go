package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gconfig "github.com/Laisky/go-config/v2"
)

// Int reads an integer setting, returning def when the key is absent or malformed.
func Int(key string, def int) int {
	value := gconfig.S.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed int
		if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Float reads a float setting, returning def when the key is absent or malformed.
func Float(key string, def float64) float64 {
	value := gconfig.S.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed float64
		if _, err := fmt.Sscanf(trimmed, "%f", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Duration reads a duration setting. Strings are parsed with
// time.ParseDuration, bare numbers are seconds.
func Duration(key string, def time.Duration) time.Duration {
	value := gconfig.S.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		parsed, err := time.ParseDuration(trimmed)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Bool reads a boolean setting, returning def when the key is absent or malformed.
func Bool(key string, def bool) bool {
	switch v := gconfig.S.Get(key).(type) {
	case nil:
		return def
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// String reads a trimmed string setting, returning def when empty.
func String(key, def string) string {
	if v := strings.TrimSpace(gconfig.S.GetString(key)); v != "" {
		return v
	}
	return def
}

// Strings reads a list setting. A comma separated string is also accepted.
func Strings(key string, def []string) []string {
	value := gconfig.S.Get(key)
	var out []string
	switch v := value.(type) {
	case nil:
		return def
	case []string:
		out = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = strings.Split(v, ",")
	default:
		return def
	}

	cleaned := make([]string, 0, len(out))
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}
