package cmd

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// validateStartupConfig validates startup configuration from the shared config source.
// It returns an error when any configured value is malformed or violates constraints.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter validates startup configuration via a key-value getter.
// It accepts a value getter and returns nil when all configured values are valid.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	validationErrs := make([]string, 0)

	validatePostgresConfig(get, &validationErrs)
	validateRedisConfig(get, &validationErrs)
	validateOpenAIConfig(get, &validationErrs)
	validateRetrievalConfig(get, &validationErrs)
	validateIndexOptConfig(get, &validationErrs)
	validateUsageConfig(get, &validationErrs)
	validateServingConfig(get, &validationErrs)

	if len(validationErrs) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(validationErrs, "\n - "))
}

// validatePostgresConfig validates the chunk store connection settings.
func validatePostgresConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.db.postgres.addr", errs)
	validateOptionalStringNonEmpty(get, "settings.db.postgres.db", errs)
	validateOptionalIntMin(get, "settings.db.postgres.port", 1, errs)
	validateOptionalIntMin(get, "settings.db.postgres.max_conns", 1, errs)
	validateOptionalIntMin(get, "settings.db.postgres.min_conns", 0, errs)
	validateOptionalBool(get, "settings.db.postgres.log_queries", errs)
}

// validateRedisConfig validates redis-related startup configuration values.
// It accepts a getter and an error collector pointer and appends validation errors.
func validateRedisConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.db.redis.db", 0, errs)
}

// validateOpenAIConfig validates the embedding provider configuration.
func validateOpenAIConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.openai.embedding_model", errs)
	validateOptionalURL(get, "settings.openai.base_url", errs)
	validateOptionalIntMin(get, "settings.openai.embedding_dimension", 1, errs)
	validateOptionalIntMin(get, "settings.openai.max_retries", 0, errs)
	validateOptionalIntMin(get, "settings.openai.cache_size", 0, errs)
	validateOptionalBool(get, "settings.openai.normalize", errs)
	validateOptionalDuration(get, "settings.openai.timeout", errs)

	raw := get("settings.openai.provider")
	if raw == nil {
		return
	}
	provider, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "settings.openai.provider must be a string")
		return
	}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		validateOptionalStringNonEmpty(get, "settings.openai.api_key", errs)
	case "deterministic":
	default:
		appendValidationError(errs, "settings.openai.provider must be openai or deterministic")
	}
}

// validateRetrievalConfig validates search defaults and hybrid weights.
func validateRetrievalConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.retrieval.default_max_results", 1, errs)
	validateOptionalIntMin(get, "settings.retrieval.max_results_cap", 1, errs)
	validateOptionalFloatRange(get, "settings.retrieval.default_min_similarity", 0, 1, true, true, errs)
	validateOptionalIntMin(get, "settings.retrieval.hybrid_ceiling", 1, errs)
	validateOptionalFloatRange(get, "settings.retrieval.vector_weight", 0, math.MaxFloat64, true, false, errs)
	validateOptionalFloatRange(get, "settings.retrieval.lexical_weight", 0, math.MaxFloat64, true, false, errs)
	validateOptionalDuration(get, "settings.retrieval.query_timeout", errs)
	validateOptionalDuration(get, "settings.retrieval.usage_timeout", errs)
	validateOptionalStringNonEmpty(get, "settings.retrieval.text_search_config", errs)
	validateOptionalIntMin(get, "settings.retrieval.chunk_max_chars", 100, errs)
	validateOptionalIntMin(get, "settings.retrieval.chunk_overlap", 0, errs)
	validateOptionalIntMin(get, "settings.retrieval.document_max_chunks", 1, errs)

	defaultRaw := get("settings.retrieval.default_max_results")
	capRaw := get("settings.retrieval.max_results_cap")
	if defaultRaw != nil && capRaw != nil {
		def, defaultErr := parseStrictInt(defaultRaw)
		limit, capErr := parseStrictInt(capRaw)
		if defaultErr == nil && capErr == nil && def > limit {
			appendValidationError(errs, "settings.retrieval.default_max_results must be <= settings.retrieval.max_results_cap")
		}
	}
}

// validateIndexOptConfig validates optimizer, scheduler and monitor policy.
func validateIndexOptConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.indexopt.vector_column", errs)
	validateOptionalStringNonEmpty(get, "settings.indexopt.opclass", errs)
	validateOptionalDuration(get, "settings.indexopt.query_timeout", errs)
	validateOptionalDuration(get, "settings.indexopt.statement_timeout", errs)
	validateOptionalDuration(get, "settings.indexopt.monitor_interval", errs)
	validateOptionalDuration(get, "settings.indexopt.maintenance_interval", errs)
	validateOptionalIntMin(get, "settings.indexopt.history_size", 1, errs)

	const th = "settings.indexopt.thresholds."
	validateOptionalFloatPositive(get, th+"fragmentation_ratio", errs)
	validateOptionalDuration(get, th+"slow_query", errs)
	validateOptionalDuration(get, th+"critical_query", errs)
	validateOptionalInt64Min(get, th+"rows_per_list", 1, errs)
	validateOptionalIntMin(get, th+"min_lists", 1, errs)
	validateOptionalIntMin(get, th+"max_lists", 1, errs)
	validateOptionalFloatRange(get, th+"lists_deviation", 0, 1, false, true, errs)
	validateOptionalInt64Min(get, th+"structure_swap_rows", 1, errs)
	validateOptionalDuration(get, th+"structure_swap_query", errs)
	validateOptionalIntMin(get, th+"hnsw_m", 2, errs)
	validateOptionalIntMin(get, th+"hnsw_ef_construction", 1, errs)
	validateOptionalDuration(get, th+"vacuum_stale_after", errs)
	validateOptionalDuration(get, th+"analyze_stale_after", errs)
	validateOptionalFloatRange(get, th+"cache_hit_floor", 0, 1, true, true, errs)
	validateOptionalFloatRange(get, th+"pool_usage_ceiling", 0, 1, false, true, errs)
	validateOptionalInt64Min(get, th+"storage_budget_bytes", 1, errs)
	validateOptionalFloatRange(get, th+"auto_apply_confidence", 0, 1, true, true, errs)

	minRaw, maxRaw := get(th+"min_lists"), get(th+"max_lists")
	if minRaw != nil && maxRaw != nil {
		minLists, minErr := parseStrictInt(minRaw)
		maxLists, maxErr := parseStrictInt(maxRaw)
		if minErr == nil && maxErr == nil && minLists > maxLists {
			appendValidationError(errs, "%smin_lists must be <= %smax_lists", th, th)
		}
	}
}

// validateUsageConfig validates usage accounting retention.
func validateUsageConfig(get configGetter, errs *[]string) {
	validateOptionalIntMin(get, "settings.usage.retain", 1, errs)
	validateOptionalDuration(get, "settings.usage.ttl", errs)
	validateOptionalStringNonEmpty(get, "settings.usage.key_prefix", errs)
	validateOptionalIntMin(get, "settings.usage.memory_keys", 1, errs)
}

// validateServingConfig validates process wiring switches used by the api command.
func validateServingConfig(get configGetter, errs *[]string) {
	validateOptionalBool(get, "settings.mcp.enabled", errs)
	validateOptionalStringNonEmpty(get, "settings.mcp.path", errs)
	validateOptionalBool(get, "settings.indexopt.monitor_enabled", errs)
	validateOptionalBool(get, "settings.indexopt.maintenance_enabled", errs)
	validateOptionalIntMin(get, "settings.events.buffer", 1, errs)
	validateOptionalIntMin(get, "settings.retrieval.latency_window", 1, errs)

	raw := get("settings.mcp.path")
	if path, err := parseStrictString(raw); raw != nil && err == nil && !strings.HasPrefix(path, "/") {
		appendValidationError(errs, "settings.mcp.path must start with /")
	}
}

// validateOptionalBool validates an optionally configured boolean key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalBool(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	if _, ok := parseStrictBool(raw); !ok {
		appendValidationError(errs, "%s must be a boolean", key)
	}
}

// validateOptionalIntMin validates an optionally configured integer key with a minimum constraint.
// It accepts a getter, the key, a minimum value, and an error collector pointer and appends validation errors.
func validateOptionalIntMin(get configGetter, key string, min int, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictInt(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be an integer", key)
		return
	}

	if value < min {
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

// validateOptionalInt64Min validates an optionally configured int64 key with a minimum constraint.
// It accepts a getter, the key, a minimum value, and an error collector pointer and appends validation errors.
func validateOptionalInt64Min(get configGetter, key string, min int64, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictInt64(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be an integer", key)
		return
	}

	if value < min {
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

// validateOptionalFloatPositive validates an optionally configured positive float key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalFloatPositive(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictFloat(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a float", key)
		return
	}

	if value <= 0 {
		appendValidationError(errs, "%s must be > 0", key)
	}
}

// validateOptionalFloatRange validates an optionally configured float key against a numeric range.
// It accepts a getter, range bounds, inclusivity toggles, and an error collector pointer.
func validateOptionalFloatRange(get configGetter, key string, min float64, max float64, includeMin bool, includeMax bool, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictFloat(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a float", key)
		return
	}

	validMin := value > min
	if includeMin {
		validMin = value >= min
	}
	validMax := value < max
	if includeMax {
		validMax = value <= max
	}

	if !validMin || !validMax {
		appendValidationError(errs, "%s must be within range", key)
	}
}

// validateOptionalDuration validates an optionally configured duration key.
// Strings must parse with time.ParseDuration; bare numbers are seconds.
func validateOptionalDuration(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictDuration(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a duration like 30s or 5m", key)
		return
	}
	if value <= 0 {
		appendValidationError(errs, "%s must be > 0", key)
	}
}

// validateOptionalURL validates an optionally configured absolute URL key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalURL(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string URL", key)
		return
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		appendValidationError(errs, "%s must not be empty", key)
		return
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		appendValidationError(errs, "%s must be a valid absolute URL", key)
	}
}

// validateOptionalStringNonEmpty validates an optionally configured non-empty string key.
// It accepts a getter, the key, and an error collector pointer and appends validation errors.
func validateOptionalStringNonEmpty(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string", key)
		return
	}

	if strings.TrimSpace(value) == "" {
		appendValidationError(errs, "%s must not be empty", key)
	}
}

// parseStrictBool parses a value as boolean using strict conversion rules.
// It accepts a raw value and returns the parsed boolean and whether parsing succeeded.
func parseStrictBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case float64:
		if math.Trunc(v) != v {
			return false, false
		}
		return int64(v) != 0, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return false, false
		}
		switch strings.ToLower(trimmed) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

// parseStrictInt parses a value as a strict integer.
// It accepts a raw value and returns the parsed int and an error when parsing fails.
func parseStrictInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.Trunc(v) != v {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, errors.New("empty integer string")
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, errors.Wrap(err, "atoi")
		}
		return parsed, nil
	default:
		return 0, errors.Errorf("unsupported int type %T", value)
	}
}

// parseStrictInt64 parses a value as a strict int64.
// It accepts a raw value and returns the parsed int64 and an error when parsing fails.
func parseStrictInt64(value any) (int64, error) {
	parsed, err := parseStrictInt(value)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int64(parsed), nil
}

// parseStrictFloat parses a value as a strict floating-point number.
// It accepts a raw value and returns the parsed float64 and an error when parsing fails.
func parseStrictFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, errors.New("empty float string")
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse float")
		}
		return parsed, nil
	default:
		return 0, errors.Errorf("unsupported float type %T", value)
	}
}

// parseStrictDuration parses a duration string or a number of seconds.
func parseStrictDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, errors.Wrap(err, "parse duration")
		}
		return parsed, nil
	default:
		seconds, err := parseStrictFloat(value)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
}

// parseStrictString parses a value as a strict string.
// It accepts a raw value and returns the parsed string and an error when parsing fails.
func parseStrictString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Errorf("unsupported string type %T", value)
	}
}

// appendValidationError appends a formatted validation error to the collector.
// It accepts an error slice pointer, a format string, and format arguments, and has no return value.
func appendValidationError(errs *[]string, format string, args ...any) {
	if errs == nil {
		return
	}
	*errs = append(*errs, fmt.Sprintf(format, args...))
}
