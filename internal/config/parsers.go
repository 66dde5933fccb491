// Package config loads run settings from a config file and command-line
// flags. Flags override file values.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// lookupSetting returns the first of keys present in settings, trying each
// key as written and lowercased.
func lookupSetting(settings map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		for _, k := range []string{key, strings.ToLower(key)} {
			if val, ok := settings[k]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

// blank reports whether value is nil or a whitespace-only string. Config keys
// set to either are treated as unset.
func blank(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(value), nil
}

// asInt accepts any Go numeric kind, truncating floats, or a decimal string.
func asInt(value interface{}) (int, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.CanInt():
		return int(rv.Int()), nil
	case rv.CanUint():
		return int(rv.Uint()), nil
	case rv.CanFloat():
		return int(rv.Float()), nil
	}
	return 0, fmt.Errorf("unsupported numeric type %T", value)
}

func asFloat64(value interface{}) (float64, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.CanFloat():
		return rv.Float(), nil
	case rv.CanInt():
		return float64(rv.Int()), nil
	case rv.CanUint():
		return float64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("unsupported float type %T", value)
}

func asBool(value interface{}) (bool, error) {
	if blank(value) {
		return false, nil
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	return false, fmt.Errorf("unsupported boolean type %T", value)
}

// asDuration parses Go duration strings. Bare numbers are whole seconds, so
// "duration: 30" in a YAML file means thirty seconds.
func asDuration(value interface{}) (time.Duration, error) {
	if blank(value) {
		return 0, nil
	}
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	}
	secs, err := asInt(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(secs) * time.Second, nil
}

// asStringSlice accepts a list or a single string.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, _ := asString(item)
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported string slice type %T", value)
}

// asIntSlice accepts a list, a comma-separated string such as "10,20,40", or a
// single number.
func asIntSlice(value interface{}) ([]int, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []int:
		return v, nil
	case []interface{}:
		result := make([]int, len(v))
		for i, item := range v {
			n, err := asInt(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = n
		}
		return result, nil
	case string:
		if blank(v) {
			return nil, nil
		}
		result := make([]int, 0, strings.Count(v, ",")+1)
		for i, part := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result = append(result, n)
		}
		return result, nil
	default:
		n, err := asInt(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported int slice type %T", value)
		}
		return []int{n}, nil
	}
}

// toStringKeyMap normalizes a nested config section, such as "tracing", to a
// map with lowercase keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	normalize := func(k string) string { return strings.ToLower(strings.TrimSpace(k)) }
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[normalize(key)] = val
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			str, _ := asString(key)
			out[normalize(str)] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected map, got %T", value)
}
