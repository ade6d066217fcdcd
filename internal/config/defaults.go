package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// defaultsKeys maps each allowed defaults.json key to a type check.
// Unknown keys and keys with an illegal type are dropped with a warning
// instead of failing the load, so a stale defaults file never blocks the
// tool.
var defaultsKeys = map[string]func(any) bool{
	"starttime":     isString,
	"endtime":       isString,
	"station":       isString,
	"channel":       isString,
	"sds_root":      isString,
	"priority":      isNumber,
	"request_limit": isString,
	"client":        isString,
	"client_kwargs": isObject,
}

func isString(v any) bool { _, ok := v.(string); return ok }
func isNumber(v any) bool { _, ok := v.(float64); return ok }
func isObject(v any) bool { _, ok := v.(map[string]any); return ok }

// LoadDefaults reads the per-user job defaults from the home directory.
// A missing file yields an empty map.
func (h Home) LoadDefaults(logger *slog.Logger) (map[string]any, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(h.DefaultsFile())
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading defaults: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing defaults: %w", err)
	}

	out := make(map[string]any, len(raw))
	for key, value := range raw {
		check, known := defaultsKeys[key]
		if !known {
			logger.Warn("ignoring unknown defaults key", "key", key)
			continue
		}
		if !check(value) {
			logger.Warn("ignoring defaults key with illegal value", "key", key)
			continue
		}
		out[key] = value
	}
	return out, nil
}

// SaveDefaults writes the per-user job defaults, replacing the file.
func (h Home) SaveDefaults(defaults map[string]any) error {
	for key := range defaults {
		if _, known := defaultsKeys[key]; !known {
			return fmt.Errorf("illegal defaults key %q", key)
		}
	}
	data, err := json.MarshalIndent(defaults, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	tmp := h.DefaultsFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing defaults: %w", err)
	}
	if err := os.Rename(tmp, h.DefaultsFile()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing defaults: %w", err)
	}
	return nil
}
