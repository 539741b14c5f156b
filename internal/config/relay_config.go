package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// Relay config defaults
const (
	DefaultTaskTTL          = 120 * time.Second
	DefaultMaxTasksPerRelay = 10
)

// maxTaskTTLSeconds is the largest TTL a time.Duration can hold
const maxTaskTTLSeconds = float64(math.MaxInt64) / float64(time.Second)

// RelayConfig holds the task store limits of the site
type RelayConfig struct {
	TaskTTL          time.Duration
	MaxTasksPerRelay int
}

// relayConfigFile is the on-disk form. task_ttl is in seconds.
// The camelCase spellings written by older sites are accepted too.
type relayConfigFile struct {
	TaskTTL          *float64 `json:"task_ttl"`
	MaxTasksPerRelay *int     `json:"max_tasks_per_relay"`

	LegacyTaskTTL          *float64 `json:"taskTTL"`
	LegacyMaxTasksPerRelay *int     `json:"maxTasksPerRelay"`
}

// DefaultRelayConfig returns the limits used when no file is present
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		TaskTTL:          DefaultTaskTTL,
		MaxTasksPerRelay: DefaultMaxTasksPerRelay,
	}
}

// LoadRelayConfig reads the relay config file at path.
// Comments and trailing commas are allowed. A missing file yields the
// defaults; keys that are absent keep their default.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return RelayConfig{}, fmt.Errorf("failed to read relay config: %w", err)
	}

	var file relayConfigFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return RelayConfig{}, fmt.Errorf("failed to parse relay config %s: %w", path, err)
	}

	ttl := file.TaskTTL
	if ttl == nil {
		ttl = file.LegacyTaskTTL
	}
	if ttl != nil {
		if *ttl <= 0 {
			return RelayConfig{}, fmt.Errorf("task_ttl must be positive, got %v", *ttl)
		}
		if *ttl >= maxTaskTTLSeconds {
			return RelayConfig{}, fmt.Errorf("task_ttl must be below %.0f seconds, got %v", maxTaskTTLSeconds, *ttl)
		}
		cfg.TaskTTL = time.Duration(*ttl * float64(time.Second))
	}

	maxTasks := file.MaxTasksPerRelay
	if maxTasks == nil {
		maxTasks = file.LegacyMaxTasksPerRelay
	}
	if maxTasks != nil {
		if *maxTasks <= 0 {
			return RelayConfig{}, fmt.Errorf("max_tasks_per_relay must be positive, got %d", *maxTasks)
		}
		cfg.MaxTasksPerRelay = *maxTasks
	}

	return cfg, nil
}
