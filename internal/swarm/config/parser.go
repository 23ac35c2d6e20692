package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultSpawnRate     = 1.0
	DefaultStopTimeout   = 10 * time.Second
	DefaultTimeout       = 30 * time.Second
	DefaultClassWeight   = 10
	DefaultTaskWeight    = 1
	DefaultMethod        = "GET"
	DefaultExtractSource = "body"
)

// Override adjusts a loaded configuration before validation, e.g. from
// command-line flags.
type Override func(*TestConfig)

// LoadConfig reads, checks and validates the test definition at path.
// Defaults and then overrides are applied before validation.
func LoadConfig(path string, overrides ...Override) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := ValidateDocument(data, path); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a YAML or JSON document. The format is chosen by the
// filename extension; anything but .json is read as YAML.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	cfg := &TestConfig{}
	if isJSON(filename) {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills in unset optional fields.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.SpawnRate == 0 {
		cfg.SpawnRate = DefaultSpawnRate
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = Duration(DefaultStopTimeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Duration(DefaultTimeout)
	}

	for _, ts := range cfg.TaskSets {
		if ts == nil {
			continue
		}
		applyRequestDefaults(ts.OnStart)
		applyRequestDefaults(ts.OnStop)
		applyTaskDefaults(ts.Tasks)
	}

	for _, uc := range cfg.UserClasses {
		if uc == nil {
			continue
		}
		if uc.Weight == 0 {
			uc.Weight = DefaultClassWeight
		}
		applyRequestDefaults(uc.OnStart)
		applyRequestDefaults(uc.OnStop)
		applyTaskDefaults(uc.Tasks)
	}
}

func applyTaskDefaults(tasks []TaskConfig) {
	for i := range tasks {
		t := &tasks[i]
		if t.Weight == 0 {
			t.Weight = DefaultTaskWeight
		}
		applyRequestDefaults(t.Request)

		if t.Name != "" {
			continue
		}
		switch {
		case t.Request != nil:
			t.Name = t.Request.Name
		case t.TaskSet != "":
			t.Name = t.TaskSet
		case t.Interrupt:
			t.Name = "interrupt"
		}
	}
}

func applyRequestDefaults(r *RequestConfig) {
	if r == nil {
		return
	}
	if r.Method == "" {
		r.Method = DefaultMethod
	}
	r.Method = strings.ToUpper(r.Method)
	if r.Name == "" {
		r.Name = r.Path
	}
	for i := range r.Extract {
		if r.Extract[i].Source == "" {
			r.Extract[i].Source = DefaultExtractSource
		}
	}
}
