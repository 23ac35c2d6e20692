// Package config parses and validates swarm test definitions.
package config

import (
	"strconv"
	"strings"
	"time"
)

// TestConfig is the root of a test definition.
//
// Example YAML:
//
//	name: shop
//	host: http://localhost:8080
//	users: 20
//	spawnRate: 5
//	runTime: 2m
//	userClasses:
//	  - name: browser
//	    waitTime: {type: between, min: 1s, max: 3s}
//	    tasks:
//	      - {name: index, weight: 3, request: {method: GET, path: /}}
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Host is the default target base URL for every user class
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Users is the total number of virtual users to run
	Users int `json:"users" yaml:"users"`

	// SpawnRate is the number of users started per second
	SpawnRate float64 `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`

	// RunTime bounds the test; zero runs until interrupted
	RunTime Duration `json:"runTime,omitempty" yaml:"runTime,omitempty"`

	// StopTimeout is how long running tasks may take to finish on stop
	StopTimeout Duration `json:"stopTimeout,omitempty" yaml:"stopTimeout,omitempty"`

	// RespawnFailed replaces users that exit with a task failure
	RespawnFailed bool `json:"respawnFailed,omitempty" yaml:"respawnFailed,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Variables are available to every request template
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// TaskSets are nested task groups, referenced by name from tasks
	TaskSets map[string]*TaskSetConfig `json:"taskSets,omitempty" yaml:"taskSets,omitempty"`

	// UserClasses are the kinds of users to simulate
	UserClasses []*UserClassConfig `json:"userClasses" yaml:"userClasses"`
}

// UserClassConfig defines one user class.
type UserClassConfig struct {
	Name     string `json:"name" yaml:"name"`
	Base     string `json:"base,omitempty" yaml:"base,omitempty"`
	Abstract bool   `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Weight is the relative share of users; zero means the default of 10
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`

	Host     string          `json:"host,omitempty" yaml:"host,omitempty"`
	WaitTime *WaitTimeConfig `json:"waitTime,omitempty" yaml:"waitTime,omitempty"`
	OnStart  *RequestConfig  `json:"onStart,omitempty" yaml:"onStart,omitempty"`
	OnStop   *RequestConfig  `json:"onStop,omitempty" yaml:"onStop,omitempty"`
	Tasks    []TaskConfig    `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

// TaskSetConfig defines a nested task set.
type TaskSetConfig struct {
	Base     string          `json:"base,omitempty" yaml:"base,omitempty"`
	WaitTime *WaitTimeConfig `json:"waitTime,omitempty" yaml:"waitTime,omitempty"`
	OnStart  *RequestConfig  `json:"onStart,omitempty" yaml:"onStart,omitempty"`
	OnStop   *RequestConfig  `json:"onStop,omitempty" yaml:"onStop,omitempty"`
	Tasks    []TaskConfig    `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

// TaskConfig is one weighted task. At most one of Request, TaskSet or
// Interrupt may be set. An entry with none of them names a task inherited
// from a base and overrides its weight.
type TaskConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Weight is the relative pick frequency; zero means 1
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`

	// Request is sent when the task runs
	Request *RequestConfig `json:"request,omitempty" yaml:"request,omitempty"`

	// TaskSet names a nested task set to enter
	TaskSet string `json:"taskSet,omitempty" yaml:"taskSet,omitempty"`

	// Interrupt leaves the enclosing task set
	Interrupt bool `json:"interrupt,omitempty" yaml:"interrupt,omitempty"`

	// Reschedule skips the parent's wait after an interrupt
	Reschedule bool `json:"reschedule,omitempty" yaml:"reschedule,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics); defaults to Path
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Path is relative to the class host (supports templates)
	Path string `json:"path" yaml:"path"`

	// Headers are request-specific headers (support templates)
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports templates)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Extract stores response values in the user's variables
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// ExtractConfig defines how to extract a variable from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body" (default), "header" or "status"
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Path is the JSONPath for body, or the header name
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Wait time policy types.
const (
	WaitNone     = "none"
	WaitConstant = "constant"
	WaitBetween  = "between"
)

// WaitTimeConfig selects the pause between tasks.
type WaitTimeConfig struct {
	// Type is "none", "constant" or "between"
	Type     string   `json:"type" yaml:"type"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// ParseDurationString parses "30s"-style durations. A bare integer is read
// as seconds and an empty string as zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
