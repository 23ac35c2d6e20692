package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Validate checks the semantic consistency of the configuration. It expects
// ApplyDefaults to have run.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.Users < 1 {
		errs.Add("users", "at least one user is required")
	}
	if c.SpawnRate <= 0 {
		errs.Add("spawnRate", "must be greater than 0")
	}
	if c.RunTime < 0 {
		errs.Add("runTime", "must not be negative")
	}
	if c.StopTimeout < 0 {
		errs.Add("stopTimeout", "must not be negative")
	}
	if c.Host != "" {
		validateHost("host", c.Host, errs)
	}

	names := c.taskSetNames()
	for _, name := range names {
		validateTaskSet(name, c.TaskSets[name], c.TaskSets, errs)
	}

	validateClasses(c, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c *TestConfig) taskSetNames() []string {
	names := make([]string, 0, len(c.TaskSets))
	for name := range c.TaskSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateClasses(c *TestConfig, errs *ValidationErrors) {
	if len(c.UserClasses) == 0 {
		errs.Add("userClasses", "at least one user class is required")
		return
	}

	byName := make(map[string]*UserClassConfig, len(c.UserClasses))
	for i, uc := range c.UserClasses {
		field := fmt.Sprintf("userClasses[%d]", i)
		if uc == nil {
			errs.Add(field, "user class must not be empty")
			continue
		}
		if uc.Name == "" {
			errs.Add(field+".name", "name is required")
			continue
		}
		if _, dup := byName[uc.Name]; dup {
			errs.Add(field+".name", fmt.Sprintf("duplicate user class name: %s", uc.Name))
			continue
		}
		byName[uc.Name] = uc
	}

	concrete := 0
	for _, uc := range c.UserClasses {
		if uc == nil || byName[uc.Name] != uc {
			continue
		}
		field := "userClasses." + uc.Name

		if uc.Weight < 1 {
			errs.Add(field+".weight", "must be at least 1")
		}
		if uc.Host != "" {
			validateHost(field+".host", uc.Host, errs)
		}
		validateWaitTime(field+".waitTime", uc.WaitTime, errs)
		validateRequest(field+".onStart", uc.OnStart, errs)
		validateRequest(field+".onStop", uc.OnStop, errs)

		chain, ok := ClassChain(uc, byName)
		if !ok {
			errs.Add(field+".base", fmt.Sprintf("unknown or cyclic base class: %s", uc.Base))
			validateTasks(field, uc.Tasks, false, nil, c.TaskSets, errs)
			continue
		}
		var bases [][]TaskConfig
		for _, level := range chain[1:] {
			bases = append(bases, level.Tasks)
		}
		validateTasks(field, uc.Tasks, false, declaredNames(bases), c.TaskSets, errs)
		if uc.Abstract {
			continue
		}
		concrete++

		hasTasks := false
		host := c.Host
		for i := len(chain) - 1; i >= 0; i-- {
			if len(chain[i].Tasks) > 0 {
				hasTasks = true
			}
			if chain[i].Host != "" {
				host = chain[i].Host
			}
		}
		if !hasTasks {
			errs.Add(field+".tasks", "a non-abstract user class needs at least one task")
		}
		if host == "" {
			errs.Add(field+".host", "no host specified; set host globally, on the class, or with --host")
		}
	}

	if concrete == 0 {
		errs.Add("userClasses", "at least one non-abstract user class is required")
	}
}

// ClassChain returns uc followed by its bases, most-derived first. It
// reports false for an unknown base or a cycle.
func ClassChain(uc *UserClassConfig, byName map[string]*UserClassConfig) ([]*UserClassConfig, bool) {
	chain := []*UserClassConfig{uc}
	seen := map[string]bool{uc.Name: true}
	for cur := uc; cur.Base != ""; {
		base, ok := byName[cur.Base]
		if !ok || seen[base.Name] {
			return nil, false
		}
		seen[base.Name] = true
		chain = append(chain, base)
		cur = base
	}
	return chain, true
}

func validateTaskSet(name string, ts *TaskSetConfig, all map[string]*TaskSetConfig, errs *ValidationErrors) {
	field := "taskSets." + name
	if ts == nil {
		errs.Add(field, "task set must not be empty")
		return
	}

	validateWaitTime(field+".waitTime", ts.WaitTime, errs)
	validateRequest(field+".onStart", ts.OnStart, errs)
	validateRequest(field+".onStop", ts.OnStop, errs)

	chain, ok := TaskSetChain(name, all)
	if !ok {
		errs.Add(field+".base", fmt.Sprintf("unknown or cyclic base task set: %s", ts.Base))
		validateTasks(field, ts.Tasks, true, nil, all, errs)
		return
	}
	var bases [][]TaskConfig
	hasTasks := false
	for i, level := range chain {
		if len(level.Tasks) > 0 {
			hasTasks = true
		}
		if i > 0 {
			bases = append(bases, level.Tasks)
		}
	}
	validateTasks(field, ts.Tasks, true, declaredNames(bases), all, errs)
	if !hasTasks {
		errs.Add(field+".tasks", "a task set needs at least one task")
	}
}

// TaskSetChain returns the named set followed by its bases, most-derived
// first. It reports false for an unknown base or a cycle.
func TaskSetChain(name string, all map[string]*TaskSetConfig) ([]*TaskSetConfig, bool) {
	ts, ok := all[name]
	if !ok || ts == nil {
		return nil, false
	}
	chain := []*TaskSetConfig{ts}
	seen := map[string]bool{name: true}
	for cur := ts; cur.Base != ""; {
		base, ok := all[cur.Base]
		if !ok || base == nil || seen[cur.Base] {
			return nil, false
		}
		seen[cur.Base] = true
		chain = append(chain, base)
		cur = base
	}
	return chain, true
}

// IsReference reports whether t only re-weights an inherited task.
func (t TaskConfig) IsReference() bool {
	return t.Request == nil && t.TaskSet == "" && !t.Interrupt
}

// declaredNames collects the names of tasks that define an action.
func declaredNames(levels [][]TaskConfig) map[string]bool {
	names := make(map[string]bool)
	for _, tasks := range levels {
		for _, t := range tasks {
			if !t.IsReference() {
				names[t.Name] = true
			}
		}
	}
	return names
}

func validateTasks(prefix string, tasks []TaskConfig, inSet bool, inherited map[string]bool, sets map[string]*TaskSetConfig, errs *ValidationErrors) {
	for i, t := range tasks {
		field := fmt.Sprintf("%s.tasks[%d]", prefix, i)

		actions := 0
		if t.Request != nil {
			actions++
			validateRequest(field+".request", t.Request, errs)
		}
		if t.TaskSet != "" {
			actions++
			if _, ok := sets[t.TaskSet]; !ok {
				errs.Add(field+".taskSet", fmt.Sprintf("unknown task set: %s", t.TaskSet))
			}
		}
		if t.Interrupt {
			actions++
			if !inSet {
				errs.Add(field+".interrupt", "interrupt is only allowed inside a task set")
			}
		}
		switch {
		case actions == 0 && t.Name != "" && !inherited[t.Name]:
			errs.Add(field, fmt.Sprintf("task %s does not define request, taskSet or interrupt and is not inherited", t.Name))
		case actions > 1:
			errs.Add(field, "only one of request, taskSet or interrupt may be set")
		}
		if t.Reschedule && !t.Interrupt {
			errs.Add(field+".reschedule", "reschedule requires interrupt")
		}
		if t.Weight < 1 {
			errs.Add(field+".weight", "must be at least 1")
		}
		if t.Name == "" {
			errs.Add(field+".name", "name is required")
		}
	}
}

func validateRequest(field string, r *RequestConfig, errs *ValidationErrors) {
	if r == nil {
		return
	}
	if r.Path == "" {
		errs.Add(field+".path", "path is required")
	}
	if !validMethods[strings.ToUpper(r.Method)] {
		errs.Add(field+".method", fmt.Sprintf("unsupported HTTP method: %s", r.Method))
	}
	for i, ex := range r.Extract {
		exField := fmt.Sprintf("%s.extract[%d]", field, i)
		if ex.Name == "" {
			errs.Add(exField+".name", "name is required")
		}
		switch ex.Source {
		case "body", "header":
			if ex.Path == "" {
				errs.Add(exField+".path", "path is required")
			}
		case "status":
		default:
			errs.Add(exField+".source", fmt.Sprintf("unknown source: %s", ex.Source))
		}
	}
}

func validateWaitTime(field string, w *WaitTimeConfig, errs *ValidationErrors) {
	if w == nil {
		return
	}
	switch w.Type {
	case WaitNone:
	case WaitConstant:
		if w.Duration < 0 {
			errs.Add(field+".duration", "must not be negative")
		}
	case WaitBetween:
		if w.Min < 0 || w.Max < 0 {
			errs.Add(field, "min and max must not be negative")
		} else if w.Max < w.Min {
			errs.Add(field, "max must not be less than min")
		}
	default:
		errs.Add(field+".type", fmt.Sprintf("unknown wait time type: %s", w.Type))
	}
}

func validateHost(field, host string, errs *ValidationErrors) {
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add(field, fmt.Sprintf("invalid host URL: %s", host))
	}
}
