// Package scenario turns a declarative test configuration into user classes
// and task sets that the swarm engine can run.
package scenario

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/swarm"
	"github.com/wesleyorama2/swarm/internal/swarm/client"
	"github.com/wesleyorama2/swarm/internal/swarm/config"
)

// Scenario is a built test configuration.
type Scenario struct {
	// Classes holds every declared class in configuration order, abstract
	// ones included.
	Classes []*swarm.UserClass

	// TaskSets holds the named task sets.
	TaskSets map[string]*swarm.TaskSet

	// Renderer expands request templates.
	Renderer *Renderer

	cfg    *config.TestConfig
	logger *zap.Logger
}

// Option configures Build.
type Option func(*Scenario)

// WithLogger sets the logger used while building.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scenario) {
		s.logger = l
	}
}

// WithRenderer replaces the default template renderer.
func WithRenderer(r *Renderer) Option {
	return func(s *Scenario) {
		s.Renderer = r
	}
}

// Build validates cfg and converts it into user classes.
//
// Tasks that re-weight an inherited task share the ancestor's *swarm.Task,
// so the merged task list holds a single entry carrying the derived weight.
func Build(cfg *config.TestConfig, options ...Option) (*Scenario, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scenario: nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scenario{
		TaskSets: make(map[string]*swarm.TaskSet, len(cfg.TaskSets)),
		cfg:      cfg,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.Renderer == nil {
		s.Renderer = NewRenderer(cfg.Variables, 0)
	}

	b := &builder{
		s:          s,
		setTasks:   make(map[string]map[string]*swarm.Task),
		classTasks: make(map[string]map[string]*swarm.Task),
		classes:    make(map[string]*swarm.UserClass),
		classCfg:   make(map[string]*config.UserClassConfig),
	}

	// Sets are allocated up front so tasks can refer to any of them,
	// including sets that contain themselves.
	names := make([]string, 0, len(cfg.TaskSets))
	for name := range cfg.TaskSets {
		names = append(names, name)
		s.TaskSets[name] = &swarm.TaskSet{Name: name}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.fillSet(name); err != nil {
			return nil, err
		}
	}

	for _, uc := range cfg.UserClasses {
		b.classCfg[uc.Name] = uc
		class := &swarm.UserClass{
			Name:           uc.Name,
			Abstract:       uc.Abstract,
			Weight:         uc.Weight,
			Host:           uc.Host,
			RequiresClient: true,
		}
		if uc.Base == "" && class.Host == "" {
			class.Host = cfg.Host
		}
		b.classes[uc.Name] = class
		s.Classes = append(s.Classes, class)
	}
	for _, uc := range cfg.UserClasses {
		if err := b.fillClass(uc.Name); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("scenario built",
		zap.String("name", cfg.Name),
		zap.Int("classes", len(s.Classes)),
		zap.Int("task_sets", len(s.TaskSets)))

	return s, nil
}

// Config returns the configuration the scenario was built from.
func (s *Scenario) Config() *config.TestConfig {
	return s.cfg
}

// Runnable returns the classes that can be spawned.
func (s *Scenario) Runnable() []*swarm.UserClass {
	var out []*swarm.UserClass
	for _, c := range s.Classes {
		if !c.Abstract {
			out = append(out, c)
		}
	}
	return out
}

// Class returns the class with the given name.
func (s *Scenario) Class(name string) (*swarm.UserClass, bool) {
	for _, c := range s.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ClientOptions returns the session options shared by every user: the
// request timeout and the global headers.
func (s *Scenario) ClientOptions() []client.Option {
	opts := []client.Option{
		client.WithTimeout(s.cfg.Timeout.GetDuration(config.DefaultTimeout)),
	}
	keys := make([]string, 0, len(s.cfg.Headers))
	for k := range s.cfg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, client.WithHeader(k, s.cfg.Headers[k]))
	}
	return opts
}

type builder struct {
	s *Scenario

	// Tasks declared at each level, by name.
	setTasks   map[string]map[string]*swarm.Task
	classTasks map[string]map[string]*swarm.Task

	classes  map[string]*swarm.UserClass
	classCfg map[string]*config.UserClassConfig
}

func (b *builder) fillSet(name string) error {
	if _, done := b.setTasks[name]; done {
		return nil
	}
	sc := b.s.cfg.TaskSets[name]
	ts := b.s.TaskSets[name]
	b.setTasks[name] = nil

	if sc.Base != "" {
		if err := b.fillSet(sc.Base); err != nil {
			return err
		}
		ts.Base = b.s.TaskSets[sc.Base]
	}
	ts.WaitTime = WaitTime(sc.WaitTime)
	ts.OnStart = b.hook(sc.OnStart)
	ts.OnStop = b.hook(sc.OnStop)

	lookup := func(task string) *swarm.Task {
		for base := sc.Base; base != ""; base = b.s.cfg.TaskSets[base].Base {
			if t, ok := b.setTasks[base][task]; ok {
				return t
			}
		}
		return nil
	}
	entries, declared, err := b.entries("taskSets."+name, sc.Tasks, lookup)
	if err != nil {
		return err
	}
	ts.Tasks = entries
	b.setTasks[name] = declared
	return nil
}

func (b *builder) fillClass(name string) error {
	if _, done := b.classTasks[name]; done {
		return nil
	}
	uc := b.classCfg[name]
	class := b.classes[name]
	b.classTasks[name] = nil

	if uc.Base != "" {
		if err := b.fillClass(uc.Base); err != nil {
			return err
		}
		class.Base = b.classes[uc.Base]
	}
	class.WaitTime = WaitTime(uc.WaitTime)
	class.OnStart = b.hook(uc.OnStart)
	class.OnStop = b.hook(uc.OnStop)

	lookup := func(task string) *swarm.Task {
		for base := uc.Base; base != ""; base = b.classCfg[base].Base {
			if t, ok := b.classTasks[base][task]; ok {
				return t
			}
		}
		return nil
	}
	entries, declared, err := b.entries("userClasses."+name, uc.Tasks, lookup)
	if err != nil {
		return err
	}
	class.Tasks = entries
	b.classTasks[name] = declared
	return nil
}

func (b *builder) entries(owner string, tasks []config.TaskConfig, inherited func(string) *swarm.Task) ([]swarm.TaskEntry, map[string]*swarm.Task, error) {
	entries := make([]swarm.TaskEntry, 0, len(tasks))
	declared := make(map[string]*swarm.Task, len(tasks))

	for i, tc := range tasks {
		var task *swarm.Task
		switch {
		case tc.Request != nil:
			task = swarm.NewTask(tc.Name, b.request(tc.Request))
		case tc.TaskSet != "":
			set, ok := b.s.TaskSets[tc.TaskSet]
			if !ok {
				return nil, nil, fmt.Errorf("%s.tasks[%d]: unknown task set %q", owner, i, tc.TaskSet)
			}
			task = &swarm.Task{Name: tc.Name, Set: set}
		case tc.Interrupt:
			task = swarm.NewTask(tc.Name, interrupt(tc.Reschedule))
		default:
			task = inherited(tc.Name)
			if task == nil {
				return nil, nil, fmt.Errorf("%s.tasks[%d]: no inherited task named %q", owner, i, tc.Name)
			}
		}
		if !tc.IsReference() {
			declared[tc.Name] = task
		}
		weight := tc.Weight
		if weight <= 0 {
			weight = config.DefaultTaskWeight
		}
		entries = append(entries, swarm.Weighted(task, weight))
	}
	return entries, declared, nil
}

func (b *builder) hook(rc *config.RequestConfig) swarm.HookFunc {
	if rc == nil {
		return nil
	}
	return swarm.HookFunc(b.request(rc))
}

// WaitTime converts a wait policy. A nil policy returns nil so the value is
// inherited from the enclosing declaration.
func WaitTime(w *config.WaitTimeConfig) swarm.WaitTimeFunc {
	if w == nil {
		return nil
	}
	switch w.Type {
	case config.WaitConstant:
		return swarm.Constant(w.Duration.GetDuration(0))
	case config.WaitBetween:
		return swarm.Between(w.Min.GetDuration(0), w.Max.GetDuration(0))
	default:
		return swarm.NoWait()
	}
}
