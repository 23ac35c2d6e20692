package swarm

// DefaultClassWeight is the selection weight of a class that does not set one.
const DefaultClassWeight = 10

// UserClass is the static description of one kind of virtual user.
//
// A class hierarchy is expressed through Base: each level declares its own
// tasks, and ResolveTasks merges the chain most-derived first. Host, WaitTime,
// OnStart, OnStop and RequiresClient are inherited from Base when unset;
// Abstract is not inherited.
type UserClass struct {
	Name string
	Base *UserClass

	// Tasks declares (task, weight) pairs in order.
	Tasks []TaskEntry

	// TaskWeights declares tasks in mapping form. Entries are merged in
	// task-name order.
	TaskWeights map[*Task]int

	// Weight is the relative probability of this class being chosen when a
	// population is spawned. Zero means DefaultClassWeight.
	Weight int

	// Abstract classes only exist to be used as Base and are never spawned.
	Abstract bool

	// Host is the base target address for classes that need a client.
	Host string

	WaitTime WaitTimeFunc
	OnStart  HookFunc
	OnStop   HookFunc

	// RequiresClient makes NewVirtualUser create an HTTP session, which in
	// turn requires a Host.
	RequiresClient bool
}

// EffectiveWeight returns Weight, or DefaultClassWeight when unset.
func (c *UserClass) EffectiveWeight() int {
	if c.Weight <= 0 {
		return DefaultClassWeight
	}
	return c.Weight
}

// EffectiveHost returns the first Host set along the Base chain.
func (c *UserClass) EffectiveHost() string {
	for k := c; k != nil; k = k.Base {
		if k.Host != "" {
			return k.Host
		}
	}
	return ""
}

func (c *UserClass) waitTime() WaitTimeFunc {
	for k := c; k != nil; k = k.Base {
		if k.WaitTime != nil {
			return k.WaitTime
		}
	}
	return nil
}

func (c *UserClass) onStart() HookFunc {
	for k := c; k != nil; k = k.Base {
		if k.OnStart != nil {
			return k.OnStart
		}
	}
	return nil
}

func (c *UserClass) onStop() HookFunc {
	for k := c; k != nil; k = k.Base {
		if k.OnStop != nil {
			return k.OnStop
		}
	}
	return nil
}

func (c *UserClass) requiresClient() bool {
	for k := c; k != nil; k = k.Base {
		if k.RequiresClient {
			return true
		}
	}
	return false
}

func (c *UserClass) levels() []declaration {
	var out []declaration
	for k := c; k != nil; k = k.Base {
		out = append(out, declaration{name: k.Name, tasks: k.Tasks, weights: k.TaskWeights})
	}
	return out
}
