package scenario

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/wesleyorama2/swarm/internal/swarm"
)

var placeholder = regexp.MustCompile(`{{\s*([A-Za-z0-9_.\-]+)\s*}}`)

// Renderer substitutes {{name}} placeholders in request templates.
//
// Names resolve, in order, to the user's id ({{userId}}), generated data
// ({{faker.<kind>}}), values the user extracted from earlier responses, and
// the configured variables. Unknown names are left in place.
type Renderer struct {
	vars map[string]string

	fakerMu sync.Mutex
	faker   *gofakeit.Faker
}

// NewRenderer creates a renderer over vars. A zero seed picks a random one.
func NewRenderer(vars map[string]string, seed uint64) *Renderer {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return &Renderer{
		vars:  copied,
		faker: gofakeit.New(seed),
	}
}

// Render expands the placeholders in s for user u, which may be nil.
func (r *Renderer) Render(s string, u *swarm.VirtualUser) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if value, ok := r.lookup(name, u); ok {
			return value
		}
		return match
	})
}

// Fake generates one value of the given kind.
func (r *Renderer) Fake(kind string) (string, bool) {
	r.fakerMu.Lock()
	defer r.fakerMu.Unlock()
	return fake(r.faker, kind)
}

func (r *Renderer) lookup(name string, u *swarm.VirtualUser) (string, bool) {
	if name == "userId" && u != nil {
		return strconv.Itoa(u.ID), true
	}
	if kind, ok := strings.CutPrefix(name, "faker."); ok {
		return r.Fake(kind)
	}
	if u != nil {
		if value, ok := u.GetData(name); ok {
			return value, true
		}
	}
	value, ok := r.vars[name]
	return value, ok
}
