package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/swarm/internal/swarm"
	"github.com/wesleyorama2/swarm/internal/swarm/config"
)

func testConfig(host string) *config.TestConfig {
	cfg := &config.TestConfig{
		Name:  "shop",
		Host:  host,
		Users: 2,
		TaskSets: map[string]*config.TaskSetConfig{
			"browse": {
				WaitTime: &config.WaitTimeConfig{Type: config.WaitNone},
				Tasks: []config.TaskConfig{
					{Name: "list", Weight: 3, Request: &config.RequestConfig{Path: "/items"}},
					{Interrupt: true, Reschedule: true},
				},
			},
		},
		UserClasses: []*config.UserClassConfig{
			{
				Name:     "base",
				Abstract: true,
				WaitTime: &config.WaitTimeConfig{Type: config.WaitConstant, Duration: config.Duration(time.Second)},
				Tasks: []config.TaskConfig{
					{Name: "home", Request: &config.RequestConfig{Path: "/"}},
				},
			},
			{
				Name: "shopper",
				Base: "base",
				Tasks: []config.TaskConfig{
					{Name: "home", Weight: 5},
					{TaskSet: "browse"},
				},
			},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestBuild_Classes(t *testing.T) {
	s, err := Build(testConfig("http://shop.test"))
	require.NoError(t, err)

	require.Len(t, s.Classes, 2)
	base, ok := s.Class("base")
	require.True(t, ok)
	shopper, ok := s.Class("shopper")
	require.True(t, ok)

	assert.True(t, base.Abstract)
	assert.Same(t, base, shopper.Base)
	assert.Equal(t, "http://shop.test", base.Host)
	assert.Empty(t, shopper.Host)
	assert.Equal(t, "http://shop.test", shopper.EffectiveHost())
	assert.Equal(t, config.DefaultClassWeight, shopper.Weight)
	assert.True(t, shopper.RequiresClient)

	runnable := s.Runnable()
	require.Len(t, runnable, 1)
	assert.Same(t, shopper, runnable[0])

	_, ok = s.Class("nobody")
	assert.False(t, ok)
}

func TestBuild_InheritedTaskIsReweighted(t *testing.T) {
	s, err := Build(testConfig("http://shop.test"))
	require.NoError(t, err)

	base, _ := s.Class("base")
	shopper, _ := s.Class("shopper")
	assert.Same(t, base.Tasks[0].Task, shopper.Tasks[0].Task)

	list, err := swarm.NewResolver().Class(shopper)
	require.NoError(t, err)
	entries := list.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "home", entries[0].Task.Name)
	assert.Equal(t, 5, entries[0].Weight)
	assert.Equal(t, "browse", entries[1].Task.Name)
	assert.Equal(t, 6, list.TotalWeight())
}

func TestBuild_TaskSets(t *testing.T) {
	s, err := Build(testConfig("http://shop.test"))
	require.NoError(t, err)

	browse := s.TaskSets["browse"]
	require.NotNil(t, browse)
	require.Len(t, browse.Tasks, 2)
	assert.Equal(t, 3, browse.Tasks[0].Weight)
	assert.Equal(t, "interrupt", browse.Tasks[1].Task.Name)
	assert.Equal(t, time.Duration(0), browse.WaitTime())

	shopper, _ := s.Class("shopper")
	group := shopper.Tasks[1].Task
	assert.True(t, group.IsGroup())
	assert.Same(t, browse, group.Set)

	err = browse.Tasks[1].Task.Fn(context.Background(), nil)
	var interrupt *swarm.InterruptError
	require.ErrorAs(t, err, &interrupt)
	assert.True(t, interrupt.Reschedule)
}

func TestBuild_TaskSetInheritance(t *testing.T) {
	cfg := testConfig("http://shop.test")
	cfg.TaskSets["deepBrowse"] = &config.TaskSetConfig{
		Base: "browse",
		Tasks: []config.TaskConfig{
			{Name: "list", Weight: 9},
			{Name: "detail", Request: &config.RequestConfig{Path: "/items/1"}},
		},
	}
	config.ApplyDefaults(cfg)

	s, err := Build(cfg)
	require.NoError(t, err)

	browse := s.TaskSets["browse"]
	deep := s.TaskSets["deepBrowse"]
	assert.Same(t, browse, deep.Base)
	assert.Same(t, browse.Tasks[0].Task, deep.Tasks[0].Task)

	list, err := swarm.NewResolver().TaskSet(deep)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Len())
	assert.Equal(t, 9+1+1, list.TotalWeight())
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := testConfig("")
	_, err := Build(cfg)

	var verrs *config.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	_, err = Build(nil)
	assert.Error(t, err)
}

func TestWaitTime(t *testing.T) {
	assert.Nil(t, WaitTime(nil))
	assert.Equal(t, time.Duration(0), WaitTime(&config.WaitTimeConfig{Type: config.WaitNone})())
	assert.Equal(t, 2*time.Second, WaitTime(&config.WaitTimeConfig{
		Type:     config.WaitConstant,
		Duration: config.Duration(2 * time.Second),
	})())

	between := WaitTime(&config.WaitTimeConfig{
		Type: config.WaitBetween,
		Min:  config.Duration(10 * time.Millisecond),
		Max:  config.Duration(20 * time.Millisecond),
	})
	for i := 0; i < 50; i++ {
		d := between()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

// shopServer issues a token on login and only serves the cart to callers
// presenting it.
type shopServer struct {
	mu       sync.Mutex
	paths    []string
	agents   []string
	carts    []string
	loggedIn int
}

func (s *shopServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			User string `json:"user"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || r.Method != http.MethodPost {
			http.Error(w, "bad login", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.loggedIn++
		s.mu.Unlock()
		w.Header().Set("X-Session", "sess-"+body.User)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"token":"tok-` + body.User + `"}}`))
	})
	mux.HandleFunc("/cart/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.agents = append(s.agents, r.Header.Get("X-Agent"))
		s.carts = append(s.carts, r.Header.Get("Authorization"))
		s.mu.Unlock()
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	return mux
}

func TestRequestTasks_ExtractAndTemplate(t *testing.T) {
	shop := &shopServer{}
	srv := httptest.NewServer(shop.handler())
	defer srv.Close()

	cfg := &config.TestConfig{
		Host:      srv.URL,
		Users:     1,
		Headers:   map[string]string{"X-Agent": "swarm"},
		Variables: map[string]string{"user": "ada"},
		UserClasses: []*config.UserClassConfig{{
			Name: "buyer",
			OnStart: &config.RequestConfig{
				Name:   "login",
				Method: "post",
				Path:   "/login",
				Body:   `{"user":"{{user}}"}`,
				Extract: []config.ExtractConfig{
					{Name: "token", Path: "$.data.token"},
					{Name: "session", Source: "header", Path: "X-Session"},
					{Name: "loginStatus", Source: "status"},
					{Name: "missing", Path: "$.nope"},
				},
			},
			Tasks: []config.TaskConfig{{
				Name: "cart",
				Request: &config.RequestConfig{
					Path:    "/cart/{{session}}",
					Name:    "/cart/[session]",
					Headers: map[string]string{"Authorization": "Bearer {{token}}"},
				},
			}},
		}},
	}
	config.ApplyDefaults(cfg)

	s, err := Build(cfg)
	require.NoError(t, err)
	buyer, _ := s.Class("buyer")

	u, err := swarm.NewVirtualUser(1, buyer,
		swarm.WithResolver(swarm.NewResolver()),
		swarm.WithClientOptions(s.ClientOptions()...))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, buyer.OnStart(ctx, u))

	token, _ := u.GetData("token")
	assert.Equal(t, "tok-ada", token)
	session, _ := u.GetData("session")
	assert.Equal(t, "sess-ada", session)
	status, _ := u.GetData("loginStatus")
	assert.Equal(t, "200", status)
	_, ok := u.GetData("missing")
	assert.False(t, ok)

	require.NoError(t, buyer.Tasks[0].Task.Fn(ctx, u))

	shop.mu.Lock()
	defer shop.mu.Unlock()
	assert.Equal(t, 1, shop.loggedIn)
	assert.Equal(t, []string{"/cart/sess-ada"}, shop.paths)
	assert.Equal(t, []string{"Bearer tok-ada"}, shop.carts)
	assert.Equal(t, []string{"swarm"}, shop.agents)
}

func TestRequestTasks_FailuresDoNotFailTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := &config.TestConfig{
		Host:  srv.URL,
		Users: 1,
		UserClasses: []*config.UserClassConfig{{
			Name:  "poller",
			Tasks: []config.TaskConfig{{Request: &config.RequestConfig{Path: "/status"}}},
		}},
	}
	config.ApplyDefaults(cfg)

	s, err := Build(cfg)
	require.NoError(t, err)
	poller, _ := s.Class("poller")

	u, err := swarm.NewVirtualUser(1, poller, swarm.WithResolver(swarm.NewResolver()))
	require.NoError(t, err)
	task := poller.Tasks[0].Task
	assert.Equal(t, "/status", task.Name)
	assert.NoError(t, task.Fn(context.Background(), u))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = task.Fn(ctx, u)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRequestTasks_NoClient(t *testing.T) {
	s, err := Build(testConfig("http://shop.test"))
	require.NoError(t, err)
	base, _ := s.Class("base")

	bare := &swarm.UserClass{Name: "bare", Tasks: base.Tasks}
	u, err := swarm.NewVirtualUser(1, bare, swarm.WithResolver(swarm.NewResolver()))
	require.NoError(t, err)

	assert.ErrorIs(t, base.Tasks[0].Task.Fn(context.Background(), u), ErrNoClient)
}

func TestBuild_ExampleConfig(t *testing.T) {
	cfg, err := config.LoadConfig("../../../examples/shop.yaml")
	require.NoError(t, err)

	s, err := Build(cfg)
	require.NoError(t, err)

	runnable := s.Runnable()
	require.Len(t, runnable, 2)
	assert.Equal(t, "shopper", runnable[0].Name)
	assert.Equal(t, "browser", runnable[1].Name)

	base, _ := s.Class("base")
	browser, _ := s.Class("browser")
	assert.Same(t, base.Tasks[0].Task, browser.Tasks[0].Task)
	assert.Equal(t, 6, browser.Tasks[0].Weight)

	for _, c := range runnable {
		_, err := swarm.NewResolver().Class(c)
		assert.NoError(t, err, c.Name)
	}
	assert.Len(t, s.ClientOptions(), 2)
}
