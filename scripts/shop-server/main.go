// Command shop-server is a small target service for trying swarm locally.
// It serves the endpoints used by examples/shop.yaml.
package main

import (
	"encoding/json"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/logging"
)

type shop struct {
	mu       sync.Mutex
	sessions map[string]string
	failRate float64
	logger   *zap.Logger
}

func (s *shop) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *shop) user(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.sessions[token]
	return name, ok
}

func (s *shop) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"shop": "swarm demo",
			"time": time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			User string `json:"user"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.User == "" {
			body.User = "anonymous"
		}
		token := uuid.NewString()
		s.mu.Lock()
		s.sessions[token] = body.User
		s.mu.Unlock()
		s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
	})

	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/items/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/items/")
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":    id,
			"price": rand.Intn(10000) / 100.0,
		})
	})

	mux.HandleFunc("/cart", func(w http.ResponseWriter, r *http.Request) {
		name, ok := s.user(r)
		if !ok {
			http.Error(w, "not logged in", http.StatusUnauthorized)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"owner": name, "items": []string{}})
	})

	mux.HandleFunc("/pay", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float64() < s.failRate {
			http.Error(w, "payment provider unavailable", http.StatusServiceUnavailable)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "paid", "receipt": uuid.NewString()})
	})

	return mux
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	failRate := flag.Float64("fail-rate", 0.02, "fraction of payments that fail")
	flag.Parse()

	logger, err := logging.New(logging.DefaultConfig())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	s := &shop{
		sessions: make(map[string]string),
		failRate: *failRate,
		logger:   logger,
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           s.routes(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("starting shop server", zap.String("addr", *addr), zap.Float64("fail_rate", *failRate))
	if err := server.ListenAndServe(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
