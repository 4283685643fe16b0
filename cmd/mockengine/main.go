package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hnakamur/ltsvlog"
	"github.com/valyala/fastjson"
)

// mockengine is a local stand-in for the anomaly engine API so cloudreport
// can be exercised without a running engine. It keeps jobs in memory and
// only counts what is uploaded.

type jobStore struct {
	mu   sync.Mutex
	jobs map[string]int // job id -> uploaded record count
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]int)}
}

func (s *jobStore) create(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	s.jobs[id] = 0
	return id
}

func (s *jobStore) exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

func (s *jobStore) addRecords(id string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	s.jobs[id] += n
	return true
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8080", "listen address")
	flag.Parse()

	ltsvlog.Logger = ltsvlog.NewLTSVLogger(os.Stdout, true)

	store := newJobStore()
	mux := http.NewServeMux()

	mux.HandleFunc("/engine/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r.Body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		id := store.create(fastjson.GetString(buf.Bytes(), "id"))
		ltsvlog.Logger.Info().Fmt("msg", "created job %s", id).Log()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":%q}`, id)
	})

	mux.HandleFunc("/engine/v1/jobs/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/engine/v1/jobs/")
		if !store.exists(id) {
			http.Error(w, `{"message":"job not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%q}`, id)
	})

	mux.HandleFunc("/engine/v1/data/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/engine/v1/data/")
		if closed := strings.TrimSuffix(id, "/close"); closed != id {
			ltsvlog.Logger.Info().Fmt("msg", "closed job %s", closed).Log()
			w.WriteHeader(http.StatusAccepted)
			return
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r.Body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		n := bytes.Count(buf.Bytes(), []byte("\n"))
		if !store.addRecords(id, n) {
			http.Error(w, `{"message":"job not found"}`, http.StatusNotFound)
			return
		}
		ltsvlog.Logger.Info().Fmt("msg", "job %s received %d records", id, n).Log()
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/engine/v2/results/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"hitCount":0,"documents":[]}`)
	})

	ltsvlog.Logger.Info().Fmt("msg", "mockengine listening on %s", addr).Log()
	if err := http.ListenAndServe(addr, mux); err != nil {
		ltsvlog.Logger.Err(err)
		os.Exit(1)
	}
}
