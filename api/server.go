// Package api is the HTTP control surface: it accepts test submissions,
// exposes live and historical test state, and streams snapshots to a
// websocket client. The server never runs a test inline; every
// submission is handed to the engine and answered with 202 and a test
// id.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ballista-dev/ballista/apitest"
	"github.com/ballista-dev/ballista/common/stats"
	"github.com/ballista-dev/ballista/history"
	"github.com/ballista-dev/ballista/monitor"
	"github.com/ballista-dev/ballista/runner"
	"github.com/ballista-dev/ballista/targets"
	"github.com/ballista-dev/ballista/transport"
)

// Server owns the active run table and the finished-run history.
type Server struct {
	cfg   Config
	hub   *Hub
	pub   runner.Publisher
	store *history.Store
	stat  stats.StatsReceiver

	mu   sync.Mutex
	runs map[string]*runner.Run
}

func NewServer(cfg Config, stat stats.StatsReceiver) *Server {
	s := &Server{
		cfg:   cfg,
		hub:   NewHub(cfg.AllowedOrigins, cfg.WSPingInterval),
		store: history.NewStore(cfg.HistorySize),
		stat:  stat,
		runs:  map[string]*runner.Run{},
	}
	s.pub = s.hub
	if cfg.CollectorURL != "" {
		s.pub = fanoutPublisher{s.hub, runner.NewHTTPPublisher(cfg.CollectorURL, 10*time.Second)}
	}
	return s
}

// fanoutPublisher mirrors publishes to every sink.
type fanoutPublisher []runner.Publisher

func (f fanoutPublisher) PublishSnapshot(testID string, s runner.Snapshot) {
	for _, p := range f {
		p.PublishSnapshot(testID, s)
	}
}

func (f fanoutPublisher) PublishReport(testID string, r runner.Report) {
	for _, p := range f {
		p.PublishReport(testID, r)
	}
}

// Handler returns the full route table wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/load-test", s.handleLoadTest)
	mux.HandleFunc("/api/stress-test", s.handleStressTest)
	mux.HandleFunc("/api/api-test", s.handleApiTest)
	mux.HandleFunc("/api/tests", s.handleListTests)
	mux.HandleFunc("/api/tests/", s.handleTest)
	mux.HandleFunc("/admin/metrics.json", s.handleMetrics)
	mux.Handle("/ws", s.hub)
	return s.cors(mux)
}

// ListenAndServe blocks serving the control API.
func (s *Server) ListenAndServe() error {
	log.Infof("control api listening on %s", s.cfg.Addr())
	return http.ListenAndServe(s.cfg.Addr(), s.Handler())
}

type loadTestRequest struct {
	TargetURL   string            `json:"target_url"`
	NumRequests int               `json:"num_requests"`
	Concurrency int               `json:"concurrency"`
	TimeoutSecs int               `json:"timeout_secs"`
	MaxRPS      int               `json:"max_rps"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
}

type stressTestRequest struct {
	TargetURL    string            `json:"target_url"`
	DurationSecs int               `json:"duration_secs"`
	Concurrency  int               `json:"concurrency"`
	TimeoutSecs  int               `json:"timeout_secs"`
	MaxRPS       int               `json:"max_rps"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
}

type apiTestRequest struct {
	SuitePath string         `json:"test_suite_path,omitempty"`
	Suite     *apitest.Suite `json:"suite,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoadTest(w http.ResponseWriter, r *http.Request) {
	var req loadTestRequest
	if !decodePost(w, r, &req) {
		return
	}
	cfg, err := s.buildConfig(runner.LoadTest, req.TargetURL, req.Method, req.Headers, req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg.Concurrency = req.Concurrency
	cfg.TotalRequests = req.NumRequests
	cfg.RequestTimeout = time.Duration(req.TimeoutSecs) * time.Second
	cfg.MaxRPS = req.MaxRPS
	s.launch(w, cfg)
}

func (s *Server) handleStressTest(w http.ResponseWriter, r *http.Request) {
	var req stressTestRequest
	if !decodePost(w, r, &req) {
		return
	}
	cfg, err := s.buildConfig(runner.StressTest, req.TargetURL, req.Method, req.Headers, req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg.Concurrency = req.Concurrency
	cfg.Duration = time.Duration(req.DurationSecs) * time.Second
	cfg.RequestTimeout = time.Duration(req.TimeoutSecs) * time.Second
	cfg.MaxRPS = req.MaxRPS
	s.launch(w, cfg)
}

func (s *Server) handleApiTest(w http.ResponseWriter, r *http.Request) {
	var req apiTestRequest
	if !decodePost(w, r, &req) {
		return
	}
	suite := req.Suite
	if suite == nil {
		if req.SuitePath == "" {
			writeError(w, http.StatusBadRequest, runner.NewConfigError("suite or test_suite_path required"))
			return
		}
		var err error
		suite, err = apitest.LoadSuite(req.SuitePath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	} else if err := suite.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	e, err := apitest.Start(suite, apitest.Options{
		Publisher: s.pub,
		Monitor:   s.newMonitor(),
		Stats:     s.stat,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.track(e.Run, func() runner.Report { return e.Wait() })
	writeJSON(w, http.StatusAccepted, map[string]string{
		"test_id": e.Run.Config().ID,
		"state":   e.Run.State().String(),
	})
}

func (s *Server) buildConfig(tt runner.TestType, target, method string, headers map[string]string, body string) (runner.TestConfig, error) {
	urls, err := targets.Resolve(target)
	if err != nil {
		return runner.TestConfig{}, runner.NewConfigError("%v", err)
	}
	m, err := transport.ParseMethod(method)
	if err != nil {
		return runner.TestConfig{}, runner.NewConfigError("%v", err)
	}
	return runner.TestConfig{
		Type:    tt,
		Targets: urls,
		Request: transport.Request{Method: m, Headers: headers, Body: []byte(body)},
	}, nil
}

// launch starts the run and answers 202, or 400 when validation
// rejects the config.
func (s *Server) launch(w http.ResponseWriter, cfg runner.TestConfig) {
	run, err := runner.Start(cfg, runner.Options{
		Publisher:        s.pub,
		Monitor:          s.newMonitor(),
		Stats:            s.stat,
		SnapshotInterval: s.cfg.SnapshotInterval,
		PublishInterval:  s.cfg.PublishInterval,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.track(run, run.Wait)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"test_id": run.Config().ID,
		"state":   run.State().String(),
	})
}

// track registers an active run and moves its report into history once
// it reaches a terminal state.
func (s *Server) track(run *runner.Run, wait func() runner.Report) {
	id := run.Config().ID
	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()

	go func() {
		rep := wait()
		s.store.Add(rep)
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
	}()
}

type testView struct {
	Config   runner.TestConfig `json:"config"`
	State    runner.TestState  `json:"state"`
	Snapshot runner.Snapshot   `json:"snapshot"`
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	active := make([]testView, 0, len(s.runs))
	for _, run := range s.runs {
		active = append(active, testView{Config: run.Config(), State: run.State(), Snapshot: run.Snapshot()})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":  active,
		"history": s.store.List(),
	})
}

// handleTest serves GET /api/tests/{id} and POST /api/tests/{id}/cancel.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tests/")
	id := rest
	cancel := false
	if strings.HasSuffix(rest, "/cancel") {
		id = strings.TrimSuffix(rest, "/cancel")
		cancel = true
	}
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	run := s.runs[id]
	s.mu.Unlock()

	if cancel {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if run == nil {
			if _, ok := s.store.Get(id); ok {
				http.Error(w, "test already finished", http.StatusConflict)
				return
			}
			http.NotFound(w, r)
			return
		}
		run.Cancel()
		writeJSON(w, http.StatusAccepted, map[string]string{"test_id": id, "state": run.State().String()})
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if run != nil {
		writeJSON(w, http.StatusOK, testView{Config: run.Config(), State: run.State(), Snapshot: run.Snapshot()})
		return
	}
	if rep, ok := s.store.Get(id); ok {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pretty := r.URL.Query().Get("pretty") == "true"
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.stat.Render(pretty))
}

func (s *Server) newMonitor() runner.ResourceMonitor {
	if !s.cfg.MonitorResources {
		return nil
	}
	return monitor.New(monitor.DefaultInterval)
}

func (s *Server) cors(next http.Handler) http.Handler {
	origins := strings.Join(s.cfg.AllowedOrigins, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodePost(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("couldn't encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
