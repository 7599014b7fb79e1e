// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package cluster runs jobs on nodes that talk
// HTTP. Every node accepts tasks from its peers,
// exchanges frames with them through a
// transport.Peer, and coordinates the queries
// submitted to it.
package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/SnellerInc/distexec/job"
	"github.com/SnellerInc/distexec/lower"
	"github.com/SnellerInc/distexec/physical"
	"github.com/SnellerInc/distexec/storage"
	"github.com/SnellerInc/distexec/transport"
	"github.com/SnellerInc/distexec/types"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"
)

// routes
const (
	TaskPath    = "/v1/tasks"
	QueryPath   = "/v1/query"
	ExplainPath = "/v1/explain"
	PingPath    = "/v1/ping"
	MetricsPath = "/metrics"
)

// largest accepted task or query body
const maxRequest = 64 << 20

// Query is the body of a query request.
type Query struct {
	Plan physical.Spec `json:"plan"`
	// ParamsType and Params bind the
	// parameters of the plan, if any.
	ParamsType types.Schema `json:"paramsType,omitempty"`
	Params     []string     `json:"params,omitempty"`
}

// Result is the reply to a query request.
type Result struct {
	JobID  job.Id        `json:"jobId"`
	Schema types.Schema  `json:"schema,omitempty"`
	Rows   [][]string    `json:"rows,omitempty"`
	Status job.JobStatus `json:"status"`
}

// Server is one node of a cluster.
type Server struct {
	Self     job.Location
	Store    storage.Store
	Peer     *transport.Peer
	Pool     job.Pool
	Logger   *log.Logger
	Metrics  *job.Metrics
	Gatherer prometheus.Gatherer
	Tables   map[string]*physical.Table
	Resolver lower.Resolver
	// Compression and BatchSize configure the
	// exchanges of the jobs coordinated here.
	Compression string
	BatchSize   int
	// Timeout, if non-zero, bounds each query.
	Timeout time.Duration
	// Client submits tasks to peers;
	// http.DefaultClient is used if nil.
	Client *http.Client

	requests *prometheus.CounterVec
	srv      http.Server
}

// NewServer builds the node described by c on
// top of store. Metrics are registered with reg,
// which also serves them, unless reg is nil.
func NewServer(c *Config, store storage.Store, logger *log.Logger, reg *prometheus.Registry) (*Server, error) {
	tables, parts, err := c.Catalog()
	if err != nil {
		return nil, err
	}
	pool, err := job.NewPool(c.Workers, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Self:        c.Listen,
		Store:       store,
		Peer:        &transport.Peer{Self: c.Listen, Logger: logger},
		Pool:        pool,
		Logger:      logger,
		Tables:      tables,
		Resolver:    parts,
		Compression: c.Compression,
		BatchSize:   c.BatchSize,
	}
	if c.Timeout != "" {
		s.Timeout, err = time.ParseDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parsing timeout: %w", err)
		}
	}
	if reg != nil {
		s.Metrics = job.NewMetrics(reg)
		s.Gatherer = reg
		s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distexec",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"})
		reg.MustRegister(s.requests)
	}
	return s, nil
}

func (s *Server) logf(f string, args ...any) {
	if s.Logger != nil {
		s.Logger.Output(2, fmt.Sprintf(f, args...))
	}
}

func (s *Server) client() *http.Client {
	if s.Client == nil {
		return http.DefaultClient
	}
	return s.Client
}

func (s *Server) env() *job.Env {
	return &job.Env{
		Store:     s.Store,
		Transport: s.Peer,
		Pool:      s.Pool,
		Logger:    s.Logger,
		Metrics:   s.Metrics,
	}
}

// Handler returns the routes of s.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Peer.Route(r)
	r.HandleFunc(TaskPath, s.handle(TaskPath, s.serveTask)).Methods(http.MethodPost)
	r.HandleFunc(QueryPath, s.handle(QueryPath, s.serveQuery)).Methods(http.MethodPost)
	r.HandleFunc(ExplainPath, s.handle(ExplainPath, s.serveExplain)).Methods(http.MethodPost)
	r.HandleFunc(PingPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	g := s.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r.Handle(MetricsPath, promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handle(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		s.logf("Request %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		if s.requests != nil {
			s.requests.WithLabelValues(route, fmt.Sprint(sw.code)).Inc()
		}
	}
}

// Serve serves s on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.srv.Handler = s.Handler()
	err := s.srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops s gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func reply(w http.ResponseWriter, v any) {
	data, err := yaml.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

func (s *Server) serveTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequest))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := job.UnmarshalTask(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if t.Location != s.Self {
		http.Error(w, fmt.Sprintf("task %s is for %s, not %s", t.ID, t.Location, s.Self), http.StatusBadRequest)
		return
	}
	st, err := s.runTask(r.Context(), t)
	if err != nil {
		s.logf("job %s: task %s: %s", t.JobID, t.ID, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	reply(w, &st)
}

// runTask runs a task received from a peer.
func (s *Server) runTask(ctx context.Context, t *job.Task) (job.TaskStatus, error) {
	defer t.Close()
	// failures are reported through the status
	t.Init(s.env())
	if err := t.Run(ctx); err != nil {
		return job.TaskStatus{TaskID: t.ID}, err
	}
	return t.Wait(ctx)
}

// submit runs t on its node and
// waits for the outcome.
func (s *Server) submit(ctx context.Context, t *job.Task) (job.TaskStatus, error) {
	st := job.TaskStatus{TaskID: t.ID}
	body, err := t.MarshalText()
	if err != nil {
		return st, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, transport.URL(t.Location, TaskPath, nil), bytes.NewReader(body))
	if err != nil {
		return st, err
	}
	req.Header.Set("Content-Type", "application/yaml")
	res, err := s.client().Do(req)
	if err != nil {
		return st, fmt.Errorf("submitting task %s to %s: %w", t.ID, t.Location, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return st, fmt.Errorf("submitting task %s to %s: %s", t.ID, t.Location, transport.Reason(res))
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxRequest))
	if err != nil {
		return st, err
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decoding status of task %s: %w", t.ID, err)
	}
	return st, nil
}

// Execute runs j, which must be fresh, with s
// as its coordinator: local tasks run here and
// every other task is submitted to its node.
//
// As with job.Scheduler, a failed task shows up
// only in the status; the error is non-nil if
// a task could not be delivered or ctx ended.
func (s *Server) Execute(ctx context.Context, j *job.Job) (job.JobStatus, error) {
	tasks := j.SortedTasks()
	js := job.JobStatus{JobID: j.ID, Tasks: make([]job.TaskStatus, len(tasks))}
	env := s.env()
	// local receives exist before any peer runs
	for _, t := range tasks {
		if t.Location == s.Self {
			t.Init(env)
		}
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, t := range tasks {
		if t.Location == s.Self {
			if err := t.Run(rctx); err != nil {
				return js, err
			}
		}
	}
	g, gctx := errgroup.WithContext(rctx)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			var err error
			if t.Location == s.Self {
				js.Tasks[i], err = t.Wait(gctx)
			} else {
				js.Tasks[i], err = s.submit(gctx, t)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return js, err
	}
	js.Summarize()
	return js, nil
}

// Lower builds and lowers the plan of q, with s
// as the coordinator, and binds its parameters.
func (s *Server) Lower(q *Query) (*job.Job, error) {
	return LowerQuery(q, s.Tables, &lower.Options{
		Coordinator: s.Self,
		Resolver:    s.Resolver,
		Compression: s.Compression,
		BatchSize:   s.BatchSize,
	})
}

// LowerQuery builds the plan of q against tables,
// lowers it with opts and binds the parameters of q.
// The ParamsType of q overrides that of opts.
func LowerQuery(q *Query, tables map[string]*physical.Table, opts *lower.Options) (*job.Job, error) {
	plan, err := q.Plan.Build(tables)
	if err != nil {
		return nil, err
	}
	o := *opts
	o.ParamsType = q.ParamsType
	j, err := lower.Lower(plan, &o)
	if err != nil {
		return nil, err
	}
	if q.ParamsType != nil || len(q.Params) > 0 {
		params, err := q.ParamsType.ParseTuple(q.Params)
		if err != nil {
			return nil, fmt.Errorf("parameters: %w", err)
		}
		if err := j.SetParams(params); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Run lowers q, executes it and
// collects the rows of its root.
func (s *Server) Run(ctx context.Context, q *Query) (*Result, error) {
	j, err := s.Lower(q)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, j)
}

func (s *Server) run(ctx context.Context, j *job.Job) (*Result, error) {
	defer j.Close()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	start := time.Now()
	js, err := s.Execute(ctx, j)
	if err != nil {
		return nil, err
	}
	res := &Result{JobID: j.ID, Status: js}
	if r := j.Root(); r != nil {
		res.Schema = r.Schema
		rows, err := r.Result(ctx)
		if err != nil && js.OK {
			return nil, err
		}
		for _, row := range rows {
			text, err := r.Schema.FormatTuple(row)
			if err != nil {
				return nil, err
			}
			res.Rows = append(res.Rows, text)
		}
	}
	s.logf("job %s: %d tasks, ok=%v, %d rows in %s", j.ID, len(js.Tasks), js.OK, len(res.Rows), time.Since(start))
	return res, nil
}

func (s *Server) readQuery(w http.ResponseWriter, r *http.Request) (*Query, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequest))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	q := new(Query)
	if err := yaml.UnmarshalStrict(body, q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return q, true
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request) {
	q, ok := s.readQuery(w, r)
	if !ok {
		return
	}
	j, err := s.Lower(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.run(r.Context(), j)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	reply(w, res)
}

func (s *Server) serveExplain(w http.ResponseWriter, r *http.Request) {
	q, ok := s.readQuery(w, r)
	if !ok {
		return
	}
	j, err := s.Lower(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, j.String())
}

// Submit sends q to the node at loc,
// which coordinates it.
func Submit(ctx context.Context, client *http.Client, loc job.Location, q *Query) (*Result, error) {
	body, err := post(ctx, client, loc, QueryPath, q)
	if err != nil {
		return nil, err
	}
	res := new(Result)
	if err := yaml.Unmarshal(body, res); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return res, nil
}

// Explain asks the node at loc how it
// would lower q.
func Explain(ctx context.Context, client *http.Client, loc job.Location, q *Query) (string, error) {
	body, err := post(ctx, client, loc, ExplainPath, q)
	return string(body), err
}

func post(ctx context.Context, client *http.Client, loc job.Location, path string, q *Query) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	data, err := yaml.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, transport.URL(loc, path, nil), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/yaml")
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", path, transport.Reason(res))
	}
	return io.ReadAll(res.Body)
}
