// Package api provides the HTTP server and handlers for the chatbot
// webhook ingress and the burst-resolution callback.
//
// Both handlers are stateless; all burst state lives in the shared
// key-value store so any number of instances can serve either endpoint.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bebias/venera-bot/internal/burst"
	"github.com/bebias/venera-bot/internal/genai"
	"github.com/bebias/venera-bot/internal/kvstore"
	"github.com/bebias/venera-bot/internal/messenger"
	"github.com/bebias/venera-bot/internal/pipeline"
	"github.com/bebias/venera-bot/internal/store"
	"github.com/bebias/venera-bot/internal/tasks"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string // listen address
	VerifyToken string // Messenger webhook verification token
	Secret      string // shared secret for resolution callback signatures
	TriggerURL  string // when set, resolution triggers loop back over HTTP to this webhook URL
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) {
		o.VerifyToken = token
	}
}

// WithCallbackSecret sets the shared secret for callback signatures.
func WithCallbackSecret(secret string) Option {
	return func(o *Opts) {
		o.Secret = secret
	}
}

// WithTriggerURL makes the resolver deliver turn triggers over HTTP to the
// given webhook endpoint instead of invoking the pipeline in-process. Only
// needed when ingress and resolver are deployed separately.
func WithTriggerURL(u string) Option {
	return func(o *Opts) {
		o.TriggerURL = u
	}
}

// Server wires the burst coordinator, scheduler, and pipeline behind the
// HTTP endpoints.
type Server struct {
	tracker     *burst.Tracker
	sched       tasks.Scheduler
	proc        *pipeline.Processor
	trigger     pipeline.TurnTrigger
	verifyToken string
	secret      string
}

// NewServer creates a server over already-constructed collaborators.
func NewServer(tracker *burst.Tracker, sched tasks.Scheduler, proc *pipeline.Processor, trigger pipeline.TurnTrigger, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		tracker:     tracker,
		sched:       sched,
		proc:        proc,
		trigger:     trigger,
		verifyToken: cfg.VerifyToken,
		secret:      cfg.Secret,
	}
}

// Handler returns the route mux for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/internal/burst-resolve", s.resolveHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run builds all modules from the provided options and serves the API.
// Backends are selected the same way across modules: a configured external
// endpoint picks the hosted backend, otherwise an in-process fallback is
// used so the service can run self-contained.
func Run(kvOpts []kvstore.Option, storeOpts []store.Option, genaiOpts []genai.Option, msgOpts []messenger.Option, burstOpts []burst.Option, schedOpts []tasks.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	// Key-value tracker: Redis when configured, in-memory otherwise.
	var kvCfg kvstore.Opts
	for _, opt := range kvOpts {
		opt(&kvCfg)
	}
	var kv kvstore.Store
	if kvCfg.Addr != "" {
		redisStore, err := kvstore.NewRedisStore(kvOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialize redis store: %w", err)
		}
		kv = redisStore
	} else {
		slog.Warn("api.Run: no redis address configured, using in-memory key-value store")
		kv = kvstore.NewInMemoryStore()
	}
	defer kv.Close()

	// Conversation store: driver detected from the DSN.
	var storeCfg store.Opts
	for _, opt := range storeOpts {
		opt(&storeCfg)
	}
	var st store.Store
	var err error
	switch {
	case storeCfg.DSN == "":
		slog.Warn("api.Run: no database DSN configured, using in-memory conversation store")
		st = store.NewInMemoryStore()
	case store.DetectDSNType(storeCfg.DSN) == "postgres":
		st, err = store.NewPostgresStore(storeOpts...)
	default:
		st, err = store.NewSQLiteStore(storeOpts...)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize conversation store: %w", err)
	}
	defer st.Close()

	ga, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize GenAI client: %w", err)
	}

	sender, err := messenger.NewClient(msgOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize messenger client: %w", err)
	}

	proc := pipeline.NewProcessor(st, ga, sender, kv)
	tracker := burst.NewTracker(kv, burstOpts...)

	// Scheduler: hosted push scheduler when a base URL is configured,
	// in-process timers otherwise.
	var schedCfg tasks.Opts
	for _, opt := range schedOpts {
		opt(&schedCfg)
	}
	if schedCfg.CallbackURL == "" {
		schedOpts = append(schedOpts, tasks.WithCallbackURL("http://localhost"+addr+"/internal/burst-resolve"))
	}
	var sched tasks.Scheduler
	if schedCfg.BaseURL != "" {
		sched, err = tasks.NewPushClient(schedOpts...)
	} else {
		slog.Warn("api.Run: no scheduler URL configured, using in-process delayed callbacks")
		var local *tasks.LocalScheduler
		local, err = tasks.NewLocalScheduler(schedOpts...)
		if err == nil {
			defer local.Stop()
			sched = local
		}
	}
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	var trigger pipeline.TurnTrigger
	if cfg.TriggerURL != "" {
		trigger = pipeline.NewHTTPTrigger(cfg.TriggerURL)
	} else {
		trigger = &pipeline.DirectTrigger{Processor: proc}
	}

	server := NewServer(tracker, sched, proc, trigger, apiOpts...)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("api.Run: serving", "addr", addr)
	return httpServer.ListenAndServe()
}
