// Package dashboard is the host HTTP surface: a status page, a JSON API for
// the control verbs, a WebSocket stream of state and history, and
// Prometheus metrics. It talks to the controller only over the bus.
package dashboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"solarrelay-go/bus"
	"solarrelay-go/services/solar"
	"solarrelay-go/types"
)

const serviceName = "dashboard"

type Options struct {
	Listen        string
	JWTSecret     string
	AdminPassword string
	// TokenTTL defaults to 12 h.
	TokenTTL time.Duration
	// RatePerSec and Burst bound the control endpoints. Zero disables.
	RatePerSec float64
	Burst      int
	// RequestTimeout bounds each bus request. Default 2 s.
	RequestTimeout time.Duration
	// AccessLog receives combined-format access lines when set.
	AccessLog io.Writer
	Logger    *slog.Logger
	Now       func() time.Time
}

type Server struct {
	conn    *bus.Connection
	opts    Options
	log     *slog.Logger
	limiter *rate.Limiter
	reg     *prometheus.Registry
	metrics *metrics
	hub     *hub

	stateSub, logSub, cfgSub, eventSub *bus.Subscription

	mu       sync.RWMutex
	state    *types.Snapshot
	history  []types.LogEntry
	cfg      types.Config
	haveCfg  bool
	upgrades int
}

// New subscribes at once so retained state is cached before Start.
func New(conn *bus.Connection, opts Options) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		conn: conn,
		opts: opts,
		log:  opts.Logger.With("svc", serviceName),
		reg:  prometheus.NewRegistry(),
		hub:  newHub(),
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	s.metrics = newMetrics(s.reg, s.snapshot)
	s.stateSub = conn.Subscribe(solar.TopicState)
	s.logSub = conn.Subscribe(solar.TopicLog)
	s.cfgSub = conn.Subscribe(solar.TopicConfig)
	s.eventSub = conn.Subscribe(solar.TopicRelayEvent)
	return s
}

// Start pumps bus updates into the cache and out to WebSocket clients
// until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		defer s.hub.closeAll()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-s.stateSub.Channel():
				if !ok {
					return
				}
				snap, err := types.Decode[types.Snapshot](m.Payload)
				if err != nil {
					s.log.Warn("state decode failed", "err", err)
					continue
				}
				s.mu.Lock()
				s.state = &snap
				s.mu.Unlock()
				s.hub.broadcast("state", snap)
			case m, ok := <-s.logSub.Channel():
				if !ok {
					return
				}
				entries, err := types.Decode[[]types.LogEntry](m.Payload)
				if err != nil {
					continue
				}
				s.mu.Lock()
				s.history = entries
				s.mu.Unlock()
				s.hub.broadcast("log", renderLog(entries))
			case m, ok := <-s.cfgSub.Channel():
				if !ok {
					return
				}
				if c, err := types.Decode[types.Config](m.Payload); err == nil {
					s.mu.Lock()
					s.cfg, s.haveCfg = c, true
					s.mu.Unlock()
				}
			case m, ok := <-s.eventSub.Channel():
				if !ok {
					return
				}
				if ev, err := types.Decode[types.RelayEvent](m.Payload); err == nil {
					s.metrics.transitions.WithLabelValues(ev.Source).Inc()
				}
			}
		}
	}()
}

// Handler is the full route table with recovery and optional access log.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handlePage).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/log", s.handleLog).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)

	ctl := api.NewRoute().Subrouter()
	ctl.Use(s.limit, s.authorize)
	ctl.HandleFunc("/relay", s.handleRelay).Methods(http.MethodPost)
	ctl.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	ctl.HandleFunc("/config", s.handlePutConfig).Methods(http.MethodPut, http.MethodPost)

	var h http.Handler = r
	if s.opts.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(s.opts.AccessLog, h)
	}
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
}

// Run serves on opts.Listen until ctx is cancelled. While listening it
// reports the dashboard link up, which lets the controller consider sleep.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		s.setLink(types.LinkDown)
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Start(ctx)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("listening", "addr", ln.Addr().String())
	s.setLink(types.LinkUp)
	defer s.setLink(types.LinkDown)

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) setLink(l types.Link) {
	s.conn.Publish(s.conn.NewMessage(solar.LinkTopic(serviceName), l, true))
}

// holdSleep counts in-flight WebSocket upgrades and keeps a retained
// inhibit set while any is pending.
func (s *Server) holdSleep(on bool) {
	s.mu.Lock()
	prev := s.upgrades
	if on {
		s.upgrades++
	} else if s.upgrades > 0 {
		s.upgrades--
	}
	cur := s.upgrades
	s.mu.Unlock()

	topic := solar.InhibitTopic(serviceName)
	switch {
	case prev == 0 && cur > 0:
		s.conn.Publish(s.conn.NewMessage(topic, true, true))
	case prev > 0 && cur == 0:
		s.conn.Publish(s.conn.NewMessage(topic, nil, true))
	}
}

func (s *Server) snapshot() (types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return types.Snapshot{}, false
	}
	return *s.state, true
}

func (s *Server) logEntries() []types.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.LogEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Server) config() (types.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.haveCfg
}

func renderLog(entries []types.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}
