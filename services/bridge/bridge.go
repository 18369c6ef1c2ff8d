// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"solarrelay-go/bus"
	"solarrelay-go/errcode"
	"solarrelay-go/services/config"
	"solarrelay-go/services/solar"
	"solarrelay-go/types"
	"solarrelay-go/x/strx"
	"solarrelay-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the bridge until ctx is cancelled. It waits for its
// configuration on {"config","bridge"} and (re)connects the broker link on
// every change.
func Start(ctx context.Context, conn *bus.Connection, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		conn:       conn,
		log:        log.With("svc", "bridge"),
		stateTopic: bus.T("bridge", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

var TopicConfig = bus.T("config", "bridge")

// Config is expected on "config/bridge". An empty Broker disables the link.
type Config struct {
	Broker   string `json:"broker" yaml:"broker"` // e.g. tcp://127.0.0.1:1883
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
	// Prefix roots every broker topic. Default "solarrelay".
	Prefix string `json:"prefix" yaml:"prefix"`
	QoS    byte   `json:"qos" yaml:"qos"`
	// ConnectTimeoutMS bounds each dial. Default 5000.
	ConnectTimeoutMS int `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	// RequestTimeoutMS bounds each forwarded command. Default 2000.
	RequestTimeoutMS int `json:"request_timeout_ms" yaml:"request_timeout_ms"`
}

func (c Config) withDefaults() Config {
	c.Prefix = strx.Path(strx.Coalesce(c.Prefix, "solarrelay"))
	c.ClientID = strx.Coalesce(c.ClientID, "solarrelay")
	if c.QoS > 2 {
		c.QoS = 1
	}
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = 5000
	}
	if c.RequestTimeoutMS <= 0 {
		c.RequestTimeoutMS = 2000
	}
	return c
}

// outbound maps controller topics onto broker sub-topics.
var outbound = []struct {
	local    bus.Topic
	remote   string
	retained bool
}{
	{solar.TopicState, "state", true},
	{solar.TopicLog, "log", true},
	{solar.TopicPower, "power", true},
	{solar.TopicRelayEvent, "event/relay", false},
}

// inbound maps "<prefix>/cmd/<verb>" onto bus request topics.
var inbound = map[string]bus.Topic{
	"override":    solar.TopicOverride,
	"reset_stats": solar.TopicResetStats,
	"snapshot":    solar.TopicSnapshot,
	"config":      config.TopicSet,
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	log        *slog.Logger
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	done   chan struct{}
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(TopicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := types.Decode[Config](msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg.withDefaults())
		}
	}
}

// stopCurrent cancels the running link and waits for it to finish.
func (s *Service) stopCurrent() {
	s.mu.Lock()
	cancel, done := s.curRun, s.done
	s.curRun, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.stopCurrent()
	if cfg.Broker == "" {
		s.publishState("idle", "disabled", nil)
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.mu.Lock()
	s.curRun, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.runLink(ctx, cfg)
	}()
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	defer s.setLink(types.LinkDown)

	backoff := backoffSeq(250*time.Millisecond, 30*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lost := make(chan error, 1)
		link := Dial(cfg, func(err error) {
			select {
			case lost <- err:
			default:
			}
		})
		if err := link.Connect(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond); err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		err := s.handleLink(ctx, cfg, link, lost)
		s.setLink(types.LinkDown)
		if err == nil {
			// Clean close: only a new config restarts the link.
			return
		}
		delay := backoff()
		s.log.Warn("broker link lost", "err", err, "retry_in", delay)
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// remoteCmd is one inbound broker command.
type remoteCmd struct {
	verb    string
	payload []byte
}

// handleLink owns the active link lifetime. The link is announced up only
// once every subscription is in place.
func (s *Service) handleLink(ctx context.Context, cfg Config, link Link, lost <-chan error) error {
	defer link.Disconnect()

	status := strx.Path(cfg.Prefix, "status")
	if err := link.Publish(status, cfg.QoS, true, []byte("online")); err != nil {
		return err
	}

	cmds := make(chan remoteCmd, 8)
	cmdPrefix := strx.Path(cfg.Prefix, "cmd") + "/"
	err := link.Subscribe(cmdPrefix+"+", cfg.QoS, func(topic string, payload []byte) {
		verb := strings.TrimPrefix(topic, cmdPrefix)
		select {
		case cmds <- remoteCmd{verb: verb, payload: append([]byte(nil), payload...)}:
		default:
			s.log.Warn("command dropped", "verb", verb)
		}
	})
	if err != nil {
		return err
	}

	local := s.conn.Bus().NewConnection("bridge-out")
	defer local.Disconnect()
	stop := make(chan struct{})
	defer close(stop)
	fwd := make(chan *bus.Message, 16)
	for _, o := range outbound {
		sub := local.Subscribe(o.local)
		go func() {
			for m := range sub.Channel() {
				select {
				case fwd <- m:
				case <-stop:
					return
				}
			}
		}()
	}

	s.publishState("up", "link_established", nil)
	s.log.Info("broker connected", "broker", cfg.Broker)
	s.setLink(types.LinkUp)

	for {
		select {
		case <-ctx.Done():
			_ = link.Publish(status, cfg.QoS, true, []byte("offline"))
			return nil
		case err := <-lost:
			return err
		case m := <-fwd:
			if err := s.forward(cfg, link, m); err != nil {
				return err
			}
		case c := <-cmds:
			s.dispatch(ctx, cfg, link, c)
		}
	}
}

func (s *Service) forward(cfg Config, link Link, m *bus.Message) error {
	for _, o := range outbound {
		if !bus.Match(o.local, m.Topic) {
			continue
		}
		b, err := json.Marshal(m.Payload)
		if err != nil {
			s.log.Warn("encode failed", "topic", m.Topic.String(), "err", err)
			return nil
		}
		return link.Publish(strx.Path(cfg.Prefix, o.remote), cfg.QoS, o.retained, b)
	}
	return nil
}

// dispatch forwards a broker command as a bus request and publishes the reply
// on "<prefix>/cmd/<verb>/reply".
func (s *Service) dispatch(ctx context.Context, cfg Config, link Link, c remoteCmd) {
	var reply any
	if t, ok := inbound[c.verb]; !ok {
		reply = types.ErrorReply(string(errcode.Unsupported))
	} else {
		var payload any
		if len(c.payload) > 0 {
			payload = c.payload
		}
		rctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.RequestTimeoutMS)*time.Millisecond)
		m, err := s.conn.Request(rctx, t, payload)
		cancel()
		if err != nil {
			reply = types.ErrorReply(string(errcode.Timeout))
		} else {
			reply = m.Payload
		}
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := link.Publish(strx.Path(cfg.Prefix, "cmd", c.verb, "reply"), cfg.QoS, false, b); err != nil {
		s.log.Warn("reply publish failed", "verb", c.verb, "err", err)
	}
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) setLink(l types.Link) {
	s.conn.Publish(s.conn.NewMessage(solar.LinkTopic("mqtt"), l, true))
}

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TSms: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
