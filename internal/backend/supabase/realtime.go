package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"golang.org/x/sync/errgroup"

	"tasksync/internal/service"
)

// Phoenix channel events used by the realtime service.
const (
	eventJoin        = "phx_join"
	eventLeave       = "phx_leave"
	eventReply       = "phx_reply"
	eventError       = "phx_error"
	eventClose       = "phx_close"
	eventHeartbeat   = "heartbeat"
	eventAccessToken = "access_token"
	eventChanges     = "postgres_changes"
	eventSystem      = "system"

	phoenixTopic = "phoenix"
	protocolVsn  = "1.0.0"
)

// phxMessage is one frame on the realtime socket.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast struct {
		Self bool `json:"self"`
		Ack  bool `json:"ack"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	PostgresChanges []changeFilter `json:"postgres_changes"`
	Private         bool           `json:"private"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type changesPayload struct {
	IDs  []int64               `json:"ids"`
	Data service.ChangePayload `json:"data"`
}

// Realtime implements service.ChangeFeed over the realtime websocket.
// Each subscription owns its socket. Dropped sockets are not reconnected.
type Realtime struct {
	c *Client

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// Subscribe implements service.ChangeFeed. The socket is dialed and the join
// sent before Subscribe returns; the join outcome arrives through status.
// Cancelling ctx closes the subscription.
func (r *Realtime) Subscribe(ctx context.Context, filter service.Filter, handler func(service.ChangeEvent), status func(service.SubscriptionStatus, error)) (service.Subscription, error) {
	if handler == nil {
		return nil, errors.New("change handler must not be nil")
	}
	if filter.Schema == "" {
		filter.Schema = r.c.opts.Schema
	}
	if filter.Table == "" {
		filter.Table = r.c.opts.Table
	}
	if filter.Channel == "" {
		filter.Channel = filter.Table
	}

	tok, err := r.c.auth.Token()
	if err != nil {
		return nil, wrapError(service.ErrQuery, err)
	}

	endpoint, err := r.endpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrQuery, err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, APITimeout)
	conn, resp, err := r.c.opts.Dialer.DialContext(dialCtx, endpoint, nil)
	cancelDial()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, wrapError(service.ErrQuery, fmt.Errorf("realtime connect: %w", err))
	}

	s := &subscription{
		r:       r,
		conn:    conn,
		topic:   "realtime:" + filter.Channel,
		filter:  filter,
		handler: handler,
		status:  status,
	}
	s.joinRef = s.nextRef()

	join := joinPayload{AccessToken: tok.AccessToken}
	join.Config.PostgresChanges = []changeFilter{{Event: "*", Schema: filter.Schema, Table: filter.Table}}
	if err := s.send(s.topic, eventJoin, s.joinRef, join); err != nil {
		conn.Close()
		return nil, wrapError(service.ErrQuery, fmt.Errorf("realtime join: %w", err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, runCtx = errgroup.WithContext(runCtx)
	s.group.Go(func() error { return s.readLoop(runCtx) })
	s.group.Go(func() error { return s.heartbeat(runCtx) })
	s.group.Go(func() error {
		<-runCtx.Done()
		s.conn.Close()
		return nil
	})
	s.unsubscribeAuth = r.c.auth.OnAuthStateChange(s.onAuth)

	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	r.c.logger.Debug("realtime subscription opened", "topic", s.topic)
	return s, nil
}

func (r *Realtime) endpoint() (string, error) {
	u, err := url.Parse(r.c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid supabase url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {r.c.anonKey}, "vsn": {protocolVsn}}.Encode()
	return u.String(), nil
}

func (r *Realtime) remove(s *subscription) {
	r.mu.Lock()
	delete(r.subs, s)
	r.mu.Unlock()
}

func (r *Realtime) closeAll() error {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.Unsubscribe())
	}
	return errors.Join(errs...)
}

// subscription is one joined channel on its own socket.
type subscription struct {
	r       *Realtime
	conn    *websocket.Conn
	topic   string
	joinRef string
	filter  service.Filter
	handler func(service.ChangeEvent)
	status  func(service.SubscriptionStatus, error)

	writeMu sync.Mutex
	ref     atomic.Int64
	closing atomic.Bool
	once    sync.Once

	cancel          context.CancelFunc
	group           *errgroup.Group
	unsubscribeAuth func()
}

// Unsubscribe implements service.Subscription. It must not be called from
// the change handler or the status callback.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		s.unsubscribeAuth()

		if werr := s.send(s.topic, eventLeave, s.nextRef(), struct{}{}); werr != nil {
			s.r.c.logger.Debug("realtime leave failed", "topic", s.topic, "error", werr)
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))

		s.cancel()
		err = s.group.Wait()
		s.r.remove(s)
		s.r.c.logger.Debug("realtime subscription closed", "topic", s.topic)
	})
	return err
}

func (s *subscription) nextRef() string {
	return strconv.FormatInt(s.ref.Add(1), 10)
}

func (s *subscription) send(topic, event, ref string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := phxMessage{Topic: topic, Event: event, Payload: encoded, Ref: &ref}
	if topic != phoenixTopic {
		msg.JoinRef = &s.joinRef
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(APITimeout))
	return s.conn.WriteJSON(msg)
}

// readLoop delivers changes until the socket closes. Status changes and
// change events are reported from this goroutine only.
func (s *subscription) readLoop(ctx context.Context) error {
	defer s.cancel()

	logger := s.r.c.logger
	joined := false
	_ = s.conn.SetReadDeadline(time.Now().Add(s.r.c.opts.JoinTimeout))

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case s.closing.Load() || ctx.Err() != nil:
				s.report(service.StatusClosed, nil)
			case !joined && isTimeout(err):
				s.report(service.StatusTimedOut, fmt.Errorf("no join reply within %s", s.r.c.opts.JoinTimeout))
			default:
				s.report(service.StatusChannelError, err)
			}
			return nil
		}

		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("ignoring malformed realtime frame", "error", err)
			continue
		}
		if msg.Topic != s.topic {
			// heartbeat replies
			continue
		}

		switch msg.Event {
		case eventReply:
			if joined || msg.Ref == nil || *msg.Ref != s.joinRef {
				continue
			}
			var reply struct {
				Status   string          `json:"status"`
				Response json.RawMessage `json:"response"`
			}
			if err := json.Unmarshal(msg.Payload, &reply); err != nil || reply.Status != "ok" {
				s.report(service.StatusChannelError, fmt.Errorf("join rejected: %s", string(msg.Payload)))
				return nil
			}
			joined = true
			_ = s.conn.SetReadDeadline(time.Time{})
			s.report(service.StatusSubscribed, nil)

		case eventChanges:
			s.deliver(msg.Payload)

		case eventSystem:
			var sys struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg.Payload, &sys); err == nil && sys.Status == "error" {
				s.report(service.StatusChannelError, errors.New(sys.Message))
				return nil
			}
			logger.Debug("realtime system message", "payload", string(msg.Payload))

		case eventError:
			s.report(service.StatusChannelError, errors.New("channel error"))
			return nil

		case eventClose:
			s.report(service.StatusClosed, nil)
			return nil
		}
	}
}

func (s *subscription) deliver(raw json.RawMessage) {
	logger := s.r.c.logger

	var p changesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Warn("ignoring malformed change", "error", err)
		return
	}
	if p.Data.Schema != s.filter.Schema || p.Data.Table != s.filter.Table {
		logger.Debug("ignoring change for other table", "schema", p.Data.Schema, "table", p.Data.Table)
		return
	}

	ev, err := p.Data.Event()
	if err != nil {
		logger.Warn("ignoring undecodable change", "type", p.Data.Type, "error", err)
		return
	}
	if ev == nil {
		logger.Debug("ignoring change kind", "type", p.Data.Type)
		return
	}

	logger.Debug("change received", "type", p.Data.Type, "id", service.EventID(ev))
	s.handler(ev)
}

func (s *subscription) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.r.c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.send(phoenixTopic, eventHeartbeat, s.nextRef(), struct{}{}); err != nil {
				s.r.c.logger.Debug("realtime heartbeat failed", "error", err)
				return nil
			}
		}
	}
}

// onAuth forwards refreshed access tokens to the channel.
func (s *subscription) onAuth(ev service.AuthEvent) {
	if s.closing.Load() || ev.Session == nil {
		return
	}
	if ev.Kind != service.TokenRefreshed && ev.Kind != service.SignedIn {
		return
	}
	payload := map[string]string{"access_token": ev.Session.AccessToken}
	if err := s.send(s.topic, eventAccessToken, s.nextRef(), payload); err != nil {
		s.r.c.logger.Debug("realtime token update failed", "error", err)
	}
}

func (s *subscription) report(status service.SubscriptionStatus, err error) {
	logger := s.r.c.logger
	if err != nil {
		logger.Error("realtime subscription status", "topic", s.topic, "status", string(status), "error", err)
	} else {
		logger.Debug("realtime subscription status", "topic", s.topic, "status", string(status))
	}
	if s.status != nil {
		s.status(status, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
