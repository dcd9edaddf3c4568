package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	heartbeatMin = 15 * time.Second // lower bound of the random ping cadence
	heartbeatMax = 25 * time.Second // upper bound of the random ping cadence
	readTimeout  = 60 * time.Second // reset on every frame and pong
	writeTimeout = 10 * time.Second // deadline for subscribe payload and pings
)

// Limiter gates outbound dials. The default is the exchange dial token
// bucket; callers may substitute their own.
type Limiter interface {
	Wait(ctx context.Context) error
}

// channelPolicy is the variant-specific half of a group socket: the
// subscription payload sent on open and the demultiplexing of incoming
// frames.
type channelPolicy interface {
	subscribePayload(keys []string) any
	handleMessage(groupID string, frame []byte)
}

// lifecycleHooks fan socket lifecycle transitions out to the manager.
type lifecycleHooks struct {
	onOpen  func(groupID string, keys []string)
	onClose func(groupID string, code int, reason string)
	onError func(error)
}

// GroupSocket drives one group's websocket. Connect is re-entrant: the
// reaper calls it again after a disconnect and it replaces the previous
// connection. Each connection gets its own read-loop and heartbeat
// goroutines, both bound to that connection value, so a stale pair exits
// quietly once a newer connect has taken over.
type GroupSocket struct {
	groupID string
	url     string
	reg     *Registry
	limiter Limiter
	policy  channelPolicy
	hooks   lifecycleHooks
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn // current connection, nil when down
}

func newGroupSocket(groupID, url string, reg *Registry, limiter Limiter, policy channelPolicy, hooks lifecycleHooks, logger *slog.Logger) *GroupSocket {
	return &GroupSocket{
		groupID: groupID,
		url:     url,
		reg:     reg,
		limiter: limiter,
		policy:  policy,
		hooks:   hooks,
		logger:  logger.With("group_id", groupID),
	}
}

// connect acquires a dial slot, opens the websocket, sends the subscription
// payload, and starts the read loop and heartbeat. Any failure publishes
// DEAD and returns the error; the reaper retries on its next tick.
func (s *GroupSocket) connect(ctx context.Context) error {
	keys, pinned, ok := s.reg.GroupInfo(s.groupID)
	if !ok {
		return fmt.Errorf("group %s not in registry", s.groupID)
	}
	if len(keys) == 0 && !pinned {
		s.reg.SetStatus(s.groupID, StatusCleanup)
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.reg.SetStatus(s.groupID, StatusDead)
		return fmt.Errorf("dial slot: %w", err)
	}
	s.reg.SetStatus(s.groupID, StatusPending)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.reg.SetStatus(s.groupID, StatusDead)
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	// Re-check after the dial slot wait: the group may have been emptied or
	// removed while we were queued.
	keys, pinned, ok = s.reg.GroupInfo(s.groupID)
	if !ok || (len(keys) == 0 && !pinned) {
		if ok {
			s.reg.SetStatus(s.groupID, StatusCleanup)
		}
		s.dropConn(conn)
		conn.Close()
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(s.policy.subscribePayload(keys)); err != nil {
		s.reg.SetStatus(s.groupID, StatusDead)
		s.dropConn(conn)
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	s.reg.SetStatus(s.groupID, StatusAlive)
	s.logger.Info("websocket subscribed", "keys", len(keys))
	if s.hooks.onOpen != nil {
		s.hooks.onOpen(s.groupID, keys)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	stop := make(chan struct{})
	go s.heartbeat(conn, stop)
	go s.readLoop(conn, stop)
	return nil
}

// readLoop delivers frames to the channel policy until the connection
// fails, then publishes DEAD and reports through onClose (any
// *websocket.CloseError, including the 1006 abnormal closure reported when
// the connection drops without a close frame) or onError (anything else).
func (s *GroupSocket) readLoop(conn *websocket.Conn, stop chan struct{}) {
	defer close(stop)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.dropConn(conn) {
				s.reg.SetStatus(s.groupID, StatusDead)
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					s.logger.Info("websocket closed", "code", ce.Code, "reason", ce.Text)
					if s.hooks.onClose != nil {
						s.hooks.onClose(s.groupID, ce.Code, ce.Text)
					}
				} else {
					s.logger.Warn("websocket read failed", "error", err)
					if s.hooks.onError != nil {
						s.hooks.onError(fmt.Errorf("group %s read: %w", s.groupID, err))
					}
				}
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.policy.handleMessage(s.groupID, msg)
	}
}

// heartbeat pings at a uniformly random cadence in [heartbeatMin,
// heartbeatMax], re-drawn each cycle. A group observed empty and unpinned
// transitions to CLEANUP; a failed ping write stops the heartbeat and lets
// the read loop surface the failure.
func (s *GroupSocket) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		interval := heartbeatMin + rand.N(heartbeatMax-heartbeatMin)
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		if !s.isCurrent(conn) {
			return
		}

		keys, pinned, ok := s.reg.GroupInfo(s.groupID)
		if !ok {
			return
		}
		if len(keys) == 0 && !pinned {
			s.reg.SetStatus(s.groupID, StatusCleanup)
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
			s.logger.Warn("ping failed", "error", err)
			return
		}
	}
}

// close tears down the current connection, if any. The read loop observes
// the closed connection and exits without publishing DEAD (close already
// detached it, so the read loop's dropConn reports false).
func (s *GroupSocket) close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return conn.Close()
}

// isCurrent reports whether conn is still the socket's live connection.
func (s *GroupSocket) isCurrent(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

// dropConn detaches conn if it is still current, reporting whether this
// caller won the detach. A false return means a newer connect or close
// already owns the state transition.
func (s *GroupSocket) dropConn(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	return true
}
