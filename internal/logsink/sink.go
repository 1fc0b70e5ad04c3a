// Package logsink implements the taskManager's one-way log forwarding to
// an external viewer: a length-prefixed framed connection,
// with graceful degradation to local structured logging when the viewer
// is unreachable.
package logsink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxConnectAttempts is how many times Connect retries, one attempt per
// second, before giving up and degrading to the local fallback logger.
const MaxConnectAttempts = 60

// Sink forwards structured log records to an external viewer over a
// framed TCP connection, falling back to a local logger when the viewer
// is absent.
type Sink struct {
	mu       sync.Mutex
	conn     net.Conn
	degraded bool

	fallback *logrus.Logger
}

// New creates a Sink that will use fallback once (or if) the viewer proves
// unreachable.
func New(fallback *logrus.Logger) *Sink {
	return &Sink{fallback: fallback}
}

// Connect dials host:port, retrying once per second up to
// MaxConnectAttempts times. If every attempt fails, the sink degrades
// permanently to the local fallback logger; no further reconnect
// attempts are made.
func (s *Sink) Connect(host string, port int) {
	if host == "" || port == 0 {
		s.fallback.Warn("no log viewer configured, logging locally")
		s.markDegraded()
		return
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	for attempt := 0; attempt < MaxConnectAttempts; attempt++ {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.degraded = false
			s.mu.Unlock()
			s.fallback.Infof("connected to log viewer at %s on attempt %d", addr, attempt)
			return
		}
		s.fallback.Debugf("could not connect to log viewer at %s on attempt %d: %v", addr, attempt, err)
		time.Sleep(time.Second)
	}

	s.fallback.Warnf("log viewer at %s unreachable after %d attempts, logging locally", addr, MaxConnectAttempts)
	s.markDegraded()
}

func (s *Sink) markDegraded() {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
}

// Close shuts down the viewer connection, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Emit sends a raw payload (string or JSON-marshalable value) to the
// viewer, or prints it locally when degraded. Unlike Info/Debug, it does
// not add time/level/name fields — callers that have already decorated
// their own payload (the monitor handler, for scaled-load records) use
// this directly.
func (s *Sink) Emit(payload interface{}) {
	s.mu.Lock()
	conn := s.conn
	degraded := s.degraded
	s.mu.Unlock()

	if conn == nil || degraded {
		s.emitLocally(payload)
		return
	}

	data, err := encodePayload(payload)
	if err != nil {
		s.fallback.Errorf("failed to encode log payload: %v", err)
		return
	}

	if err := writeFramed(conn, data); err != nil {
		s.fallback.Warnf("log viewer connection failed, degrading to local logging: %v", err)
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		s.emitLocally(payload)
	}
}

func (s *Sink) emitLocally(payload interface{}) {
	switch v := payload.(type) {
	case string:
		s.fallback.Info(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s.fallback.Errorf("failed to marshal fallback log payload: %v", err)
			return
		}
		s.fallback.Info(string(data))
	}
}

// Info wraps msg with {time, level="info", name="taskManager[.name]"} and
// emits it.
func (s *Sink) Info(msg interface{}, name string) {
	s.Emit(decorate(msg, "info", name))
}

// Debug wraps msg with {time, level="debug", name="taskManager[.name]"}
// and emits it.
func (s *Sink) Debug(msg interface{}, name string) {
	s.Emit(decorate(msg, "debug", name))
}

func decorate(msg interface{}, level, name string) map[string]interface{} {
	body := map[string]interface{}{}
	switch v := msg.(type) {
	case string:
		body["msg"] = v
	case map[string]interface{}:
		for k, val := range v {
			body[k] = val
		}
	default:
		data, err := json.Marshal(v)
		if err == nil {
			var generic map[string]interface{}
			if json.Unmarshal(data, &generic) == nil {
				for k, val := range generic {
					body[k] = val
				}
			} else {
				body["msg"] = v
			}
		} else {
			body["msg"] = fmt.Sprintf("%v", v)
		}
	}

	body["time"] = time.Now().Unix()
	body["level"] = level
	if name != "" {
		body["name"] = "taskManager." + name
	} else {
		body["name"] = "taskManager"
	}
	return body
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func writeFramed(conn net.Conn, payload []byte) error {
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}
