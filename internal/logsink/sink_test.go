package logsink

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkEmitsFramedPayloadToViewer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	s := New(NewFallbackLogger())
	s.Connect(host, port)
	defer s.Close()

	conn := <-accepted
	defer conn.Close()

	s.Info("hello", "test")

	var lenPrefix [4]byte
	_, err = io.ReadFull(conn, lenPrefix[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(lenPrefix[:])

	payload := make([]byte, n)
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "hello", decoded["msg"])
	assert.Equal(t, "info", decoded["level"])
	assert.Equal(t, "taskManager.test", decoded["name"])
}

func TestSinkEmitLocallyDoesNotPanicWhenDegraded(t *testing.T) {
	s := New(NewFallbackLogger())
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()

	// Emit must not panic or block once degraded, whether given a string
	// or a structured payload.
	s.Info("still logs locally", "")
	s.Debug(map[string]interface{}{"host": "A", "scaled": 0.2}, "monitor")
}
