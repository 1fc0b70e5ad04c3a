package server

import (
	"encoding/json"
	"net"

	"github.com/google/uuid"

	"taskmanager/internal/protocol"
	"taskmanager/internal/registry"
)

// handleWorker parks the worker's duplex connection
// on its ready queue and return without closing it. The connection stays
// open — held by the registry — until a task-request handler consumes it.
func (s *Server) handleWorker(conn net.Conn, helloLine []byte) {
	var hello protocol.WorkerHello
	if err := json.Unmarshal(helloLine, &hello); err != nil {
		s.log.Debugf("malformed worker hello from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	if err := protocol.ValidateWorkerHello(&hello); err != nil {
		s.log.Debugf("%s (from %s)", err, conn.RemoteAddr())
		conn.Close()
		return
	}

	reg := &registry.WorkerRegistration{
		ID:             uuid.New(),
		WorkerType:     hello.TaskType,
		WorkerName:     hello.EffectiveWorkerName(),
		HostName:       hello.Host,
		Addr:           conn.RemoteAddr().String(),
		AvailableTools: hello.AvailableTools,
		Conn:           conn,
	}
	s.reg.RegisterWorker(reg)
	s.log.Debugf("parked %s worker %s on %s (id=%s)", hello.TaskType, reg.WorkerName, hello.Host, reg.ID)
}
