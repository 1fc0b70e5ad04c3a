package server

import (
	"encoding/json"
	"net"

	"taskmanager/internal/protocol"
)

// handleQuery snapshots the registry into a single
// NDJSON reply line, then close.
func (s *Server) handleQuery(conn net.Conn) {
	defer conn.Close()

	snap := s.reg.Snapshot()
	reply := protocol.QueryReply{
		Type:                protocol.TypeWorkerQuery,
		TaskType:            protocol.TypeWorkerQuery,
		HostTypes:           snap.HostTypes,
		HostLoads:           snap.HostLoads,
		Workers:             snap.Workers,
		Tools:               snap.Tools,
		Files:               map[string]string{"orig": snap.Files.Orig, "dest": snap.Files.Dest},
		PlatformQueuesEmpty: snap.PlatformQueuesEmpty,
	}

	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Errorf("failed to marshal query reply for %s: %v", conn.RemoteAddr(), err)
		return
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		s.log.Debugf("failed to write query reply to %s: %v", conn.RemoteAddr(), err)
	}
}
