package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"taskmanager/internal/protocol"
	"taskmanager/internal/registry"
)

// handleMonitor records load telemetry for one host
// until the monitor disconnects, then purge it from the registry.
func (s *Server) handleMonitor(_ context.Context, conn net.Conn, reader *bufio.Reader, helloLine []byte) {
	defer conn.Close()

	var hello protocol.MonitorHello
	if err := json.Unmarshal(helloLine, &hello); err != nil {
		s.log.Debugf("malformed monitor hello from %s: %v", conn.RemoteAddr(), err)
		return
	}
	if err := protocol.ValidateMonitorHello(&hello); err != nil {
		s.log.Debugf("%s (from %s)", err, conn.RemoteAddr())
		return
	}
	if !hello.HadMaxLoad() {
		hello.MaxLoad = registry.DefaultMaxLoad
	}

	platform := hello.PlatformTag()
	s.reg.RegisterMonitor(platform, hello.Host, hello.MaxLoad)
	s.log.Debugf("new monitor connection from %s (%s)", hello.Host, platform)

	for {
		line, err := protocol.ReadLine(reader)
		if err != nil {
			s.log.Debugf("%s monitor closed connection: %v", hello.Host, err)
			break
		}
		if len(line) == 0 {
			continue
		}

		var rec protocol.MonitorRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.log.Debugf("malformed monitor record from %s: %v", hello.Host, err)
			continue
		}

		scaled := rec.Scaled()
		s.reg.UpdateHostLoad(hello.Host, scaled)

		s.sink.Emit(map[string]interface{}{
			"numCpus":   rec.NumCPUs,
			"wlOne":     rec.WlOne,
			"wlFive":    rec.WlFive,
			"wlFifteen": rec.WlFifteen,
			"scale":     rec.Scale,
			"name":      "monitor",
			"level":     "debug",
			"scaled":    scaled,
		})
	}

	s.reg.UnregisterMonitor(platform, hello.Host)
	s.log.Debugf("closed monitor connection for %s", hello.Host)
}
