package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"taskmanager/internal/protocol"
	"taskmanager/internal/registry"
)

// handleTaskRequest admission-gates the request,
// select the least-loaded eligible worker once capacity exists, forward
// the request, and relay the worker's output back to the client.
func (s *Server) handleTaskRequest(ctx context.Context, conn net.Conn, _ *bufio.Reader, helloLine []byte) {
	defer conn.Close()

	var hello protocol.TaskRequestHello
	if err := json.Unmarshal(helloLine, &hello); err != nil {
		s.log.Debugf("malformed taskRequest from %s: %v", conn.RemoteAddr(), err)
		return
	}
	if err := protocol.ValidateTaskRequestHello(&hello); err != nil {
		s.log.Debugf("%s (from %s)", err, conn.RemoteAddr())
		return
	}
	if hello.RequiredPlatform != "" && !s.reg.KnownPlatform(hello.RequiredPlatform) {
		s.log.Debugf("no platform %q known for taskRequest %q, dropping connection", hello.RequiredPlatform, hello.TaskName)
		return
	}
	if !hello.HadEstimatedLoad() {
		hello.EstimatedLoad = registry.DefaultEstimatedLoad
	}

	// --- Admission phase ---
	ev := s.reg.NewAdmissionEvent()
	if hello.RequiredPlatform != "" {
		s.log.Debugf("taskRequest %q (event=%s) queued on %s", hello.TaskName, ev.ID(), hello.RequiredPlatform)
		s.reg.EnqueuePlatform(hello.RequiredPlatform, ev)
	} else {
		n := s.reg.EnqueueAllPlatforms(ev)
		if n == 0 {
			s.log.Debugf("no platforms known yet for taskRequest %q with no requiredPlatform, dropping connection", hello.TaskName)
			return
		}
		s.log.Debugf("taskRequest %q (event=%s) queued on all %d known platforms", hello.TaskName, ev.ID(), n)
	}

	if err := ev.Wait(ctx); err != nil {
		s.log.Debugf("taskRequest %q admission wait aborted: %v", hello.TaskName, err)
		return
	}

	// --- Selection phase ---
	var worker *registry.WorkerRegistration
	for {
		candidate, ok := s.reg.SelectWorker(hello.Workers, hello.RequiredPlatform)
		if !ok {
			s.log.Debugf("no eligible worker found for taskRequest %q, dropping connection", hello.TaskName)
			return
		}

		// TCP accepts the first write to a peer that already closed its end,
		// so probe a parked worker with a short read: EOF or a reset there
		// means it is gone, while a live idle worker just times out.
		_ = candidate.Conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		var probe [1]byte
		_, probeErr := candidate.Conn.Read(probe[:])
		_ = candidate.Conn.SetReadDeadline(time.Time{})
		if probeErr != nil && !errors.Is(probeErr, os.ErrDeadlineExceeded) {
			s.log.Debugf("worker %s on %s died before dispatch, retrying selection: %v", candidate.WorkerName, candidate.HostName, probeErr)
			candidate.Conn.Close()
			continue
		}

		frame := append(append([]byte{}, helloLine...), '\n')
		if _, err := candidate.Conn.Write(frame); err != nil {
			s.log.Debugf("worker %s on %s died before dispatch, retrying selection: %v", candidate.WorkerName, candidate.HostName, err)
			candidate.Conn.Close()
			continue
		}
		worker = candidate
		break
	}

	// --- Increment phase ---
	s.reg.AddLoad(worker.HostName, hello.EstimatedLoad)
	s.log.Debugf("dispatched taskRequest %q to %s worker %s on %s", hello.TaskName, worker.WorkerType, worker.WorkerName, worker.HostName)

	// --- Relay phase ---
	s.relayWorkerOutput(conn, worker, hello.TaskName)
}

// relayWorkerOutput streams NDJSON records from worker back to the log
// sink, and the single terminal (returncode-bearing) record back to
// client, then closes the worker connection. A client that disconnects
// mid-task does not interrupt draining the worker: the worker process is
// trusted to terminate on its own, and killing the relay early would
// leave it running unsupervised.
func (s *Server) relayWorkerOutput(client net.Conn, worker *registry.WorkerRegistration, taskName string) {
	defer worker.Conn.Close()

	logName := fmt.Sprintf("%s.%s.%s", worker.WorkerType, worker.WorkerName, worker.HostName)
	reader := bufio.NewReader(worker.Conn)

	for {
		line, err := protocol.ReadLine(reader)
		if err != nil {
			s.log.Debugf("worker %s closed connection for taskRequest %q: %v", logName, taskName, err)
			return
		}
		if len(line) == 0 {
			continue
		}

		s.sink.Debug(string(line), logName)

		parsed := protocol.ParseWorkerOutputLine(line)
		if parsed.IsTerminal() {
			out := append(append([]byte{}, line...), '\n')
			if _, err := client.Write(out); err != nil {
				s.log.Debugf("failed to echo terminal line to client for taskRequest %q: %v", taskName, err)
			}
			return
		}
	}
}
