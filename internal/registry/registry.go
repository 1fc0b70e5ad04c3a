// Package registry holds the taskManager's in-memory fleet state: known
// hosts per platform, their most recent scaled load, per-(workerType,host)
// ready queues of parked worker connections, and the per-platform admission
// queues the dispatcher drains.
//
// All mutations are serialized behind a single mutex. The access
// pattern is read-heavy but low-frequency, so fine-grained locking would
// only complicate the invariants without buying throughput.
package registry

import (
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// sentinelLoad is assigned to a host the first time a worker registers on
// it before any monitor has reported load for that host. It must sort
// after any real load value so unmeasured hosts are never chosen ahead of
// measured ones.
const sentinelLoad = 1000.0

// DefaultMaxLoad is used when a monitor's hello frame omits maxLoad.
const DefaultMaxLoad = 1.0

// DefaultEstimatedLoad is added to a host's load when no taskRequest
// supplies its own estimate.
const DefaultEstimatedLoad = 0.5

// FilePaths are the two static paths advertised to clients via the query
// reply, set once at startup from config.
type FilePaths struct {
	Orig string
	Dest string
}

// WorkerRegistration is a parked, duplex connection to a worker process,
// waiting in a ready queue until a task-request handler claims it.
type WorkerRegistration struct {
	ID             uuid.UUID
	WorkerType     string
	WorkerName     string
	HostName       string
	Addr           string
	AvailableTools []string
	Conn           net.Conn
}

type platformState struct {
	// hosts maps a registered host name to its declared max scaled load.
	hosts map[string]float64
	// queue is the FIFO of admission events awaiting capacity on this
	// platform.
	queue []*AdmissionEvent
}

// Registry is the taskManager's shared fleet state.
type Registry struct {
	mu sync.Mutex

	platforms map[string]*platformState                    // platform -> state
	hostLoads map[string]float64                           // host -> scaled load
	queues    map[string]map[string][]*WorkerRegistration // workerType -> host -> FIFO

	files FilePaths
}

// New creates an empty Registry advertising the given file paths.
func New(files FilePaths) *Registry {
	return &Registry{
		platforms: make(map[string]*platformState),
		hostLoads: make(map[string]float64),
		queues:    make(map[string]map[string][]*WorkerRegistration),
		files:     files,
	}
}

// RegisterMonitor ensures a platform and host are known, recording the
// host's declared max scaled load. Idempotent: re-registering the same
// host only refreshes maxLoad.
func (r *Registry) RegisterMonitor(platform, host string, maxLoad float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.platforms[platform]
	if !ok {
		ps = &platformState{hosts: make(map[string]float64)}
		r.platforms[platform] = ps
	}
	ps.hosts[host] = maxLoad
}

// UnregisterMonitor removes a host from a platform (and the platform
// itself, if it is now empty of both hosts and queued admission events)
// and drops its last known load. A non-empty admission queue is left
// untouched — workers on that platform may still be parked and deserve a
// chance at dispatch.
func (r *Registry) UnregisterMonitor(platform, host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ps, ok := r.platforms[platform]; ok {
		delete(ps.hosts, host)
		if len(ps.hosts) == 0 && len(ps.queue) == 0 {
			delete(r.platforms, platform)
		}
	}
	delete(r.hostLoads, host)
}

// UpdateHostLoad records the most recent scaled one-minute load for host.
func (r *Registry) UpdateHostLoad(host string, scaled float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostLoads[host] = scaled
}

// KnownPlatform reports whether platform currently has registered hosts or
// queued admission events. A platform whose last monitor disconnected
// while its admission queue was empty is forgotten and reports false.
func (r *Registry) KnownPlatform(platform string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.platforms[platform]
	return ok
}

// RegisterWorker parks reg on its ready queue. If the host has never been
// seen by a monitor, its load is seeded with the sentinel so it sorts
// last in least-loaded selection.
func (r *Registry) RegisterWorker(reg *WorkerRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.queues[reg.WorkerType]; !ok {
		r.queues[reg.WorkerType] = make(map[string][]*WorkerRegistration)
	}
	if _, ok := r.hostLoads[reg.HostName]; !ok {
		r.hostLoads[reg.HostName] = sentinelLoad
	}
	r.queues[reg.WorkerType][reg.HostName] = append(r.queues[reg.WorkerType][reg.HostName], reg)
}

// NewAdmissionEvent creates a fresh, unsignaled admission latch.
func (r *Registry) NewAdmissionEvent() *AdmissionEvent {
	return &AdmissionEvent{id: uuid.New(), ch: make(chan struct{})}
}

// EnqueuePlatform enqueues ev onto the single named platform's admission
// queue. Used when a taskRequest names a requiredPlatform.
func (r *Registry) EnqueuePlatform(platform string, ev *AdmissionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.platforms[platform]
	if !ok {
		ps = &platformState{hosts: make(map[string]float64)}
		r.platforms[platform] = ps
	}
	ps.queue = append(ps.queue, ev)
}

// EnqueueAllPlatforms enqueues the same event onto every currently known
// platform's admission queue, and returns how many platforms it was
// enqueued on. Used when a taskRequest has no requiredPlatform: whichever
// platform's dispatcher scan reaches it first fires it, and the rest
// observe it already signaled and discard their copy.
func (r *Registry) EnqueueAllPlatforms(ev *AdmissionEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ps := range r.platforms {
		ps.queue = append(ps.queue, ev)
		n++
	}
	return n
}

// DispatchScan performs one pass of the dispatcher's release algorithm: for
// each platform (visited in the order given by platformOrder, which the
// caller should have shuffled), it releases at most one admission event —
// the first one found whose queue is non-empty and some host on that
// platform has spare load budget. Already-signaled events popped along the
// way (the multi-platform-enqueue case) are discarded without counting as
// a release, and the scan keeps looking at that platform's remaining
// capacity for one it can actually fire.
//
// It reports whether any platform made progress (fired a previously
// unsignaled event) during the scan.
func (r *Registry) DispatchScan(platformOrder []string) bool {
	progress := false
	for _, p := range platformOrder {
		if r.dispatchOnePlatform(p) {
			progress = true
		}
	}
	return progress
}

// Platforms returns a snapshot of currently known platform keys.
func (r *Registry) Platforms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.platforms))
	for p := range r.platforms {
		out = append(out, p)
	}
	return out
}

func (r *Registry) dispatchOnePlatform(platform string) bool {
	for {
		ev, ok := r.tryPopReleasable(platform)
		if !ok {
			return false
		}
		if ev.Fire() {
			return true
		}
		// Already signaled (fired by another platform's scan in the
		// multi-queue case) — discard and keep scanning this platform.
	}
}

// tryPopReleasable pops and returns the head of platform's admission queue
// if some host on that platform currently has spare load budget. It does
// not itself check whether the popped event is already signaled — the
// caller does that — because popping (not peeking) is what keeps a
// since-fired stale event from blocking the platform's queue forever.
func (r *Registry) tryPopReleasable(platform string) (*AdmissionEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.platforms[platform]
	if !ok || len(ps.queue) == 0 {
		return nil, false
	}
	for host, maxLoad := range ps.hosts {
		if r.hostLoads[host] < maxLoad {
			ev := ps.queue[0]
			ps.queue = ps.queue[1:]
			return ev, true
		}
	}
	return nil, false
}

// AddLoad adds delta to host's current scaled load. Used to apply the
// estimatedLoad fudge factor after a dispatch, so a burst of requests
// doesn't all pile onto the same momentarily-idle host before the next
// monitor update.
func (r *Registry) AddLoad(host string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostLoads[host] += delta
}

// SelectWorker finds the least-loaded eligible (workerType, host) pair
// among requestedWorkers — restricted to hosts of requiredPlatform when
// non-empty — pops one worker registration from that pair's ready queue,
// and returns it. ok is false when no eligible worker is currently
// parked.
//
// Ties on load break toward the first eligible pair in candidate order:
// requestedWorkers order, then sorted host name. Ranging the host map
// directly would make the tie-break vary run to run, and ties are the
// common case whenever several unmonitored hosts share the sentinel
// load.
func (r *Registry) SelectWorker(requestedWorkers []string, requiredPlatform string) (reg *WorkerRegistration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var allowedHosts map[string]bool
	if requiredPlatform != "" {
		ps, exists := r.platforms[requiredPlatform]
		if !exists {
			return nil, false
		}
		allowedHosts = make(map[string]bool, len(ps.hosts))
		for h := range ps.hosts {
			allowedHosts[h] = true
		}
	}

	bestType, bestHost := "", ""
	bestLoad := 0.0
	found := false

	for _, wt := range requestedWorkers {
		byHost, ok := r.queues[wt]
		if !ok {
			continue
		}
		hosts := make([]string, 0, len(byHost))
		for host := range byHost {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		for _, host := range hosts {
			if len(byHost[host]) == 0 {
				continue
			}
			if allowedHosts != nil && !allowedHosts[host] {
				continue
			}
			load := r.hostLoads[host]
			if !found || load < bestLoad {
				found = true
				bestType, bestHost, bestLoad = wt, host, load
			}
		}
	}

	if !found {
		return nil, false
	}

	q := r.queues[bestType][bestHost]
	reg = q[0]
	r.queues[bestType][bestHost] = q[1:]
	return reg, true
}

// QuerySnapshot is the reply to a workerQuery hello frame.
type QuerySnapshot struct {
	HostTypes           map[string]map[string]bool
	HostLoads           map[string]float64
	Workers             map[string]bool
	Tools               map[string]map[string]bool
	Files               FilePaths
	PlatformQueuesEmpty map[string]bool
}

// Snapshot builds a QuerySnapshot from the registry's current state.
//
// hostTypes and tools are recomputed live from the currently parked ready
// queues rather than maintained as a separately-grown index: a worker
// type that has lost every registration simply stops appearing, instead
// of lingering forever in an index that is never pruned.
func (r *Registry) Snapshot() QuerySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	hostTypes := make(map[string]map[string]bool, len(r.platforms))
	platformQueuesEmpty := make(map[string]bool, len(r.platforms))
	for p, ps := range r.platforms {
		platformQueuesEmpty[p] = len(ps.queue) == 0
		workerTypesOnPlatform := make(map[string]bool)
		for wt, byHost := range r.queues {
			for host, q := range byHost {
				if len(q) == 0 {
					continue
				}
				if _, onPlatform := ps.hosts[host]; onPlatform {
					workerTypesOnPlatform[wt] = true
				}
			}
		}
		hostTypes[p] = workerTypesOnPlatform
	}

	workers := make(map[string]bool)
	tools := make(map[string]map[string]bool)
	for wt, byHost := range r.queues {
		hasAny := false
		for _, q := range byHost {
			for _, reg := range q {
				hasAny = true
				for _, tool := range reg.AvailableTools {
					if tools[tool] == nil {
						tools[tool] = make(map[string]bool)
					}
					tools[tool][wt] = true
				}
			}
		}
		if hasAny {
			workers[wt] = true
		}
	}

	hostLoads := make(map[string]float64, len(r.hostLoads))
	for h, l := range r.hostLoads {
		hostLoads[h] = l
	}

	return QuerySnapshot{
		HostTypes:           hostTypes,
		HostLoads:           hostLoads,
		Workers:             workers,
		Tools:               tools,
		Files:               r.files,
		PlatformQueuesEmpty: platformQueuesEmpty,
	}
}
