// Package dispatcher implements the taskManager's background dispatch
// loop: it releases queued task requests only when a capable
// host has spare load budget, scanning platforms in random order each
// pass for fairness.
package dispatcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"taskmanager/internal/registry"
)

// IdleSleep is how long the dispatcher pauses after a scan that released
// nothing, before trying again.
const IdleSleep = time.Second

// Dispatcher is a single long-running loop coordinating admission across
// all known platforms.
type Dispatcher struct {
	reg *registry.Registry
	log *logrus.Entry
	rng *rand.Rand
}

// New creates a Dispatcher over reg.
func New(reg *registry.Registry, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		reg: reg,
		log: log,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the dispatch loop until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		platforms := d.reg.Platforms()
		d.rng.Shuffle(len(platforms), func(i, j int) {
			platforms[i], platforms[j] = platforms[j], platforms[i]
		})

		progress := d.reg.DispatchScan(platforms)
		if progress {
			d.log.Debug("dispatch scan released a queued task request")
			continue
		}

		d.log.Debug("dispatch scan released nothing, sleeping")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(IdleSleep):
		}
	}
}
