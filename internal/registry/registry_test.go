package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterWorkerSeedsSentinelLoad(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "hostA"})

	snap := r.Snapshot()
	require.Contains(t, snap.HostLoads, "hostA")
	assert.Equal(t, sentinelLoad, snap.HostLoads["hostA"])
}

func TestMonitorThenWorkerKeepsRealLoad(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterMonitor("linux-x86_64", "hostA", DefaultMaxLoad)
	r.UpdateHostLoad("hostA", 0.25)
	r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "hostA"})

	snap := r.Snapshot()
	assert.Equal(t, 0.25, snap.HostLoads["hostA"])
}

func TestUnregisterMonitorDropsHostButKeepsPlatformQueue(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterMonitor("linux-x86_64", "hostA", DefaultMaxLoad)
	r.UpdateHostLoad("hostA", 0.1)

	ev := r.NewAdmissionEvent()
	r.EnqueuePlatform("linux-x86_64", ev)

	r.UnregisterMonitor("linux-x86_64", "hostA")

	assert.True(t, r.KnownPlatform("linux-x86_64"), "platform queue must survive a monitor disconnect")
	snap := r.Snapshot()
	assert.NotContains(t, snap.HostLoads, "hostA")
}

func TestSelectWorkerPicksLeastLoadedHost(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterMonitor("linux-x86_64", "A", DefaultMaxLoad)
	r.RegisterMonitor("linux-x86_64", "B", DefaultMaxLoad)
	r.UpdateHostLoad("A", 0.2)
	r.UpdateHostLoad("B", 0.1)
	r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "A"})
	r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "B"})

	reg, ok := r.SelectWorker([]string{"build"}, "")
	require.True(t, ok)
	assert.Equal(t, "B", reg.HostName)
}

func TestSelectWorkerRestrictsToRequiredPlatform(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterMonitor("linux-x86_64", "A", DefaultMaxLoad)
	r.RegisterMonitor("linux-aarch64", "B", DefaultMaxLoad)
	r.UpdateHostLoad("A", 0.5)
	r.UpdateHostLoad("B", 0.01)
	r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "A"})
	r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "B"})

	reg, ok := r.SelectWorker([]string{"build"}, "linux-x86_64")
	require.True(t, ok)
	assert.Equal(t, "A", reg.HostName, "B has lower load but is on the wrong platform")
}

func TestSelectWorkerTieBreaksDeterministically(t *testing.T) {
	// Three unmonitored hosts all carry the sentinel load; the tie must
	// break the same way every time: requestedWorkers order first, then
	// sorted host name.
	for i := 0; i < 10; i++ {
		r := New(FilePaths{})
		r.RegisterWorker(&WorkerRegistration{WorkerType: "test", HostName: "hostC"})
		r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "hostB"})
		r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "hostA"})

		reg, ok := r.SelectWorker([]string{"build", "test"}, "")
		require.True(t, ok)
		assert.Equal(t, "build", reg.WorkerType)
		assert.Equal(t, "hostA", reg.HostName)
	}
}

func TestSelectWorkerConsumesRegistrationAtMostOnce(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterWorker(&WorkerRegistration{WorkerType: "build", HostName: "A"})

	_, ok := r.SelectWorker([]string{"build"}, "")
	require.True(t, ok)

	_, ok = r.SelectWorker([]string{"build"}, "")
	assert.False(t, ok, "the only parked worker was already consumed")
}

func TestDispatchScanFiresExactlyOnceAcrossMultiplePlatformCopies(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterMonitor("linux-x86_64", "A", DefaultMaxLoad)
	r.RegisterMonitor("linux-aarch64", "B", DefaultMaxLoad)
	r.UpdateHostLoad("A", 0.1)
	r.UpdateHostLoad("B", 0.1)

	ev := r.NewAdmissionEvent()
	n := r.EnqueueAllPlatforms(ev)
	require.Equal(t, 2, n)

	progress := r.DispatchScan([]string{"linux-x86_64", "linux-aarch64"})
	assert.True(t, progress)
	assert.True(t, ev.Fired())

	// A second scan must not find anything left to release — the stale
	// copy on the other platform's queue was already drained.
	progress = r.DispatchScan([]string{"linux-x86_64", "linux-aarch64"})
	assert.False(t, progress)
}

func TestDispatchScanWaitsForCapacity(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterMonitor("linux-x86_64", "A", DefaultMaxLoad)
	r.UpdateHostLoad("A", 4.0) // over maxLoad

	ev := r.NewAdmissionEvent()
	r.EnqueuePlatform("linux-x86_64", ev)

	progress := r.DispatchScan([]string{"linux-x86_64"})
	assert.False(t, progress)
	assert.False(t, ev.Fired())

	r.UpdateHostLoad("A", 0.1)
	progress = r.DispatchScan([]string{"linux-x86_64"})
	assert.True(t, progress)
	assert.True(t, ev.Fired())
}

func TestAdmissionEventWaitRespectsContextCancellation(t *testing.T) {
	ev := (&Registry{}).NewAdmissionEvent()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ev.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAddLoadAppliesEstimatedLoadFudge(t *testing.T) {
	r := New(FilePaths{})
	r.RegisterMonitor("linux-x86_64", "A", DefaultMaxLoad)
	r.UpdateHostLoad("A", 0.1)

	r.AddLoad("A", DefaultEstimatedLoad)

	snap := r.Snapshot()
	assert.InDelta(t, 0.6, snap.HostLoads["A"], 1e-9)
}
