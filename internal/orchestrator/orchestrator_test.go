package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

func newTestOrchestrator(eng *fakeEngine, cfg Config) *Orchestrator {
	return New(Options{
		Engine: eng,
		Catalog: &fakeResolver{models: map[string]types.Model{
			"modela": {ID: "modela", Name: "modela", Image: "mhubai/modela:v1"},
		}},
		Publisher: NewMemoryPublisher(),
		Config:    cfg,
	})
}

func validRequest(t *testing.T) types.RunRequest {
	t.Helper()
	return types.RunRequest{
		Image:     "mhubai/modela:v1",
		InputDir:  t.TempDir(),
		OutputDir: t.TempDir(),
	}
}

// waitForState polls until the job reaches want or the deadline expires.
func waitForState(t *testing.T, o *Orchestrator, id string, want types.JobState) types.JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v := o.Registry().Get(id).View()
		if v.State == want {
			return v
		}
		if v.State.Terminal() && v.State != want {
			t.Fatalf("job reached %s, wanted %s (reason %q)", v.State, want, v.Reason)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job never reached %s (now %s)", want, o.Registry().Get(id).View().State)
	return types.JobView{}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.logLines = []string{"starting model", "done"}
	o := newTestOrchestrator(eng, Config{AutoPull: true})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)

	v := waitForState(t, o, id, types.JobCompleted)
	assert.Equal(t, 0, v.ExitCode)
	assert.Empty(t, v.Reason)
	assert.NotZero(t, v.StartedUnix)
	assert.NotZero(t, v.FinishedUnix)
	// Image was already present, no pull happened.
	assert.Empty(t, eng.pulled)

	// The terminal state is reached exactly once and stays put.
	for i := 0; i < 3; i++ {
		assert.Equal(t, types.JobCompleted, o.Registry().Get(id).State())
	}
}

func TestSubmitAutoPullsAbsentImage(t *testing.T) {
	eng := newFakeEngine()
	eng.pullLines = []string{"v1: Pulling from mhubai/modela"}
	o := newTestOrchestrator(eng, Config{AutoPull: true})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)

	waitForState(t, o, id, types.JobCompleted)
	require.Equal(t, []string{"mhubai/modela:v1"}, eng.pulled)
}

func TestPullFailureFailsJob(t *testing.T) {
	eng := newFakeEngine()
	eng.pullErr = engine.ErrPull("mhubai/modela:v1", errors.New("registry down"))
	o := newTestOrchestrator(eng, Config{AutoPull: true})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)

	v := waitForState(t, o, id, types.JobFailed)
	assert.Equal(t, ReasonPullError, v.Reason)
	assert.Zero(t, eng.created, "no container may be created after a failed pull")
}

func TestAutoPullDisabledFailsOnAbsentImage(t *testing.T) {
	eng := newFakeEngine()
	eng.createErr = engine.ErrImageNotFound("mhubai/modela:v1")
	o := newTestOrchestrator(eng, Config{AutoPull: false})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)

	v := waitForState(t, o, id, types.JobFailed)
	assert.Equal(t, ReasonImageNotFound, v.Reason)
	assert.Empty(t, eng.pulled)
}

func TestInvalidMountFailsWithoutContainer(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.createErr = engine.ErrInvalidMount("/does/not/exist")
	o := newTestOrchestrator(eng, Config{})

	req := validRequest(t)
	req.InputDir = "/does/not/exist"
	id, err := o.Submit(req)
	require.NoError(t, err)

	v := waitForState(t, o, id, types.JobFailed)
	assert.Equal(t, ReasonInvalidMount, v.Reason)
	_, hasHandle := o.Registry().Get(id).Handle()
	assert.False(t, hasHandle, "no container handle may exist for a failed start")
}

func TestNonZeroExitRecordsCode(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.exitCode = 2
	o := newTestOrchestrator(eng, Config{})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)

	v := waitForState(t, o, id, types.JobFailed)
	assert.Equal(t, ReasonNonZeroExit, v.Reason)
	assert.Equal(t, 2, v.ExitCode)
}

func TestCancelRunningJob(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.waitCh = make(chan struct{}) // container runs until killed
	o := newTestOrchestrator(eng, Config{KillGrace: time.Second})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)
	waitForState(t, o, id, types.JobRunning)

	require.NoError(t, o.Cancel(id))
	v := waitForState(t, o, id, types.JobKilled)
	assert.Equal(t, ReasonCancelled, v.Reason)

	// Cancelling again reports AlreadyTerminal and changes nothing.
	err = o.Cancel(id)
	assert.True(t, IsAlreadyTerminal(err))
	after := o.Registry().Get(id).View()
	assert.Equal(t, v.State, after.State)
	assert.Equal(t, v.ExitCode, after.ExitCode)
}

func TestCancelSurvivesEngineKillFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.waitCh = make(chan struct{})
	eng.killErr = errors.New("engine hung")
	o := newTestOrchestrator(eng, Config{KillGrace: 50 * time.Millisecond})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)
	waitForState(t, o, id, types.JobRunning)

	require.NoError(t, o.Cancel(id))
	// Force-marked killed despite the engine error.
	waitForState(t, o, id, types.JobKilled)
}

func TestCancelUnknownJob(t *testing.T) {
	o := newTestOrchestrator(newFakeEngine(), Config{})
	assert.True(t, IsJobNotFound(o.Cancel("nope")))
}

func TestKillAllMixedStates(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	o := newTestOrchestrator(eng, Config{KillGrace: time.Second})

	// One job that completes on its own.
	doneID, err := o.Submit(validRequest(t))
	require.NoError(t, err)
	waitForState(t, o, doneID, types.JobCompleted)

	// Three jobs that keep running.
	eng.mu.Lock()
	eng.waitCh = make(chan struct{})
	eng.mu.Unlock()
	var running []string
	for i := 0; i < 3; i++ {
		id, err := o.Submit(validRequest(t))
		require.NoError(t, err)
		waitForState(t, o, id, types.JobRunning)
		running = append(running, id)
	}

	resp := o.KillAll()
	assert.Equal(t, 3, resp.Killed)
	require.Len(t, resp.Results, 4)
	outcomes := map[string]string{}
	for _, r := range resp.Results {
		outcomes[r.JobID] = r.Outcome
	}
	assert.Equal(t, "already_terminal", outcomes[doneID])
	for _, id := range running {
		assert.Equal(t, "killed", outcomes[id])
		waitForState(t, o, id, types.JobKilled)
	}
	// The completed job is untouched.
	assert.Equal(t, types.JobCompleted, o.Registry().Get(doneID).State())
}

func TestSameInputPolicy(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.waitCh = make(chan struct{})

	input := t.TempDir()

	// Restricted: second submit on the same input volume is rejected.
	o := newTestOrchestrator(eng, Config{AllowConcurrentSameInput: false, KillGrace: time.Second})
	req := validRequest(t)
	req.InputDir = input
	id, err := o.Submit(req)
	require.NoError(t, err)
	waitForState(t, o, id, types.JobRunning)

	req2 := validRequest(t)
	req2.InputDir = input
	_, err = o.Submit(req2)
	assert.True(t, IsInputBusy(err))

	// Permissive: the same submit goes through.
	o2 := newTestOrchestrator(eng, Config{AllowConcurrentSameInput: true, KillGrace: time.Second})
	_, err = o2.Submit(req)
	require.NoError(t, err)
	_, err = o2.Submit(req2)
	require.NoError(t, err)
	o.KillAll()
	o2.KillAll()
}

func TestRunTimeoutKillsJob(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.waitCh = make(chan struct{}) // container would run forever
	o := newTestOrchestrator(eng, Config{KillGrace: time.Second, RunTimeout: 50 * time.Millisecond})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)

	v := waitForState(t, o, id, types.JobKilled)
	assert.Equal(t, ReasonTimeout, v.Reason)

	// The engine kill runs on its own goroutine; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		eng.mu.Lock()
		killed := len(eng.killed)
		eng.mu.Unlock()
		if killed > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("engine kill never issued on timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunTimeoutSparesFastJobs(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	o := newTestOrchestrator(eng, Config{RunTimeout: 5 * time.Second})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)
	v := waitForState(t, o, id, types.JobCompleted)
	assert.Empty(t, v.Reason)
}

func TestConcurrentSameInputSubmitsAdmitOne(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.waitCh = make(chan struct{})
	o := newTestOrchestrator(eng, Config{AllowConcurrentSameInput: false, KillGrace: time.Second})

	input, output := t.TempDir(), t.TempDir()
	const n = 8
	var wg sync.WaitGroup
	var admitted, busy int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Submit(types.RunRequest{Image: "mhubai/modela:v1", InputDir: input, OutputDir: output})
			switch {
			case err == nil:
				atomic.AddInt32(&admitted, 1)
			case IsInputBusy(err):
				atomic.AddInt32(&busy, 1)
			default:
				t.Errorf("unexpected submit error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, admitted, "exactly one submit may hold the input volume")
	assert.EqualValues(t, n-1, busy)
	o.KillAll()
}

func TestSubmitResolvesModelThroughCatalog(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	o := newTestOrchestrator(eng, Config{})

	req := validRequest(t)
	req.Image = ""
	req.Model = "modela"
	id, err := o.Submit(req)
	require.NoError(t, err)
	v := waitForState(t, o, id, types.JobCompleted)
	assert.Equal(t, "mhubai/modela:v1", v.Image)
}

func TestSubmitRejectsEmptyRequest(t *testing.T) {
	o := newTestOrchestrator(newFakeEngine(), Config{})
	_, err := o.Submit(types.RunRequest{InputDir: "/a", OutputDir: "/b"})
	assert.True(t, IsInvalidRequest(err))
}

func TestSubmitAppliesDefaultArgs(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	o := newTestOrchestrator(eng, Config{DefaultArgs: []string{"--workflow", "default", "--print"}})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)
	waitForState(t, o, id, types.JobCompleted)
	assert.Equal(t, []string{"--workflow", "default", "--print"}, o.Registry().Get(id).Request.Args)
}

func TestLogSubscribersSeeSameOrder(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	eng.logLines = []string{"l1", "l2", "l3", "l4"}
	o := newTestOrchestrator(eng, Config{})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)

	ctx := context.Background()
	early, err := o.SubscribeLogs(ctx, id)
	require.NoError(t, err)

	waitForState(t, o, id, types.JobCompleted)

	late, err := o.SubscribeLogs(ctx, id)
	require.NoError(t, err)

	collect := func(ch <-chan string) []string {
		var out []string
		for line := range ch {
			out = append(out, line)
		}
		return out
	}
	a, b := collect(early), collect(late)
	assert.Equal(t, []string{"l1", "l2", "l3", "l4"}, a)
	assert.Equal(t, a, b, "late subscriber must see the same ordered sequence")
}

func TestSubscribeLogsUnknownJob(t *testing.T) {
	o := newTestOrchestrator(newFakeEngine(), Config{})
	_, err := o.SubscribeLogs(context.Background(), "nope")
	assert.True(t, IsJobNotFound(err))
}

func TestPullAndRemoveSerializedPerRef(t *testing.T) {
	eng := newFakeEngine()
	o := newTestOrchestrator(eng, Config{})
	ctx := context.Background()

	require.NoError(t, o.PullImage(ctx, "mhubai/modela:v1", nil))
	require.NoError(t, o.RemoveImage(ctx, "mhubai/modela:v1"))
	err := o.RemoveImage(ctx, "mhubai/modela:v1")
	assert.True(t, engine.IsNotFound(err))
}

func TestEventsPublishedInOrder(t *testing.T) {
	eng := newFakeEngine()
	eng.images["mhubai/modela:v1"] = true
	pub := NewMemoryPublisher()
	o := New(Options{Engine: eng, Catalog: &fakeResolver{}, Publisher: pub, Config: Config{}})

	id, err := o.Submit(validRequest(t))
	require.NoError(t, err)
	waitForState(t, o, id, types.JobCompleted)

	var names []string
	for _, e := range pub.Events() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"job_submitted", "job_running", "job_completed"}, names)
}
