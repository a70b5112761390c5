package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// Failure reasons recorded on failed jobs.
const (
	ReasonPullError         = "pull_error"
	ReasonImageNotFound     = "image_not_found"
	ReasonInvalidMount      = "invalid_mount"
	ReasonEngineUnavailable = "engine_unavailable"
	ReasonNonZeroExit       = "non_zero_exit"
	ReasonCancelled         = "cancelled"
	ReasonTimeout           = "timeout"
)

// Job is the orchestrator's unit of work: one execution attempt of a model
// image against an input/output volume pair. The request snapshot and id are
// immutable; everything else is guarded by mu. At most one container handle
// is ever associated with a job.
type Job struct {
	ID      string
	Request types.RunRequest // snapshot taken at submission
	Image   string           // resolved image reference

	mu            sync.Mutex
	state         types.JobState
	reason        string
	exitCode      int
	created       time.Time
	started       time.Time
	finished      time.Time
	handle        engine.ContainerHandle
	hasHandle     bool
	killRequested bool
	killReason    string
	cancelRun     context.CancelFunc

	logs *logBuffer
}

func newJob(id string, req types.RunRequest, image string) *Job {
	return &Job{
		ID:      id,
		Request: req,
		Image:   image,
		state:   types.JobQueued,
		created: time.Now(),
		logs:    newLogBuffer(),
	}
}

// advance moves the job to a non-terminal state. It refuses to leave a
// terminal state and reports whether the transition was applied.
func (j *Job) advance(to types.JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = to
	if to == types.JobRunning {
		j.started = time.Now()
	}
	return true
}

// finish moves the job to a terminal state exactly once and closes the log
// stream. Later finish calls (for example a forced kill racing a normal
// exit) are ignored.
func (j *Job) finish(state types.JobState, reason string, exitCode int) bool {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.state = state
	j.reason = reason
	j.exitCode = exitCode
	j.finished = time.Now()
	j.mu.Unlock()
	j.logs.Close()
	return true
}

// setHandle records the single container handle for this job.
func (j *Job) setHandle(h engine.ContainerHandle) {
	j.mu.Lock()
	j.handle = h
	j.hasHandle = true
	j.mu.Unlock()
}

// Handle returns the container handle, if one was ever created.
func (j *Job) Handle() (engine.ContainerHandle, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.handle, j.hasHandle
}

// requestKill flags the job for cancellation and interrupts its run context.
// Returns false when the job is already terminal.
func (j *Job) requestKill() bool {
	return j.requestKillForReason(ReasonCancelled)
}

// requestKillForReason is requestKill with an explicit terminal reason, used
// by the run timeout. The first requested reason sticks.
func (j *Job) requestKillForReason(reason string) bool {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return false
	}
	if !j.killRequested {
		j.killReason = reason
	}
	j.killRequested = true
	cancel := j.cancelRun
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (j *Job) killWasRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.killRequested
}

// terminalKillReason returns the reason recorded by the kill request, falling
// back to cancelled for kills that never went through requestKill (for
// example a cancelled base context at shutdown).
func (j *Job) terminalKillReason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.killReason != "" {
		return j.killReason
	}
	return ReasonCancelled
}

func (j *Job) setCancelFunc(cancel context.CancelFunc) {
	j.mu.Lock()
	j.cancelRun = cancel
	j.mu.Unlock()
}

// State returns the current lifecycle state.
func (j *Job) State() types.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// View returns the read-only projection served by the API.
func (j *Job) View() types.JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := types.JobView{
		ID:          j.ID,
		Request:     j.Request,
		Image:       j.Image,
		State:       j.state,
		Reason:      j.reason,
		ExitCode:    j.exitCode,
		CreatedUnix: j.created.Unix(),
	}
	if !j.started.IsZero() {
		v.StartedUnix = j.started.Unix()
	}
	if !j.finished.IsZero() {
		v.FinishedUnix = j.finished.Unix()
	}
	return v
}
