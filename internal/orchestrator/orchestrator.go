package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

const defaultKillGrace = 10 * time.Second

// modelResolver maps a catalog model id to its descriptor. Satisfied by
// *catalog.Service.
type modelResolver interface {
	Get(id string) (types.Model, error)
}

// Config holds orchestrator policy knobs.
type Config struct {
	// AutoPull pulls absent images before starting instead of failing.
	AutoPull bool
	// KillGrace bounds the wait for engine confirmation after a kill
	// request before the job is force-marked killed.
	KillGrace time.Duration
	// RunTimeout kills runs still executing after this long. Zero disables
	// the timeout. The clock starts when the container reaches running,
	// so pull time never counts against it.
	RunTimeout time.Duration
	// AllowConcurrentSameInput permits two live jobs to share an input
	// volume. When off, such submits are rejected.
	AllowConcurrentSameInput bool
	// DefaultArgs are appended to every container command line when the
	// request carries no explicit arguments.
	DefaultArgs []string
}

// Options wires an Orchestrator.
type Options struct {
	Engine  engine.Client
	Catalog modelResolver
	// ClientFactory builds a client against an overridden executable for
	// requests that carry one. Optional; overrides are ignored when nil.
	ClientFactory func(executable string) engine.Client
	Publisher     EventPublisher
	Logger        zerolog.Logger
	Config        Config
}

// Orchestrator drives submitted runs through
// queued -> pulling -> starting -> running -> terminal, one goroutine per
// job, and owns the process-wide job registry.
type Orchestrator struct {
	eng       engine.Client
	resolver  modelResolver
	factory   func(string) engine.Client
	publisher EventPublisher
	log       zerolog.Logger
	cfg       Config

	registry *Registry
	locks    *refLocks

	baseCtx context.Context
	stop    context.CancelFunc
}

// New constructs an orchestrator. Call Shutdown to cancel in-flight jobs.
func New(opts Options) *Orchestrator {
	pub := opts.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	cfg := opts.Config
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		eng:       opts.Engine,
		resolver:  opts.Catalog,
		factory:   opts.ClientFactory,
		publisher: pub,
		log:       opts.Logger,
		cfg:       cfg,
		registry:  NewRegistry(),
		locks:     newRefLocks(),
		baseCtx:   ctx,
		stop:      cancel,
	}
}

// Registry exposes the job table for read paths (listJobs, status).
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Shutdown cancels the run contexts of all in-flight jobs.
func (o *Orchestrator) Shutdown() { o.stop() }

// resolveImage turns a run request into a concrete image reference.
func (o *Orchestrator) resolveImage(req types.RunRequest) (string, error) {
	if ref := strings.TrimSpace(req.Image); ref != "" {
		return ref, nil
	}
	if id := strings.TrimSpace(req.Model); id != "" {
		m, err := o.resolver.Get(id)
		if err != nil {
			return "", err
		}
		return m.Image, nil
	}
	return "", ErrInvalidRequest("either model or image is required")
}

// Submit validates the request, registers a job and returns its id without
// blocking; the state machine advances on the job's own goroutine.
func (o *Orchestrator) Submit(req types.RunRequest) (string, error) {
	image, err := o.resolveImage(req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.InputDir) == "" || strings.TrimSpace(req.OutputDir) == "" {
		return "", ErrInvalidRequest("input_dir and output_dir are required")
	}
	if len(req.Args) == 0 {
		req.Args = append([]string(nil), o.cfg.DefaultArgs...)
	}

	job := newJob(uuid.NewString(), req, image)
	if err := o.registry.insert(job, o.cfg.AllowConcurrentSameInput); err != nil {
		return "", err
	}
	jobsActive.Inc()
	o.publisher.Publish(Event{Name: "job_submitted", JobID: job.ID, Fields: map[string]any{"image": image}})
	go o.run(job)
	return job.ID, nil
}

// clientFor returns the engine client serving a job, honoring a per-request
// executable override when a factory is configured.
func (o *Orchestrator) clientFor(job *Job) engine.Client {
	if exe := strings.TrimSpace(job.Request.Executable); exe != "" && o.factory != nil {
		return o.factory(exe)
	}
	return o.eng
}

// run drives one job to a terminal state.
func (o *Orchestrator) run(job *Job) {
	defer jobsActive.Dec()
	ctx, cancel := context.WithCancel(o.baseCtx)
	defer cancel()
	job.setCancelFunc(cancel)
	eng := o.clientFor(job)

	fail := func(reason string, err error) {
		if job.killWasRequested() {
			o.markKilled(job)
			return
		}
		o.log.Warn().Str("job", job.ID).Str("reason", reason).Err(err).Msg("job failed")
		if job.finish(types.JobFailed, reason, -1) {
			jobsTotal.WithLabelValues(string(types.JobFailed)).Inc()
			o.publisher.Publish(Event{Name: "job_failed", JobID: job.ID, Fields: map[string]any{"reason": reason}})
		}
	}

	// Pull phase, only when the image is absent.
	present, err := o.imagePresent(ctx, eng, job.Image)
	if err != nil {
		fail(ReasonEngineUnavailable, err)
		return
	}
	if !present && o.cfg.AutoPull {
		if !job.advance(types.JobPulling) {
			return
		}
		o.publisher.Publish(Event{Name: "job_pulling", JobID: job.ID, Fields: map[string]any{"image": job.Image}})
		release := o.locks.acquire(job.Image)
		err := eng.PullImage(ctx, job.Image, func(ev engine.PullEvent) {
			job.logs.Append(ev.Line)
		})
		release()
		if err != nil {
			if ctx.Err() != nil {
				o.markKilled(job)
				return
			}
			pullsTotal.WithLabelValues("error").Inc()
			fail(ReasonPullError, err)
			return
		}
		pullsTotal.WithLabelValues("ok").Inc()
	}

	// Start phase.
	if !job.advance(types.JobStarting) {
		return
	}
	handle, err := eng.CreateAndStart(ctx, engine.RunSpec{
		Image:     job.Image,
		InputDir:  job.Request.InputDir,
		OutputDir: job.Request.OutputDir,
		GPUs:      job.Request.GPUs,
		Args:      job.Request.Args,
	})
	if err != nil {
		switch {
		case engine.IsImageNotFound(err):
			fail(ReasonImageNotFound, err)
		case engine.IsInvalidMount(err):
			fail(ReasonInvalidMount, err)
		default:
			fail(ReasonEngineUnavailable, err)
		}
		return
	}
	job.setHandle(handle)
	if !job.advance(types.JobRunning) {
		// Cancelled between create and start bookkeeping; reap the container.
		o.killContainer(job, eng)
		return
	}
	o.publisher.Publish(Event{Name: "job_running", JobID: job.ID, Fields: map[string]any{"container": handle.ID}})

	if o.cfg.RunTimeout > 0 {
		timer := time.AfterFunc(o.cfg.RunTimeout, func() {
			if job.requestKillForReason(ReasonTimeout) {
				o.log.Warn().Str("job", job.ID).Dur("timeout", o.cfg.RunTimeout).Msg("run exceeded timeout; killing")
				o.killContainer(job, eng)
			}
		})
		defer timer.Stop()
	}

	// Stream logs into the job buffer while waiting for the exit code.
	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		if err := eng.StreamLogs(ctx, handle, job.logs.Append); err != nil && ctx.Err() == nil {
			o.log.Warn().Str("job", job.ID).Err(err).Msg("log stream ended early")
		}
	}()

	exit, err := eng.Wait(ctx, handle)
	if err != nil {
		if ctx.Err() != nil {
			o.markKilled(job)
			return
		}
		<-logsDone
		fail(ReasonEngineUnavailable, err)
		return
	}

	// Drain remaining log lines before the terminal transition so no
	// subscriber sees end-of-stream ahead of flushed output.
	select {
	case <-logsDone:
	case <-time.After(5 * time.Second):
	}

	if job.killWasRequested() {
		o.markKilled(job)
		return
	}
	if exit == 0 {
		if job.finish(types.JobCompleted, "", 0) {
			jobsTotal.WithLabelValues(string(types.JobCompleted)).Inc()
			o.publisher.Publish(Event{Name: "job_completed", JobID: job.ID, Fields: map[string]any{}})
		}
		return
	}
	if job.finish(types.JobFailed, ReasonNonZeroExit, exit) {
		jobsTotal.WithLabelValues(string(types.JobFailed)).Inc()
		o.publisher.Publish(Event{Name: "job_failed", JobID: job.ID, Fields: map[string]any{"exit": exit}})
	}
}

// imagePresent checks the local image list for ref.
func (o *Orchestrator) imagePresent(ctx context.Context, eng engine.Client, ref string) (bool, error) {
	images, err := eng.ListImages(ctx)
	if err != nil {
		return false, err
	}
	for _, img := range images {
		if img.Ref == ref {
			return true, nil
		}
	}
	return false, nil
}

// markKilled finalizes a killed job with the reason its kill was requested
// for (cancelled, timeout).
func (o *Orchestrator) markKilled(job *Job) {
	if job.finish(types.JobKilled, job.terminalKillReason(), -1) {
		jobsTotal.WithLabelValues(string(types.JobKilled)).Inc()
		o.publisher.Publish(Event{Name: "job_killed", JobID: job.ID, Fields: map[string]any{}})
	}
}

// killContainer tells the engine to kill the job's container, bounded by the
// grace period. Engine errors on this path are logged, never surfaced.
func (o *Orchestrator) killContainer(job *Job, eng engine.Client) {
	handle, ok := job.Handle()
	if !ok {
		o.markKilled(job)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.KillGrace)
	defer cancel()
	if err := eng.Kill(ctx, handle); err != nil {
		o.log.Warn().Str("job", job.ID).Err(err).Msg("engine kill failed; forcing killed state")
	}
	o.markKilled(job)
}

// Cancel requests termination of a job in any non-terminal state. The job is
// force-marked killed within the grace period regardless of engine response.
func (o *Orchestrator) Cancel(jobID string) error {
	job := o.registry.Get(jobID)
	if job == nil {
		return ErrJobNotFound(jobID)
	}
	if !job.requestKill() {
		return ErrAlreadyTerminal(jobID)
	}
	o.publisher.Publish(Event{Name: "job_cancel_requested", JobID: job.ID, Fields: map[string]any{}})
	go o.killContainer(job, o.clientFor(job))
	return nil
}

// KillAll cancels every non-terminal job. One job's failure never stops the
// sweep; the aggregate reports a per-job outcome.
func (o *Orchestrator) KillAll() types.KillAllResponse {
	var resp types.KillAllResponse
	for _, job := range o.registry.All() {
		res := types.KillResult{JobID: job.ID}
		switch err := o.Cancel(job.ID); {
		case err == nil:
			res.Outcome = "killed"
			resp.Killed++
		case IsAlreadyTerminal(err):
			res.Outcome = "already_terminal"
		default:
			res.Outcome = err.Error()
		}
		resp.Results = append(resp.Results, res)
	}
	return resp
}

// SubscribeLogs returns the ordered log stream of a job. The channel closes
// once the job is terminal and all flushed lines were delivered.
func (o *Orchestrator) SubscribeLogs(ctx context.Context, jobID string) (<-chan string, error) {
	job := o.registry.Get(jobID)
	if job == nil {
		return nil, ErrJobNotFound(jobID)
	}
	return job.logs.Subscribe(ctx), nil
}

// PullImage fetches an image on behalf of the client, serialized against any
// other pull/remove on the same reference.
func (o *Orchestrator) PullImage(ctx context.Context, ref string, onEvent func(engine.PullEvent)) error {
	release := o.locks.acquire(ref)
	defer release()
	err := o.eng.PullImage(ctx, ref, onEvent)
	if err != nil {
		pullsTotal.WithLabelValues("error").Inc()
		return err
	}
	pullsTotal.WithLabelValues("ok").Inc()
	return nil
}

// RemoveImage deletes a local image, serialized against pulls of the same
// reference.
func (o *Orchestrator) RemoveImage(ctx context.Context, ref string) error {
	release := o.locks.acquire(ref)
	defer release()
	return o.eng.RemoveImage(ctx, ref)
}
