package engine

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// UDockerClient drives the unprivileged udocker CLI. udocker has no daemon:
// a running container is the `udocker run` process itself, so the client
// keeps one process record per handle (key: container name).
type UDockerClient struct {
	executable  string
	imageFilter string
	run         commandRunner
	env         []string
	log         zerolog.Logger

	mu    sync.Mutex
	procs map[string]*udockerProc
	seq   int
}

type udockerProc struct {
	cmd  *exec.Cmd
	done chan struct{}
	exit int

	lmu    sync.Mutex
	lines  []string
	closed bool
	wake   chan struct{} // closed and replaced on every append
}

// UDockerOptions configures a UDockerClient.
type UDockerOptions struct {
	Executable  string
	ImageFilter string
	Logger      zerolog.Logger
}

// NewUDockerClient constructs a client for the fallback udocker backend.
func NewUDockerClient(opts UDockerOptions) *UDockerClient {
	exe := strings.TrimSpace(opts.Executable)
	if exe == "" {
		exe = "udocker"
	}
	return &UDockerClient{
		executable:  exe,
		imageFilter: opts.ImageFilter,
		run:         osRunner{},
		env:         buildEnv(exe),
		log:         opts.Logger,
		procs:       make(map[string]*udockerProc),
	}
}

func (c *UDockerClient) Name() string { return "udocker" }

func (c *UDockerClient) Version(ctx context.Context) (string, error) {
	out, _, code, err := c.run.Output(ctx, c.env, c.executable, "--version")
	if err != nil || code != 0 {
		return "", ErrEngineUnavailable("udocker unavailable: " + c.executable)
	}
	return firstLine(out), nil
}

func (c *UDockerClient) ListImages(ctx context.Context) ([]types.LocalImage, error) {
	out, stderr, code, err := c.run.Output(ctx, c.env, c.executable, "images")
	if err != nil {
		return nil, ErrEngineUnavailable("udocker images: " + err.Error())
	}
	if code != 0 {
		return nil, ErrEngineUnavailable("udocker images: " + firstLine(stderr))
	}
	return parseUDockerImages(out, c.imageFilter), nil
}

// parseUDockerImages reads `udocker images` output: one "repo:tag ..." per
// line after an optional header. udocker reports neither digest nor size.
func parseUDockerImages(out, filter string) []types.LocalImage {
	var images []types.LocalImage
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		ref := fields[0]
		if !strings.Contains(ref, ":") {
			continue // header or noise
		}
		if filter != "" && !strings.HasPrefix(ref, filter) {
			continue
		}
		images = append(images, types.LocalImage{Ref: ref})
	}
	return images
}

func (c *UDockerClient) PullImage(ctx context.Context, ref string, onEvent func(PullEvent)) error {
	code, err := c.run.Stream(ctx, c.env, func(line string) {
		if onEvent != nil {
			onEvent(PullEvent{Line: line})
		}
	}, c.executable, "pull", ref)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPull(ref, err)
	}
	if code != 0 {
		return ErrPull(ref, fmt.Errorf("udocker pull exited %d", code))
	}
	return nil
}

func (c *UDockerClient) RemoveImage(ctx context.Context, ref string) error {
	_, stderr, code, err := c.run.Output(ctx, c.env, c.executable, "rmi", ref)
	if err != nil {
		return ErrEngineUnavailable("udocker rmi: " + err.Error())
	}
	if code != 0 {
		if strings.Contains(strings.ToLower(stderr), "not found") {
			return ErrNotFound(ref)
		}
		return ErrEngineUnavailable("udocker rmi: " + firstLine(stderr))
	}
	return nil
}

func (c *UDockerClient) CreateAndStart(ctx context.Context, spec RunSpec) (ContainerHandle, error) {
	if err := validateMountDir(spec.InputDir); err != nil {
		return ContainerHandle{}, err
	}
	if err := validateMountDir(spec.OutputDir); err != nil {
		return ContainerHandle{}, err
	}

	c.mu.Lock()
	c.seq++
	name := fmt.Sprintf("mhub-run-%d-%d", time.Now().Unix(), c.seq)
	c.mu.Unlock()

	// GPU runs need a named container prepared with the nvidia setup step
	// before it can be started.
	target := spec.Image
	if len(spec.GPUs) > 0 {
		if _, stderr, code, err := c.run.Output(ctx, c.env, c.executable, "create", "--name="+name, spec.Image); err != nil || code != 0 {
			if code != 0 && strings.Contains(strings.ToLower(stderr), "not found") {
				return ContainerHandle{}, ErrImageNotFound(spec.Image)
			}
			return ContainerHandle{}, ErrEngineUnavailable("udocker create: " + firstLine(stderr))
		}
		if _, stderr, code, err := c.run.Output(ctx, c.env, c.executable, "setup", "--nvidia", "--force", name); err != nil || code != 0 {
			return ContainerHandle{}, ErrEngineUnavailable("udocker setup: " + firstLine(stderr))
		}
		target = name
	}

	args := []string{"run", "--rm", "-t",
		"-v", spec.InputDir + ":" + containerInputPath + ":ro",
		"-v", spec.OutputDir + ":" + containerOutputPath + ":rw",
		target,
	}
	args = append(args, spec.Args...)

	cmd := exec.Command(c.executable, args...)
	cmd.Env = c.env
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ContainerHandle{}, ErrEngineUnavailable("udocker run: " + err.Error())
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return ContainerHandle{}, ErrEngineUnavailable("udocker run: " + err.Error())
	}

	p := &udockerProc{cmd: cmd, done: make(chan struct{}), wake: make(chan struct{})}
	c.mu.Lock()
	c.procs[name] = p
	c.mu.Unlock()

	// Drain output into the proc's line buffer, then reap the process.
	// Lines are always flushed before done closes, so Wait observers
	// never get ahead of log delivery.
	go func() {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			p.append(sc.Text())
		}
		exit := 0
		if werr := cmd.Wait(); werr != nil {
			exit = -1
			if ee, ok := werr.(*exec.ExitError); ok {
				exit = ee.ExitCode()
			}
		}
		p.lmu.Lock()
		p.exit = exit
		p.closed = true
		close(p.wake)
		p.lmu.Unlock()
		close(p.done)
	}()

	c.log.Debug().Str("container", name).Str("image", spec.Image).Msg("udocker run started")
	return ContainerHandle{ID: name, Backend: "udocker"}, nil
}

func (p *udockerProc) append(line string) {
	p.lmu.Lock()
	p.lines = append(p.lines, line)
	close(p.wake)
	p.wake = make(chan struct{})
	p.lmu.Unlock()
}

func (c *UDockerClient) proc(id string) (*udockerProc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.procs[id]
	return p, ok
}

func (c *UDockerClient) StreamLogs(ctx context.Context, h ContainerHandle, onLine func(string)) error {
	p, ok := c.proc(h.ID)
	if !ok {
		return ErrNotFound(h.ID)
	}
	next := 0
	for {
		p.lmu.Lock()
		for next < len(p.lines) {
			line := p.lines[next]
			next++
			p.lmu.Unlock()
			onLine(line)
			p.lmu.Lock()
		}
		if p.closed {
			p.lmu.Unlock()
			return nil
		}
		wake := p.wake
		p.lmu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

func (c *UDockerClient) Wait(ctx context.Context, h ContainerHandle) (int, error) {
	p, ok := c.proc(h.ID)
	if !ok {
		return -1, ErrNotFound(h.ID)
	}
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.done:
	}
	c.mu.Lock()
	delete(c.procs, h.ID)
	c.mu.Unlock()
	return p.exit, nil
}

func (c *UDockerClient) Kill(ctx context.Context, h ContainerHandle) error {
	p, ok := c.proc(h.ID)
	if !ok {
		return nil // already reaped: no-op success
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

func (c *UDockerClient) ListGPUs(ctx context.Context) ([]types.GPUDevice, error) {
	out, _, code, err := c.run.Output(ctx, c.env, "nvidia-smi",
		"--query-gpu="+nvidiaSMIQuery, "--format=csv,noheader,nounits")
	if err != nil || code != 0 {
		return nil, nil
	}
	return parseNvidiaSMI(out), nil
}
