package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/MHubAI/SlicerMHubRunner/internal/backend"
	"github.com/MHubAI/SlicerMHubRunner/internal/catalog"
	"github.com/MHubAI/SlicerMHubRunner/internal/config"
	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/internal/gpu"
	"github.com/MHubAI/SlicerMHubRunner/internal/httpapi"
	"github.com/MHubAI/SlicerMHubRunner/internal/orchestrator"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8585"
	if v := os.Getenv("MHUBD_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8585")
	configPath := flag.String("config", os.Getenv("MHUBD_CONFIG"), "Optional config file (.yaml/.json/.toml)")
	backendName := flag.String("backend", "docker", "Container engine: docker or udocker")
	dockerExe := flag.String("docker-executable", "", "Path to the docker binary (default: docker on PATH)")
	udockerExe := flag.String("udocker-executable", "", "Path to the udocker binary (default: udocker on PATH)")
	catalogURL := flag.String("catalog-url", "", "Model index endpoint (default: the public index)")
	refreshCron := flag.String("catalog-refresh-cron", "", "Cron expression for background catalog refresh (empty disables)")
	imageRepo := flag.String("image-repo", "mhubai/", "Registry namespace model images live under")
	autoPull := flag.Bool("auto-pull", true, "Pull absent images before starting a run")
	killGrace := flag.Int("kill-grace-seconds", 0, "Seconds to wait for engine kill confirmation (0=default)")
	runTimeout := flag.Int("run-timeout-seconds", 0, "Kill runs still executing after this many seconds (0 disables)")
	defaultArgs := flag.String("default-args", "--workflow,default", "CSV of container args used when a run carries none")
	flag.Parse()

	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	if os.Getenv("MHUBD_ADDR") != "" {
		// The env default carries the same weight as an explicit -addr.
		setFlags["addr"] = true
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("svc", "mhubd").Logger()

	cfg := config.Config{
		Addr:               *addr,
		Backend:            *backendName,
		DockerExecutable:   *dockerExe,
		UDockerExecutable:  *udockerExe,
		CatalogURL:         *catalogURL,
		CatalogRefreshCron: *refreshCron,
		ImageRepo:          *imageRepo,
		AutoPull:           autoPull,
		KillGraceSeconds:   *killGrace,
		RunTimeoutSeconds:  *runTimeout,
		DefaultArgs:        splitCSV(*defaultArgs),
	}
	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		cfg = mergeConfig(fileCfg, cfg, setFlags)
	}
	cfg = fillDefaults(cfg)
	if err := cfg.Normalize(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	eng := newEngineClient(cfg, logger)
	factory := func(executable string) engine.Client {
		return newEngineClient(configWithExecutable(cfg, executable), logger)
	}

	cat := catalog.New(catalog.Options{
		Endpoint:  cfg.CatalogURL,
		ImageRepo: cfg.ImageRepo,
		Logger:    logger,
	})
	stopRefresh := func() {}
	if cfg.CatalogRefreshCron != "" {
		stop, err := cat.StartPeriodicRefresh(cfg.CatalogRefreshCron)
		if err != nil {
			log.Fatalf("invalid catalog refresh cron %q: %v", cfg.CatalogRefreshCron, err)
		}
		stopRefresh = stop
	}

	allowConcurrent := true
	if cfg.AllowConcurrentSameInput != nil {
		allowConcurrent = *cfg.AllowConcurrentSameInput
	}
	orch := orchestrator.New(orchestrator.Options{
		Engine:        eng,
		Catalog:       cat,
		ClientFactory: factory,
		Logger:        logger,
		Config: orchestrator.Config{
			AutoPull:                 *cfg.AutoPull,
			KillGrace:                time.Duration(cfg.KillGraceSeconds) * time.Second,
			RunTimeout:               time.Duration(cfg.RunTimeoutSeconds) * time.Second,
			AllowConcurrentSameInput: allowConcurrent,
			DefaultArgs:              cfg.DefaultArgs,
		},
	})

	svc := backend.New(cat, eng, orch, gpu.NewInventory(eng), logger)

	httpapi.SetLogger(logger)
	if cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	}
	if cfg.CORS.Enabled {
		httpapi.SetCORSOptions(true, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	}
	baseCtx, cancelBase := context.WithCancel(context.Background())
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("backend", eng.Name()).Msg("mhubd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopRefresh()
	cancelBase()
	orch.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
}

// newEngineClient builds the configured engine client.
func newEngineClient(cfg config.Config, logger zerolog.Logger) engine.Client {
	if cfg.Backend == "udocker" {
		return engine.NewUDockerClient(engine.UDockerOptions{
			Executable:  cfg.UDockerExecutable,
			ImageFilter: cfg.ImageRepo,
			Logger:      logger,
		})
	}
	return engine.NewDockerClient(engine.DockerOptions{
		Executable:  cfg.DockerExecutable,
		ImageFilter: cfg.ImageRepo,
		Logger:      logger,
	})
}

// configWithExecutable returns cfg with the active backend's executable
// replaced, for per-request overrides.
func configWithExecutable(cfg config.Config, executable string) config.Config {
	if cfg.Backend == "udocker" {
		cfg.UDockerExecutable = executable
	} else {
		cfg.DockerExecutable = executable
	}
	return cfg
}

// mergeConfig overlays file values with the flags the operator explicitly
// set. Flag defaults never clobber the file; fillDefaults covers whatever
// neither side specified.
func mergeConfig(file, flags config.Config, setFlags map[string]bool) config.Config {
	out := file
	if setFlags["addr"] {
		out.Addr = flags.Addr
	}
	if setFlags["backend"] {
		out.Backend = flags.Backend
	}
	if setFlags["docker-executable"] {
		out.DockerExecutable = flags.DockerExecutable
	}
	if setFlags["udocker-executable"] {
		out.UDockerExecutable = flags.UDockerExecutable
	}
	if setFlags["catalog-url"] {
		out.CatalogURL = flags.CatalogURL
	}
	if setFlags["catalog-refresh-cron"] {
		out.CatalogRefreshCron = flags.CatalogRefreshCron
	}
	if setFlags["image-repo"] {
		out.ImageRepo = flags.ImageRepo
	}
	if setFlags["auto-pull"] {
		out.AutoPull = flags.AutoPull
	}
	if setFlags["kill-grace-seconds"] {
		out.KillGraceSeconds = flags.KillGraceSeconds
	}
	if setFlags["run-timeout-seconds"] {
		out.RunTimeoutSeconds = flags.RunTimeoutSeconds
	}
	if setFlags["default-args"] {
		out.DefaultArgs = flags.DefaultArgs
	}
	return out
}

// fillDefaults populates anything neither the file nor an explicit flag set.
func fillDefaults(cfg config.Config) config.Config {
	if cfg.Addr == "" {
		cfg.Addr = ":8585"
	}
	if cfg.Backend == "" {
		cfg.Backend = "docker"
	}
	if cfg.ImageRepo == "" {
		cfg.ImageRepo = "mhubai/"
	}
	if cfg.AutoPull == nil {
		on := true
		cfg.AutoPull = &on
	}
	if cfg.DefaultArgs == nil {
		cfg.DefaultArgs = []string{"--workflow", "default"}
	}
	return cfg
}

// splitCSV splits a comma-separated flag value, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
