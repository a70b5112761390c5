package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels(ctx context.Context) (types.ModelsResponse, error)
	SearchModels(ctx context.Context, query string) (types.ModelsResponse, error)
	GetModel(ctx context.Context, id string) (types.ModelWithStatus, error)
	RefreshCatalog(ctx context.Context) (int, error)
	PullModelImage(ctx context.Context, id string, onLine func(string)) error
	RemoveModelImage(ctx context.Context, id string) error
	ListGPUs(ctx context.Context, refresh bool) ([]types.GPUDevice, error)
	Submit(req types.RunRequest) (string, error)
	Job(id string) (types.JobView, error)
	Jobs() []types.JobView
	SubscribeLogs(ctx context.Context, id string) (<-chan string, error)
	Cancel(id string) error
	KillAll() types.KillAllResponse
	ClearJob(id string) error
	ClearJobs() int
	Status(ctx context.Context) types.StatusResponse
	Ready(ctx context.Context) bool
}

// NewMux builds the daemon's HTTP handler over svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(MetricsMiddleware)

	r.Route("/models", func(r chi.Router) {
		r.Get("/", handleListModels(svc))
		r.Get("/{id}", handleGetModel(svc))
		r.Post("/{id}/pull", handlePullModelImage(svc))
		r.Delete("/{id}/image", handleRemoveModelImage(svc))
	})
	r.Post("/catalog/refresh", handleRefreshCatalog(svc))
	r.Get("/gpus", handleListGPUs(svc))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", handleSubmitJob(svc))
		r.Get("/", handleListJobs(svc))
		r.Post("/kill", handleKillAll(svc))
		r.Delete("/", handleClearJobs(svc))
		r.Get("/{id}", handleGetJob(svc))
		r.Get("/{id}/logs", handleJobLogs(svc))
		r.Post("/{id}/cancel", handleCancelJob(svc))
		r.Delete("/{id}", handleClearJob(svc))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status(r.Context()))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready(r.Context()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("engine unavailable"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

func handleListModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		var (
			resp types.ModelsResponse
			err  error
		)
		if q != "" {
			resp, err = svc.SearchModels(r.Context(), q)
		} else {
			resp, err = svc.ListModels(r.Context())
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := svc.GetModel(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// handlePullModelImage streams pull progress as NDJSON, one line per engine
// progress record. Errors before the first line map to a JSON status; errors
// after it become a trailing error record on the stream.
func handlePullModelImage(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		done := trackStream("pull")
		defer done()

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		lvl := requestLogLevel(r)
		enc := json.NewEncoder(w)
		flush := flusherFor(w)
		started := false
		err := svc.PullModelImage(ctx, id, func(line string) {
			if !started {
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			_ = enc.Encode(types.PullProgress{Line: line})
			flush()
			if lvl >= LevelDebug {
				logStreamLine("pull", line)
			}
		})
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			if !started {
				writeServiceError(w, err)
				return
			}
			_ = enc.Encode(types.ErrorResponse{Error: err.Error(), Code: statusForError(err)})
			flush()
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
		}
	}
}

func handleRemoveModelImage(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveModelImage(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRefreshCatalog(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.RefreshCatalog(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"models": n})
	}
}

func handleListGPUs(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh := r.URL.Query().Get("refresh") == "1"
		gpus, err := svc.ListGPUs(r.Context(), refresh)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.GPUsResponse{GPUs: gpus})
	}
}

func handleSubmitJob(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		id, err := svc.Submit(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if zlog != nil {
			z := zlog.Info().Str("job", id).Str("model", req.Model).Str("image", req.Image)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("job submitted")
		}
		writeJSON(w, http.StatusAccepted, types.SubmitResponse{JobID: id})
	}
}

func handleListJobs(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.JobsResponse{Jobs: svc.Jobs()})
	}
}

func handleGetJob(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := svc.Job(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

// handleJobLogs streams a job's ordered log lines as NDJSON until the job is
// terminal and fully drained, or the client goes away.
func handleJobLogs(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		ch, err := svc.SubscribeLogs(ctx, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		done := trackStream("logs")
		defer done()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		enc := json.NewEncoder(w)
		flush := flusherFor(w)
		lvl := requestLogLevel(r)
		start := time.Now()
		for line := range ch {
			_ = enc.Encode(types.LogLine{Line: line})
			flush()
			if lvl >= LevelDebug {
				logStreamLine("logs", line)
			}
		}
		if zlog != nil && lvl >= LevelInfo {
			zlog.Info().Str("job", id).Dur("dur", time.Since(start)).Msg("log stream closed")
		}
	}
}

func handleCancelJob(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Cancel(chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	}
}

func handleKillAll(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.KillAll())
	}
}

func handleClearJob(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearJob(chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearJobs(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"cleared": svc.ClearJobs()})
	}
}

// writeJSON writes v with status, falling back to a 500 payload on encoder
// failure before any body bytes were written.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing more to do.
		_ = err
	}
}

// flusherFor returns the writer's Flush method or a no-op.
func flusherFor(w http.ResponseWriter) func() {
	if f, ok := w.(http.Flusher); ok {
		return f.Flush
	}
	return func() {}
}
