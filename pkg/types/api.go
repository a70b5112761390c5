package types

// ModelWithStatus pairs a catalog entry with its local image status.
type ModelWithStatus struct {
	Model
	// Local presence of the model's image.
	// example: present
	Status ImageStatus `json:"status" example:"present"`
}

// ModelsResponse wraps the list returned by GET /models.
type ModelsResponse struct {
	// Catalog entries joined with local image status.
	Models []ModelWithStatus `json:"models"`
	// Unix seconds of the catalog snapshot these entries come from.
	// example: 1700000000
	RefreshedUnix int64 `json:"refreshed_unix" example:"1700000000"`
}

// SubmitResponse is returned by POST /jobs.
type SubmitResponse struct {
	// Identifier of the accepted job.
	// example: 7b6ab584-9c2e-4d3f-8a41-2f1f2a9f9f10
	JobID string `json:"job_id" example:"7b6ab584-9c2e-4d3f-8a41-2f1f2a9f9f10"`
}

// JobsResponse wraps GET /jobs.
type JobsResponse struct {
	Jobs []JobView `json:"jobs"`
}

// GPUsResponse wraps GET /gpus.
type GPUsResponse struct {
	GPUs []GPUDevice `json:"gpus"`
}

// KillResult is the per-job outcome of a kill-all sweep.
type KillResult struct {
	// Job the result refers to.
	JobID string `json:"job_id"`
	// Outcome: "killed" or "already_terminal".
	// example: killed
	Outcome string `json:"outcome" example:"killed"`
}

// KillAllResponse aggregates POST /jobs/kill.
type KillAllResponse struct {
	// Per-job outcomes, one entry per registered job.
	Results []KillResult `json:"results"`
	// Number of jobs transitioned to killed.
	// example: 3
	Killed int `json:"killed" example:"3"`
}

// LogLine is one NDJSON record on a job log stream.
type LogLine struct {
	// Raw log line as emitted by the container.
	Line string `json:"line"`
}

// PullProgress is one NDJSON record on an image pull stream.
type PullProgress struct {
	// Raw progress line as emitted by the engine.
	Line string `json:"line"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: job not found
	Error string `json:"error" example:"job not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// BackendInfo describes the configured container engine.
type BackendInfo struct {
	// Engine name: docker or udocker.
	// example: docker
	Name string `json:"name" example:"docker"`
	// Version string reported by the engine, empty when unreachable.
	// example: Docker version 27.1.1, build 6312585
	Version string `json:"version,omitempty"`
	// True when the engine answered the availability probe.
	// example: true
	Available bool `json:"available" example:"true"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Configured engine and its probed availability.
	Backend BackendInfo `json:"backend"`
	// Number of jobs currently in a non-terminal state.
	// example: 2
	ActiveJobs int `json:"active_jobs" example:"2"`
	// Total jobs retained in the registry, terminal included.
	// example: 7
	TotalJobs int `json:"total_jobs" example:"7"`
	// Number of catalog entries in the current snapshot.
	// example: 54
	CatalogModels int `json:"catalog_models" example:"54"`
	// Unix seconds of the last successful catalog refresh, 0 if never.
	CatalogRefreshedUnix int64 `json:"catalog_refreshed_unix,omitempty"`
	// Uptime of the daemon in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
