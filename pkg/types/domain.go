package types

// Model represents one runnable model image published in the remote catalog.
type Model struct {
	// Stable identifier for the model.
	// example: totalsegmentator
	ID string `json:"id" example:"totalsegmentator"`
	// Registry name of the model; also determines the image repository.
	// example: totalsegmentator
	Name string `json:"name" example:"totalsegmentator"`
	// Human-friendly display label.
	// example: TotalSegmentator
	Label string `json:"label" example:"TotalSegmentator"`
	// Free-text description of what the model does.
	// example: Segmentation of 104 anatomical structures in CT.
	Description string `json:"description,omitempty" example:"Segmentation of 104 anatomical structures in CT."`
	// Imaging modalities the model accepts (CT, MR, ...).
	// example: ["CT"]
	Modalities []string `json:"modalities,omitempty" example:"[\"CT\"]"`
	// Output categories (Segmentation, Prediction, ...).
	// example: ["Segmentation"]
	Categories []string `json:"categories,omitempty" example:"[\"Segmentation\"]"`
	// Regions of interest produced by segmentation models.
	Segmentations []string `json:"segmentations,omitempty"`
	// Descriptions of the expected inputs.
	// example: ["Chest CT scan in DICOM format"]
	Inputs []string `json:"inputs,omitempty" example:"[\"Chest CT scan in DICOM format\"]"`
	// Citation for the underlying publication, if any.
	Cite string `json:"cite,omitempty"`
	// Fully qualified container image reference for this model.
	// example: mhubai/totalsegmentator:latest
	Image string `json:"image" example:"mhubai/totalsegmentator:latest"`
	// Documentation page for the model.
	// example: https://mhub.ai/models/totalsegmentator
	DocURL string `json:"doc_url,omitempty" example:"https://mhub.ai/models/totalsegmentator"`
	// True when the model takes a single DICOM input and produces
	// segmentations or predictions the client can import directly.
	// example: true
	InputCompatible bool `json:"input_compatible" example:"true"`
}

// ImageStatus describes the local presence of a model's container image.
type ImageStatus string

const (
	ImageNotPresent      ImageStatus = "not_present"
	ImagePresentUpToDate ImageStatus = "present"
	ImagePresentStale    ImageStatus = "stale"
)

// LocalImage is an engine-reported image entry.
type LocalImage struct {
	// Image reference (repository:tag).
	// example: mhubai/totalsegmentator:latest
	Ref string `json:"ref" example:"mhubai/totalsegmentator:latest"`
	// Content digest as reported by the engine, if available.
	// example: sha256:3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
	Digest string `json:"digest,omitempty"`
	// Human-readable image size as reported by the engine.
	// example: 12.4GB
	Size string `json:"size,omitempty" example:"12.4GB"`
	// Creation timestamp string as reported by the engine.
	Created string `json:"created,omitempty"`
}

// GPUDevice is one locally visible GPU.
type GPUDevice struct {
	// Device index as used for engine device requests.
	// example: 0
	Index int `json:"index" example:"0"`
	// Vendor/model string.
	// example: NVIDIA GeForce RTX 3090
	Name string `json:"name" example:"NVIDIA GeForce RTX 3090"`
	// Total device memory in MiB, 0 if unknown.
	// example: 24576
	MemoryMB int `json:"memory_mb,omitempty" example:"24576"`
	// Whether the device currently has capacity for a new run.
	// example: true
	Available bool `json:"available" example:"true"`
}

// RunRequest asks the orchestrator to execute one model against a volume pair.
type RunRequest struct {
	// Model identifier from the catalog. Resolved to its image reference.
	// example: totalsegmentator
	Model string `json:"model,omitempty" example:"totalsegmentator"`
	// Explicit image reference; used as-is when set, bypassing the catalog.
	// example: mhubai/totalsegmentator:latest
	Image string `json:"image,omitempty" example:"mhubai/totalsegmentator:latest"`
	// Host directory mounted read-only as the container's input volume.
	// example: /data/case-001/dicom
	InputDir string `json:"input_dir" example:"/data/case-001/dicom"`
	// Host directory mounted read-write as the container's output volume.
	// example: /data/case-001/output
	OutputDir string `json:"output_dir" example:"/data/case-001/output"`
	// GPU device indices to expose. Empty means CPU-only.
	// example: [0]
	GPUs []int `json:"gpus,omitempty" example:"[0]"`
	// Extra arguments appended to the container command line.
	// example: ["--workflow","default"]
	Args []string `json:"args,omitempty" example:"[\"--workflow\",\"default\"]"`
	// Optional engine executable override for this run.
	Executable string `json:"executable,omitempty"`
}

// JobState is the lifecycle state of a submitted run.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobPulling   JobState = "pulling"
	JobStarting  JobState = "starting"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobKilled    JobState = "killed"
)

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobKilled
}

// JobView is the read-only projection of a job exposed by the API.
type JobView struct {
	// Unique job identifier.
	// example: 7b6ab584-9c2e-4d3f-8a41-2f1f2a9f9f10
	ID string `json:"id" example:"7b6ab584-9c2e-4d3f-8a41-2f1f2a9f9f10"`
	// Snapshot of the request the job was submitted with.
	Request RunRequest `json:"request"`
	// Resolved image reference the job runs.
	// example: mhubai/totalsegmentator:latest
	Image string `json:"image" example:"mhubai/totalsegmentator:latest"`
	// Current lifecycle state.
	// example: running
	State JobState `json:"state" example:"running"`
	// Failure reason for failed jobs (pull_error, invalid_mount, ...).
	Reason string `json:"reason,omitempty"`
	// Container exit code; meaningful only in a terminal state.
	// example: 0
	ExitCode int `json:"exit_code" example:"0"`
	// Submission time in unix seconds.
	// example: 1700000000
	CreatedUnix int64 `json:"created_unix" example:"1700000000"`
	// Container start time in unix seconds, 0 if never started.
	StartedUnix int64 `json:"started_unix,omitempty"`
	// Terminal transition time in unix seconds, 0 while in flight.
	FinishedUnix int64 `json:"finished_unix,omitempty"`
}
