package platform

import (
	"fmt"
	"time"
)

// Framework identifies the provable inference backend a model version was
// transpiled for.
type Framework string

const (
	FrameworkCairo Framework = "CAIRO"
	FrameworkEZKL  Framework = "EZKL"
)

// Valid reports whether the framework is one of the supported backends.
func (f Framework) Valid() bool {
	return f == FrameworkCairo || f == FrameworkEZKL
}

// VersionStatus tracks the lifecycle of an uploaded model version.
type VersionStatus string

const (
	VersionStatusUploading  VersionStatus = "UPLOADING"
	VersionStatusProcessing VersionStatus = "PROCESSING"
	VersionStatusCompleted  VersionStatus = "COMPLETED"
	VersionStatusFailed     VersionStatus = "FAILED"
)

// JobKind distinguishes proof generation jobs from proof verification jobs.
type JobKind string

const (
	JobKindProof  JobKind = "PROOF"
	JobKindVerify JobKind = "VERIFY"
)

// JobSize selects the remote worker size for a job.
type JobSize string

const (
	JobSizeS  JobSize = "S"
	JobSizeM  JobSize = "M"
	JobSizeL  JobSize = "L"
	JobSizeXL JobSize = "XL"
)

// JobStatus is the remote job state reported by the platform. Jobs move from
// pending through processing into exactly one terminal state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents a remote asynchronous task tracked by ID and polled for
// status.
type Job struct {
	ID        uint64    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Size      JobSize   `json:"size"`
	Status    JobStatus `json:"status"`
	RequestID string    `json:"request_id,omitempty"`
	ModelID   uint64    `json:"model_id,omitempty"`
	VersionID uint64    `json:"version_id,omitempty"`
	ProofID   string    `json:"proof_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// JobCreate is the payload used to start a new job.
type JobCreate struct {
	Kind      JobKind   `json:"kind"`
	Size      JobSize   `json:"size"`
	Framework Framework `json:"framework"`
	ModelID   uint64    `json:"model_id"`
	VersionID uint64    `json:"version_id"`
	ProofID   string    `json:"proof_id,omitempty"`
}

// Proof is the cryptographic proof artifact produced by a completed proof
// job.
type Proof struct {
	ID           string    `json:"id"`
	JobID        uint64    `json:"job_id"`
	RequestID    string    `json:"request_id"`
	CairoVersion string    `json:"cairo_execution_version,omitempty"`
	ProvingTime  float64   `json:"proving_time,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Model is the registry entry a set of versions belongs to.
type Model struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Version describes a model version registered on the platform.
type Version struct {
	Version           uint64        `json:"version"`
	ModelID           uint64        `json:"model_id"`
	Framework         Framework     `json:"framework"`
	Status            VersionStatus `json:"status"`
	Description       string        `json:"description,omitempty"`
	OriginalModelPath string        `json:"original_model_path,omitempty"`
	CreatedAt         time.Time     `json:"created_at,omitempty"`
}

// Endpoint is a deployed model version reachable for verifiable inference.
type Endpoint struct {
	ID        uint64 `json:"id"`
	ModelID   uint64 `json:"model_id"`
	VersionID uint64 `json:"version_id"`
	URI       string `json:"uri"`
	IsActive  bool   `json:"is_active"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("platform api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("platform api error (%d): %s", e.StatusCode, e.Message)
}
