package platform

import (
	"context"
	"fmt"
)

// GetModel retrieves a registered model by ID.
func (c *Client) GetModel(ctx context.Context, modelID uint64) (*Model, error) {
	var model Model
	endpoint := fmt.Sprintf("/api/v1/models/%d", modelID)
	if err := c.get(ctx, endpoint, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// GetVersion retrieves a model version by model and version ID.
func (c *Client) GetVersion(ctx context.Context, modelID, versionID uint64) (*Version, error) {
	var version Version
	endpoint := fmt.Sprintf("/api/v1/models/%d/versions/%d", modelID, versionID)
	if err := c.get(ctx, endpoint, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// DownloadOriginal fetches the original ONNX artifact for a model version.
func (c *Client) DownloadOriginal(ctx context.Context, modelID, versionID uint64) ([]byte, error) {
	endpoint := fmt.Sprintf("/api/v1/models/%d/versions/%d/original", modelID, versionID)
	return c.download(ctx, endpoint)
}

// GetEndpoint resolves the active deployment for a model version. The
// returned endpoint carries the URI used for verifiable inference requests.
func (c *Client) GetEndpoint(ctx context.Context, modelID, versionID uint64) (*Endpoint, error) {
	var endpoints []Endpoint
	query := fmt.Sprintf("/api/v1/endpoints?model_id=%d&version_id=%d&is_active=true", modelID, versionID)
	if err := c.get(ctx, query, &endpoints); err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, &APIError{StatusCode: 404, Code: "ENDPOINT_NOT_FOUND", Message: fmt.Sprintf("no active endpoint for model %d version %d", modelID, versionID)}
	}
	return &endpoints[0], nil
}

// ListJobs returns all jobs attached to an endpoint, newest first.
func (c *Client) ListJobs(ctx context.Context, endpointID uint64) ([]Job, error) {
	var jobs []Job
	endpoint := fmt.Sprintf("/api/v1/endpoints/%d/jobs", endpointID)
	if err := c.get(ctx, endpoint, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetProof fetches the proof generated for a request served by an endpoint.
func (c *Client) GetProof(ctx context.Context, endpointID uint64, requestID string) (*Proof, error) {
	var proof Proof
	endpoint := fmt.Sprintf("/api/v1/endpoints/%d/proofs/%s", endpointID, requestID)
	if err := c.get(ctx, endpoint, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// CreateJob starts a new remote job, typically a verification of an
// existing proof.
func (c *Client) CreateJob(ctx context.Context, create JobCreate) (*Job, error) {
	var job Job
	if err := c.post(ctx, "/api/v1/jobs", create, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob refreshes the state of a job. The kind parameter disambiguates
// proof and verify jobs that share an ID space on the platform.
func (c *Client) GetJob(ctx context.Context, jobID uint64, kind JobKind) (*Job, error) {
	var job Job
	endpoint := fmt.Sprintf("/api/v1/jobs/%d?kind=%s", jobID, kind)
	if err := c.get(ctx, endpoint, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
