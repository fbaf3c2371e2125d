package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, WithAPIKey("test-key"), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientValidatesHost(t *testing.T) {
	if _, err := NewClient("api.gizatech.xyz"); err == nil {
		t.Fatalf("expected error for host without scheme")
	}
	client, err := NewClient("https://api.gizatech.xyz/")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Host() != "https://api.gizatech.xyz" {
		t.Fatalf("unexpected host: %s", client.Host())
	}
}

func TestClientSendsAPIKeyHeader(t *testing.T) {
	var gotPath, gotKey, gotAccept string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		gotAccept = r.Header.Get("Accept")
		json.NewEncoder(w).Encode(Model{ID: 336, Name: "mnist"})
	}))

	model, err := client.GetModel(context.Background(), 336)
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if gotPath != "/api/v1/models/336" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotKey != "test-key" || gotAccept != "application/json" {
		t.Fatalf("请求头缺失: key=%q accept=%q", gotKey, gotAccept)
	}
	if model.ID != 336 || model.Name != "mnist" {
		t.Fatalf("unexpected model: %+v", model)
	}
}

func TestGetVersionDecodesPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/models/336/versions/2" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Version{
			Version:   2,
			ModelID:   336,
			Framework: FrameworkCairo,
			Status:    VersionStatusCompleted,
		})
	}))

	version, err := client.GetVersion(context.Background(), 336, 2)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if version.Framework != FrameworkCairo || version.Status != VersionStatusCompleted {
		t.Fatalf("unexpected version: %+v", version)
	}
}

func TestGetEndpointRequiresActiveDeployment(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "model_id=336&version_id=2&is_active=true" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]Endpoint{})
	}))

	_, err := client.GetEndpoint(context.Background(), 336, 2)
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestGetProofByRequestID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/endpoints/7/proofs/req-abc" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Proof{ID: "proof-1", JobID: 11, RequestID: "req-abc"})
	}))

	proof, err := client.GetProof(context.Background(), 7, "req-abc")
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if proof.ID != "proof-1" || proof.JobID != 11 {
		t.Fatalf("unexpected proof: %+v", proof)
	}
}

func TestCreateJobPostsPayload(t *testing.T) {
	var gotBody JobCreate
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/jobs" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(Job{ID: 42, Kind: JobKindVerify, Size: JobSizeS, Status: JobStatusPending})
	}))

	job, err := client.CreateJob(context.Background(), JobCreate{
		Kind:      JobKindVerify,
		Size:      JobSizeS,
		Framework: FrameworkCairo,
		ModelID:   336,
		VersionID: 2,
		ProofID:   "proof-1",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.ID != 42 || job.Status != JobStatusPending {
		t.Fatalf("unexpected job: %+v", job)
	}
	if gotBody.Kind != JobKindVerify || gotBody.Size != JobSizeS || gotBody.ProofID != "proof-1" {
		t.Fatalf("unexpected payload: %+v", gotBody)
	}
}

func TestGetJobCarriesKindQuery(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/42" || r.URL.Query().Get("kind") != string(JobKindVerify) {
			t.Errorf("unexpected request: %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(Job{ID: 42, Kind: JobKindVerify, Status: JobStatusCompleted})
	}))

	job, err := client.GetJob(context.Background(), 42, JobKindVerify)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !job.Status.Terminal() {
		t.Fatalf("expected terminal status, got %s", job.Status)
	}
}

func TestDownloadOriginalReturnsRawBytes(t *testing.T) {
	artifact := []byte{0x08, 0x01, 0x12, 0x04, 0x6f, 0x6e, 0x6e, 0x78}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/models/336/versions/2/original" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write(artifact)
	}))

	raw, err := client.DownloadOriginal(context.Background(), 336, 2)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(raw, artifact) {
		t.Fatalf("artifact corrupted: %v", raw)
	}
}

func TestDecodeStructuredAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"code": "PROOF_NOT_FOUND", "message": "proof missing"})
	}))

	_, err := client.GetProof(context.Background(), 7, "req-missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "PROOF_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if !IsNotFound(err) {
		t.Fatalf("IsNotFound should match 404")
	}
}

func TestDecodePlainTextError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))

	_, err := client.GetModel(context.Background(), 336)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream down" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
