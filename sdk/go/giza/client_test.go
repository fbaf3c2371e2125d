package giza

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitTaskSendsAPIKey(t *testing.T) {
	submitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.Header.Get("X-API-Key") != "secret-key" {
			t.Fatalf("expected api key header, got %q", r.Header.Get("X-API-Key"))
		}
		var payload TaskSubmission
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(payload.Input) != 2 {
			t.Fatalf("unexpected input: %+v", payload.Input)
		}
		submitted = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAPIKey("secret-key")

	created, err := client.SubmitTask(context.Background(), TaskSubmission{
		Shape: []int{2},
		Input: []float64{1.5, -0.25},
	})
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}
	if created.ID != "task-1" || !submitted {
		t.Fatalf("unexpected response: %+v", created)
	}
}

func TestGetTaskError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "task not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetTask(context.Background(), "task-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "task not found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestVaultValueValidatesKind(t *testing.T) {
	client, err := NewClient("http://localhost:0", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.VaultValue(context.Background(), "0x0", "share"); err == nil {
		t.Fatal("expected kind validation error")
	}
}

func TestVaultValueRequestsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/vaults/0x1234/value" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("kind") != "nav" {
			t.Fatalf("unexpected kind: %s", r.URL.Query().Get("kind"))
		}
		_ = json.NewEncoder(w).Encode(VaultValuation{
			Vault: "0x1234",
			Kind:  "nav",
			Value: "1000000",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	valuation, err := client.VaultValue(context.Background(), "0x1234", "nav")
	if err != nil {
		t.Fatalf("vault value: %v", err)
	}
	if valuation.Value != "1000000" {
		t.Fatalf("unexpected valuation: %+v", valuation)
	}
}
