package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/jainkunal/giza-agents/sdk/go/giza"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(giza.Task{
				ID:     "task-demo",
				Status: "pending",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(giza.Task{
			ID:     "task-demo",
			Status: "succeeded",
			Result: &giza.TaskResult{
				RequestID: "req-42",
				ProofID:   "proof-7",
				Verified:  true,
				TxHash:    "0xabc",
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := giza.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("demo-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.SubmitTask(ctx, giza.TaskSubmission{
		Shape: []int{2},
		Input: []float64{1.5, -0.25},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", created.ID, created.Status)

	completed, err := client.WaitForTask(ctx, created.ID, 200*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s verified=%t tx=%s\n", completed.ID, completed.Result.Verified, completed.Result.TxHash)
}
