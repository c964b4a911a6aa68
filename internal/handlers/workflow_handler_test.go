package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/loomworks/loom/internal/models"
)

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject("proj_1", models.RigorExploratory)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing raw_text", `{"project_id":"proj_1"}`, http.StatusBadRequest},
		{"blank raw_text", `{"raw_text":"  ","project_id":"proj_1"}`, http.StatusBadRequest},
		{"missing project_id", `{"raw_text":"some findings"}`, http.StatusBadRequest},
		{"unknown project", `{"raw_text":"some findings","project_id":"proj_missing"}`, http.StatusNotFound},
		{"malformed body", `{not json`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doJSON(t, env.workflow.SubmitHandler, "POST", "/workflow/submit", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestSubmitQueuesJob(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject("proj_1", models.RigorExploratory)

	rec, resp := doJSON(t, env.workflow.SubmitHandler, "POST", "/workflow/submit",
		`{"raw_text":"Catalyst X increases yield by 23%.","project_id":"proj_1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	if resp["status"] != "QUEUED" {
		t.Fatalf("status field = %v, want QUEUED", resp["status"])
	}

	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected a job_id")
	}

	job, err := env.manager.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.InitialState == nil || job.InitialState.DocHash == "" {
		t.Fatal("submission was not ingested: doc hash missing")
	}
	if job.InitialState.IngestionID == "" {
		t.Fatal("submission was not ingested: ingestion id missing")
	}
}

func TestSubmitIdempotency(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject("proj_1", models.RigorExploratory)

	body := `{"raw_text":"Catalyst X increases yield.","project_id":"proj_1","idempotency_key":"key-1"}`
	_, first := doJSON(t, env.workflow.SubmitHandler, "POST", "/workflow/submit", body)
	_, second := doJSON(t, env.workflow.SubmitHandler, "POST", "/workflow/submit", body)

	if first["job_id"] != second["job_id"] {
		t.Fatalf("idempotent submit created a second job: %v vs %v", first["job_id"], second["job_id"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := doJSON(t, env.workflow.StatusHandler, "GET", "/workflow/status/job_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", rec.Code)
	}

	job := env.seedJob("job_1", "proj_1", models.JobStatusRunning)
	job.Progress = 0.4
	job.CurrentStep = "vetting claims"
	env.store.SaveJob(context.Background(), job)

	rec, resp := doJSON(t, env.workflow.StatusHandler, "GET", "/workflow/status/job_1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp["progress_pct"].(float64) != 40 {
		t.Fatalf("progress_pct = %v, want 40", resp["progress_pct"])
	}
	if resp["current_step"] != "vetting claims" {
		t.Fatalf("current_step = %v", resp["current_step"])
	}
	if _, ok := resp["result"]; ok {
		t.Fatal("non-terminal status response must not carry a result")
	}
}

func TestResultEndpointCodes(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := doJSON(t, env.workflow.ResultHandler, "GET", "/workflow/result/job_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job result = %d, want 404", rec.Code)
	}

	env.seedJob("job_queued", "proj_1", models.JobStatusQueued)
	rec, _ = doJSON(t, env.workflow.ResultHandler, "GET", "/workflow/result/job_queued", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("queued job result = %d, want 202", rec.Code)
	}

	failed := env.seedJob("job_failed", "proj_1", models.JobStatusFailed)
	failed.Error = "workflow failed at critic"
	env.store.SaveJob(context.Background(), failed)
	rec, resp := doJSON(t, env.workflow.ResultHandler, "GET", "/workflow/result/job_failed", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed job result = %d, want 500", rec.Code)
	}
	if resp["error"] != "workflow failed at critic" {
		t.Fatalf("error = %v", resp["error"])
	}

	// Succeeded job with no triples: the list must still be present and empty
	done := env.seedJob("job_done", "proj_1", models.JobStatusSucceeded)
	done.Result = &models.WorkflowState{JobID: "job_done", Phase: models.PhaseDone}
	env.store.SaveJob(context.Background(), done)
	rec, resp = doJSON(t, env.workflow.ResultHandler, "GET", "/workflow/result/job_done", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("succeeded job result = %d, want 200", rec.Code)
	}
	result := resp["result"].(map[string]interface{})
	extracted := result["extracted_json"].(map[string]interface{})
	triples, ok := extracted["triples"].([]interface{})
	if !ok {
		t.Fatalf("triples = %v, want an empty list", extracted["triples"])
	}
	if len(triples) != 0 {
		t.Fatalf("triples length = %d, want 0", len(triples))
	}
}

func TestResumeValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := doJSON(t, env.workflow.ResumeHandler, "POST", "/workflow/resume/job_missing", `{"decision":"approve"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job resume = %d, want 404", rec.Code)
	}

	env.seedJob("job_running", "proj_1", models.JobStatusRunning)
	rec, _ = doJSON(t, env.workflow.ResumeHandler, "POST", "/workflow/resume/job_running", `{"decision":"approve"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("resume of RUNNING job = %d, want 409", rec.Code)
	}

	env.seedJob("job_signoff", "proj_1", models.JobStatusNeedsSignoff)
	rec, _ = doJSON(t, env.workflow.ResumeHandler, "POST", "/workflow/resume/job_signoff", `{"decision":"maybe"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad decision = %d, want 400", rec.Code)
	}
}
