package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// runCommand executes the root command against a test daemon and returns its
// combined output.
func runCommand(t *testing.T, daemonURL string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--addr", daemonURL}, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestModelsListOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(types.ModelsResponse{
			Models: []types.ModelWithStatus{
				{Model: types.Model{ID: "totalsegmentator", Label: "TotalSegmentator", InputCompatible: true}, Status: types.ImagePresentUpToDate},
			},
			RefreshedUnix: 1700000000,
		})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if !strings.Contains(out, "totalsegmentator") || !strings.Contains(out, "present") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRunSubmitsAndPrintsJobID(t *testing.T) {
	var got types.RunRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(types.SubmitResponse{JobID: "job-42"})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "run", "totalsegmentator", "-i", "/data/in", "-o", "/data/out", "--gpus", "0,1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "job-42") {
		t.Fatalf("job id missing from output:\n%s", out)
	}
	if got.Model != "totalsegmentator" || got.InputDir != "/data/in" || len(got.GPUs) != 2 {
		t.Fatalf("unexpected submitted request: %+v", got)
	}
}

func TestRunRejectsBadGPUList(t *testing.T) {
	if _, err := runCommand(t, "http://127.0.0.1:1", "run", "m", "-i", "/in", "-o", "/out", "--gpus", "zero"); err == nil {
		t.Fatalf("expected GPU parse error")
	}
}

func TestLogsStreamsLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		enc.Encode(types.LogLine{Line: "step 1"})
		enc.Encode(types.LogLine{Line: "step 2"})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "logs", "job-1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "step 1") || !strings.Contains(out, "step 2") {
		t.Fatalf("log lines missing:\n%s", out)
	}
}

func TestPullSurfacesStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		enc.Encode(types.PullProgress{Line: "latest: Pulling"})
		enc.Encode(types.ErrorResponse{Error: "registry denied", Code: 502})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "pull", "totalsegmentator")
	if err == nil {
		t.Fatalf("expected error from error record, output:\n%s", out)
	}
	if !strings.Contains(err.Error(), "registry denied") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestErrorPayloadSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(types.ErrorResponse{Error: "job not found: nope", Code: 404})
	}))
	defer srv.Close()

	_, err := runCommand(t, srv.URL, "cancel", "nope")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "job not found") || !strings.Contains(err.Error(), "404") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKillAllOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.KillAllResponse{
			Results: []types.KillResult{
				{JobID: "a", Outcome: "killed"},
				{JobID: "b", Outcome: "already_terminal"},
			},
			Killed: 1,
		})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "killall")
	if err != nil {
		t.Fatalf("killall: %v", err)
	}
	if !strings.Contains(out, "a: killed") || !strings.Contains(out, "1 jobs killed") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestGPUsTableShowsAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.GPUsResponse{GPUs: []types.GPUDevice{
			{Index: 0, Name: "NVIDIA T4", MemoryMB: 16384, Available: true},
			{Index: 1, Name: "NVIDIA A100-SXM4-40GB", MemoryMB: 40960, Available: false},
		}})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "gpus")
	if err != nil {
		t.Fatalf("gpus: %v", err)
	}
	if !strings.Contains(out, "AVAILABLE") {
		t.Fatalf("availability column missing:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasSuffix(lines[1], "yes") || !strings.HasSuffix(lines[2], "no") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

func TestParseGPUList(t *testing.T) {
	got, err := parseGPUList(" 0, 1 ,2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 3 || got[2] != 2 {
		t.Fatalf("unexpected result: %v", got)
	}
	if got, err := parseGPUList(""); err != nil || got != nil {
		t.Fatalf("empty list: %v %v", got, err)
	}
}
