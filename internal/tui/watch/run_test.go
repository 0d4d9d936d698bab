package watch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mattjoyce/swage/internal/events"
)

func ev(t *testing.T, id int64, typ string, data map[string]any) events.Event {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: b}
}

func TestUpdateRunStateFollowsLifecycle(t *testing.T) {
	run := updateRunState(nil, ev(t, 1, "pipeline.started", map[string]any{
		"group_id":   "g-1",
		"project":    "nyc_airbnb",
		"experiment": "development",
		"selection":  "download,basic_cleaning",
		"steps":      []string{"download", "basic_cleaning"},
	}))
	if run == nil {
		t.Fatal("expected run state after pipeline.started")
	}
	if run.GroupID != "g-1" || run.Status != "running" || run.Project != "nyc_airbnb" {
		t.Fatalf("unexpected run state: %+v", run)
	}
	if len(run.Steps) != 2 || run.Steps[0].Name != "download" || run.Steps[0].Status != "pending" {
		t.Fatalf("unexpected steps: %+v", run.Steps)
	}

	run = updateRunState(run, ev(t, 2, "step.started", map[string]any{
		"group_id": "g-1", "step": "download", "position": 0,
	}))
	if run.Steps[0].Status != "running" {
		t.Fatalf("download status = %q, want running", run.Steps[0].Status)
	}

	run = updateRunState(run, ev(t, 3, "step.completed", map[string]any{
		"group_id": "g-1", "step": "download", "position": 0, "duration_ms": 1500,
	}))
	if run.Steps[0].Status != "succeeded" {
		t.Fatalf("download status = %q, want succeeded", run.Steps[0].Status)
	}
	if run.Steps[0].Duration != 1500*time.Millisecond {
		t.Fatalf("download duration = %v, want 1.5s", run.Steps[0].Duration)
	}

	run = updateRunState(run, ev(t, 4, "step.failed", map[string]any{
		"group_id": "g-1", "step": "basic_cleaning", "position": 1, "error": "exit status 3",
	}))
	run = updateRunState(run, ev(t, 5, "pipeline.failed", map[string]any{
		"group_id": "g-1", "failed_step": "basic_cleaning", "error": "step basic_cleaning: exit status 3",
	}))

	if run.Status != "failed" || run.FailedStep != "basic_cleaning" {
		t.Fatalf("unexpected run state after failure: %+v", run)
	}
	if run.Steps[1].Status != "failed" || run.Steps[1].Err != "exit status 3" {
		t.Fatalf("unexpected failed step state: %+v", run.Steps[1])
	}
}

func TestUpdateRunStateNewRunReplacesOld(t *testing.T) {
	run := updateRunState(nil, ev(t, 1, "pipeline.started", map[string]any{
		"group_id": "g-1", "steps": []string{"download"},
	}))
	run = updateRunState(run, ev(t, 2, "pipeline.completed", map[string]any{
		"group_id": "g-1", "duration_ms": 900,
	}))
	if run.Status != "succeeded" {
		t.Fatalf("run status = %q, want succeeded", run.Status)
	}

	run = updateRunState(run, ev(t, 3, "pipeline.started", map[string]any{
		"group_id": "g-2", "steps": []string{"download", "data_check"},
	}))
	if run.GroupID != "g-2" || run.Status != "running" || len(run.Steps) != 2 {
		t.Fatalf("expected fresh run state, got %+v", run)
	}
}

func TestUpdateRunStateAttachesMidRun(t *testing.T) {
	// A watcher that connects after the replay buffer rolled over sees
	// step events without the pipeline.started that introduced them.
	run := updateRunState(nil, ev(t, 40, "step.completed", map[string]any{
		"group_id": "g-9", "step": "data_split", "position": 3, "duration_ms": 2000,
	}))
	if run == nil || run.GroupID != "g-9" {
		t.Fatalf("expected synthesized run state, got %+v", run)
	}
	if len(run.Steps) != 1 || run.Steps[0].Name != "data_split" || run.Steps[0].Status != "succeeded" {
		t.Fatalf("unexpected steps: %+v", run.Steps)
	}
}

func TestUpdateRunStateIgnoresEventsWithoutGroup(t *testing.T) {
	if run := updateRunState(nil, ev(t, 1, "step.started", map[string]any{"step": "download"})); run != nil {
		t.Fatalf("expected nil run state, got %+v", run)
	}
}
