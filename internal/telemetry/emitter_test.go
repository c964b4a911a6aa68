package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomworks/loom/internal/common"
)

func TestEmitEvent_WritesNDJSON(t *testing.T) {
	dir := t.TempDir()
	sink := filepath.Join(dir, "events.ndjson")

	emitter, err := NewEmitter(&common.TelemetryConfig{Path: sink}, common.GetLogger())
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	emitter.EmitEvent("node_start", map[string]any{
		"job_id":    "job_1",
		"node_name": "cartographer",
	})
	emitter.EmitEvent("node_end", map[string]any{
		"job_id":      "job_1",
		"node_name":   "cartographer",
		"duration_ms": 42,
	})
	if err := emitter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(sink)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("invalid NDJSON line: %v", err)
		}
		records = append(records, record)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["event_type"] != "node_start" {
		t.Errorf("event_type = %v, want node_start", records[0]["event_type"])
	}
	if records[0]["timestamp"] == nil {
		t.Error("timestamp missing")
	}
	if records[1]["duration_ms"] == nil {
		t.Error("duration_ms missing on node_end")
	}
}

func TestEmitEvent_AfterClose(t *testing.T) {
	dir := t.TempDir()
	emitter, err := NewEmitter(&common.TelemetryConfig{Path: filepath.Join(dir, "e.ndjson")}, common.GetLogger())
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	if err := emitter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Must not panic
	emitter.EmitEvent("late", map[string]any{})
}
