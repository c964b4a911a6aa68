package models

import (
	"reflect"
	"testing"
)

func TestApplyAdditiveLists(t *testing.T) {
	state := WorkflowState{
		ExtractedJSON: ExtractedJSON{Triples: []Claim{{ID: "a"}}},
		Messages:      []string{"first"},
	}

	next := state.Apply(StateUpdate{
		Triples:   []Claim{{ID: "b"}},
		Messages:  []string{"second"},
		Critiques: []string{"needs work"},
		Artifacts: []string{"claims:1"},
	})

	if len(next.ExtractedJSON.Triples) != 2 {
		t.Errorf("triples = %d, want appended 2", len(next.ExtractedJSON.Triples))
	}
	if !reflect.DeepEqual(next.Messages, []string{"first", "second"}) {
		t.Errorf("messages = %v, want append", next.Messages)
	}
	if len(next.Critiques) != 1 || len(next.Artifacts) != 1 {
		t.Error("critiques and artifacts should append")
	}

	// Input state untouched
	if len(state.ExtractedJSON.Triples) != 1 || len(state.Messages) != 1 {
		t.Error("Apply mutated its receiver")
	}
}

func TestApplyReplaceTriples(t *testing.T) {
	state := WorkflowState{
		ExtractedJSON: ExtractedJSON{Triples: []Claim{{ID: "stale1"}, {ID: "stale2"}}},
	}

	next := state.Apply(StateUpdate{ReplaceTriples: ClaimsPtr([]Claim{{ID: "fresh"}})})
	if len(next.ExtractedJSON.Triples) != 1 || next.ExtractedJSON.Triples[0].ID != "fresh" {
		t.Errorf("triples = %+v, want full replacement", next.ExtractedJSON.Triples)
	}

	empty := state.Apply(StateUpdate{ReplaceTriples: ClaimsPtr(nil)})
	if len(empty.ExtractedJSON.Triples) != 0 {
		t.Error("replacing with an empty list must clear triples")
	}
}

func TestApplyNilPointersMeanNoChange(t *testing.T) {
	state := WorkflowState{
		RevisionCount:    2,
		CriticStatus:     CriticFail,
		NeedsSignoff:     true,
		ConflictDetected: true,
		Synthesis:        "draft",
	}

	next := state.Apply(StateUpdate{})
	if !reflect.DeepEqual(next, state) {
		t.Errorf("empty update changed state:\n got %+v\nwant %+v", next, state)
	}
}

func TestApplyOverwrites(t *testing.T) {
	state := WorkflowState{RevisionCount: 1, CriticStatus: CriticFail}

	next := state.Apply(StateUpdate{
		RevisionCount:    IntPtr(0),
		CriticStatus:     StringPtr(CriticPass),
		ConflictDetected: BoolPtr(false),
		NeedsSignoff:     BoolPtr(false),
		Phase:            PhaseDone,
	})

	if next.RevisionCount != 0 {
		t.Errorf("revision count = %d, want overwritten 0", next.RevisionCount)
	}
	if next.CriticStatus != CriticPass {
		t.Errorf("critic status = %q, want pass", next.CriticStatus)
	}
	if next.Phase != PhaseDone {
		t.Errorf("phase = %s, want DONE", next.Phase)
	}
}

func TestApplyManifestMergesByKey(t *testing.T) {
	state := WorkflowState{
		PromptManifest: map[string]PromptUse{
			"cartographer_extraction": {Name: "cartographer_extraction", Source: "default"},
		},
	}

	next := state.Apply(StateUpdate{
		PromptManifest: map[string]PromptUse{
			"cartographer_extraction": {Name: "cartographer_extraction", Source: "registry"},
			"critic_review":           {Name: "critic_review", Source: "default"},
		},
	})

	if len(next.PromptManifest) != 2 {
		t.Fatalf("manifest entries = %d, want 2", len(next.PromptManifest))
	}
	if next.PromptManifest["cartographer_extraction"].Source != "registry" {
		t.Error("newer manifest entry should win per key")
	}
	if len(state.PromptManifest) != 1 {
		t.Error("merge mutated the receiver's manifest")
	}
}

func TestJobStatusMachine(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusQueued, JobStatusSucceeded, false},
		{JobStatusRunning, JobStatusSucceeded, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusNeedsSignoff, true},
		{JobStatusNeedsSignoff, JobStatusRunning, true},
		{JobStatusNeedsSignoff, JobStatusSucceeded, false},
		{JobStatusSucceeded, JobStatusFinalized, true},
		{JobStatusFinalized, JobStatusRunning, false},
		{JobStatusFailed, JobStatusRunning, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusSucceeded, JobStatusFailed, JobStatusFinalized} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusNeedsSignoff} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
