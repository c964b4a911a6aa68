package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/models"
)

func anchoredClaim(subject, predicate, object string) models.Claim {
	id := common.ClaimID(subject, predicate, object, "dochash_test", 1)
	return models.Claim{
		ID: id, ProjectID: "proj_test", IngestionID: "ing_test",
		Subject: subject, Predicate: predicate, Object: object,
		Confidence: 0.9,
		RQHits:     []string{"RQ1"},
		SourceAnchor: &models.SourceAnchor{
			DocID: "doc1", DocHash: "dochash_test", PageNumber: 1,
			Span: &models.Span{Start: 0, End: 10},
		},
	}
}

func TestCriticPassesCleanClaims(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.respond(llm.NodeCritic, criticPassVerdict)
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	state.ExtractedJSON.Triples = []models.Claim{anchoredClaim("Catalyst X", "increases", "yield")}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticPass {
		t.Fatalf("critic status = %v, want pass", update.CriticStatus)
	}
	if update.ConflictDetected == nil || *update.ConflictDetected {
		t.Error("clean claims should not flag a conflict")
	}
	if len(storage.reports) != 0 {
		t.Error("passing verdict should not persist a conflict report")
	}
}

func TestCriticFailsOnModelFinding(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.respond(llm.NodeCritic,
		`{"status":"fail","findings":[{"type":"UNSUPPORTED_CORE_CLAIM","severity":"BLOCKER","summary":"core claim has no support","claim_ids":["bogus_id"]}]}`)
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	state.ExtractedJSON.Triples = []models.Claim{anchoredClaim("Catalyst X", "increases", "yield")}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticFail {
		t.Fatal("blocker finding must fail the verdict")
	}
	if update.RevisionCount == nil || *update.RevisionCount != 1 {
		t.Errorf("revision count = %v, want 1", update.RevisionCount)
	}
	if update.ConflictReport == nil {
		t.Fatal("failed verdict must carry a conflict report")
	}
	report := update.ConflictReport
	if report.NextStep != models.NextStepReviseAndRetry {
		t.Errorf("next step = %s, want REVISE_AND_RETRY on first revision", report.NextStep)
	}
	if report.ConflictHash == "" {
		t.Error("report must carry a conflict hash")
	}
	// Unknown claim ids from the model are discarded
	for _, item := range report.Items {
		for _, id := range item.ContradictingClaims {
			if id == "bogus_id" {
				t.Error("unknown claim id leaked into the report")
			}
		}
	}
	if len(storage.reports) != 1 {
		t.Errorf("reports persisted = %d, want 1", len(storage.reports))
	}
}

func TestCriticDetectsContradictions(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.respond(llm.NodeCritic, criticPassVerdict)
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	state.ExtractedJSON.Triples = []models.Claim{
		anchoredClaim("Catalyst X", "increases", "yield"),
		anchoredClaim("Catalyst X", "increases", "nothing at all"),
	}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticFail {
		t.Fatal("contradicting objects for the same subject and predicate must fail")
	}

	found := false
	for _, item := range update.ConflictReport.Items {
		if item.Type == models.ConflictContradiction {
			found = true
		}
	}
	if !found {
		t.Error("report carries no CONTRADICTION item")
	}
}

func TestCriticDeadlockAfterRepeatedBlockers(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.respond(llm.NodeCritic,
		`{"status":"fail","findings":[{"type":"STRUCTURAL_CONFLICT","severity":"BLOCKER","summary":"framing cannot hold","claim_ids":[]}]}`)
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	state.RevisionCount = 1 // this failure is revision 2
	state.ExtractedJSON.Triples = []models.Claim{anchoredClaim("Catalyst X", "increases", "yield")}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	report := update.ConflictReport
	if report == nil || !report.Deadlock {
		t.Fatal("second revision with a standing blocker must declare deadlock")
	}
	if report.NextStep != models.NextStepTriggerReframing {
		t.Errorf("next step = %s, want TRIGGER_REFRAMING", report.NextStep)
	}
}

func TestCriticConservativePausesForHuman(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.respond(llm.NodeCritic, criticPassVerdict)
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	state.ProjectContext.RigorLevel = string(models.RigorConservative)
	// Three contradiction pairs trips the review threshold
	state.ExtractedJSON.Triples = []models.Claim{
		anchoredClaim("A", "weighs", "1 kg"), anchoredClaim("A", "weighs", "2 kg"),
		anchoredClaim("B", "weighs", "1 kg"), anchoredClaim("B", "weighs", "2 kg"),
		anchoredClaim("C", "weighs", "1 kg"), anchoredClaim("C", "weighs", "2 kg"),
	}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if update.NeedsHumanReview == nil || !*update.NeedsHumanReview {
		t.Error("conservative rigor with many contradictions must pause for review")
	}
	if update.ConflictReport.NextStep != models.NextStepPauseForHuman {
		t.Errorf("next step = %s, want PAUSE_FOR_HUMAN", update.ConflictReport.NextStep)
	}
}

func TestCriticConservativeBlocksUnanchoredClaims(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.respond(llm.NodeCritic, criticPassVerdict)
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	state.ProjectContext.RigorLevel = string(models.RigorConservative)
	state.ExtractedJSON.Triples = []models.Claim{{
		ID: "clm_x", ProjectID: "proj_test",
		Subject: "Catalyst X", Predicate: "increases", Object: "yield",
	}}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticFail {
		t.Fatal("conservative rigor must reject claims without anchors")
	}

	hasBlocker := false
	for _, item := range update.ConflictReport.Items {
		if item.Type == models.ConflictMissingEvidence && item.Severity == models.SeverityBlocker {
			hasBlocker = true
		}
	}
	if !hasBlocker {
		t.Error("missing anchor should be a MISSING_EVIDENCE blocker under conservative rigor")
	}
}

func TestCriticRejectsEmptyExtraction(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	critic := NewCritic(testDeps(storage, gateway))

	update, err := critic.Run(context.Background(), testState())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticFail {
		t.Fatal("an extraction without triples must fail")
	}
	if update.RevisionCount == nil || *update.RevisionCount != 1 {
		t.Errorf("revision count = %v, want 1", update.RevisionCount)
	}
	if gateway.callCount(llm.NodeCritic) != 0 {
		t.Error("empty extraction must not spend a review call")
	}
	if len(storage.reports) != 1 {
		t.Errorf("reports persisted = %d, want 1", len(storage.reports))
	}
	hasBlocker := false
	for _, item := range update.ConflictReport.Items {
		if item.Type == models.ConflictStructural && item.Severity == models.SeverityBlocker {
			hasBlocker = true
		}
	}
	if !hasBlocker {
		t.Error("report should carry a structural blocker for the empty extraction")
	}
}

func TestCriticRejectsGarbledExtraction(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	claim := anchoredClaim("Catalyst X", "increases", "yield")
	claim.ClaimText = "the the the the catalyst improves improves improves yield"
	state.ExtractedJSON.Triples = []models.Claim{claim}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticFail {
		t.Fatal("garbled extraction prose must fail")
	}
	if gateway.callCount(llm.NodeCritic) != 0 {
		t.Error("garbled extraction must not spend a review call")
	}
}

func TestCriticFailsWhenReviewUnavailable(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.errs[llm.NodeCritic] = errors.New("brain endpoint down")
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	state.ExtractedJSON.Triples = []models.Claim{anchoredClaim("Catalyst X", "increases", "yield")}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("review outage must fall through to a failed verdict, got %v", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticFail {
		t.Fatal("claims cannot pass unvetted when the review expert is down")
	}
	found := false
	for _, item := range update.ConflictReport.Items {
		if item.Severity == models.SeverityHigh && item.Type == models.ConflictStructural {
			found = true
		}
	}
	if !found {
		t.Error("report should record the review outage as a blocking finding")
	}
}

func TestCriticFailsOnContextConflictFlags(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.respond(llm.NodeCritic, criticPassVerdict)
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	state.ExtractedJSON.Triples = []models.Claim{anchoredClaim("Catalyst X", "increases", "yield")}
	state.ConflictFlags = []string{`external fact overrides canonical "Catalyst X" "contains"`}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticFail {
		t.Fatal("a standing context conflict flag must fail the verdict")
	}
	found := false
	for _, item := range update.ConflictReport.Items {
		if item.Type == models.ConflictContradiction && item.Severity == models.SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Error("report should carry the context conflict as a HIGH contradiction")
	}
}

func TestCriticFlagsUnknownResearchQuestion(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.respond(llm.NodeCritic, criticPassVerdict)
	critic := NewCritic(testDeps(storage, gateway))

	state := testState()
	claim := anchoredClaim("Catalyst X", "increases", "yield")
	claim.RQHits = []string{"RQ9"} // the project defines only RQ1
	state.ExtractedJSON.Triples = []models.Claim{claim}

	update, err := critic.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Advisory only: the verdict passes but the finding is counted
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticPass {
		t.Fatalf("critic status = %v, want pass with an advisory finding", update.CriticStatus)
	}
	if len(update.Messages) == 0 || !strings.Contains(update.Messages[0], "1 advisory") {
		t.Errorf("messages = %v, want the advisory finding counted", update.Messages)
	}
}

func TestCriticRetryLaterOnSaturation(t *testing.T) {
	storage := newMemStorage()
	gateway := newScriptedGateway()
	gateway.pressure[llm.NodeCritic] = interfaces.BackpressureRetryLater
	critic := NewCritic(testDeps(storage, gateway))

	update, err := critic.Run(context.Background(), testState())
	if !errors.Is(err, ErrRetryLater) {
		t.Fatalf("Run() error = %v, want ErrRetryLater", err)
	}
	if update.CriticStatus == nil || *update.CriticStatus != models.CriticRetryLater {
		t.Errorf("critic status = %v, want retry_later", update.CriticStatus)
	}
}
