package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBatchInsertAssessments(t *testing.T) {
	db, err := NewMemoryDB()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("Failed to close database: %v", closeErr)
		}
	}()

	ctx := context.Background()
	seedFramework(t, db, "FW")
	seedControls(t, db, "FW", map[string]int{"AC-1": 5})

	assessments := []*Assessment{
		{FrameworkID: "FW", ControlID: "AC-1", AssessmentDate: date("2026-01-10"), Status: StatusPartial, Assessor: "alice"},
		{FrameworkID: "FW", ControlID: "AC-1", AssessmentDate: date("2026-03-01"), Status: StatusCompliant, Assessor: "bob", HasEvidence: true},
	}
	if err := db.BatchInsertAssessments(ctx, assessments); err != nil {
		t.Fatalf("BatchInsertAssessments() error = %v", err)
	}

	// Re-running the same batch is idempotent
	if err := db.BatchInsertAssessments(ctx, assessments); err != nil {
		t.Fatalf("BatchInsertAssessments() re-run error = %v", err)
	}

	latest, err := db.GetLatestAssessment(ctx, "FW", "AC-1")
	if err != nil {
		t.Fatalf("GetLatestAssessment() error = %v", err)
	}
	if latest == nil {
		t.Fatal("GetLatestAssessment() = nil, want latest assessment")
	}
	if latest.Status != StatusCompliant || latest.Assessor != "bob" {
		t.Errorf("GetLatestAssessment() = %+v, want the 2026-03-01 assessment", latest)
	}
	if !latest.HasEvidence {
		t.Errorf("GetLatestAssessment() HasEvidence = false, want true")
	}

	// Unknown status is rejected before anything is written
	err = db.BatchInsertAssessments(ctx, []*Assessment{
		{FrameworkID: "FW", ControlID: "AC-1", AssessmentDate: date("2026-04-01"), Status: "unknown"},
	})
	if err == nil {
		t.Errorf("BatchInsertAssessments() with bad status: expected error")
	}
}

func TestGetLatestAssessmentNone(t *testing.T) {
	db, err := NewMemoryDB()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("Failed to close database: %v", closeErr)
		}
	}()

	ctx := context.Background()
	seedFramework(t, db, "FW")
	seedControls(t, db, "FW", map[string]int{"AC-1": 5})

	// An empty history is not an error
	latest, err := db.GetLatestAssessment(ctx, "FW", "AC-1")
	if err != nil {
		t.Fatalf("GetLatestAssessment() error = %v", err)
	}
	if latest != nil {
		t.Errorf("GetLatestAssessment() = %+v, want nil for never-assessed control", latest)
	}
}

func TestThreatCounts(t *testing.T) {
	db, err := NewMemoryDB()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("Failed to close database: %v", closeErr)
		}
	}()

	ctx := context.Background()
	seedFramework(t, db, "FW")
	seedControls(t, db, "FW", map[string]int{"SC-7": 9})

	mappings := []*ThreatMapping{
		{FrameworkID: "FW", ControlID: "SC-7", ThreatID: "CVE-2026-0001", Kind: ThreatExploited, Confidence: 1.0},
		{FrameworkID: "FW", ControlID: "SC-7", ThreatID: "CVE-2026-0002", Kind: ThreatExploited, Confidence: 0.8},
		{FrameworkID: "FW", ControlID: "SC-7", ThreatID: "CVE-2026-0003", Kind: ThreatKnown, Confidence: 1.0},
		{FrameworkID: "FW", ControlID: "SC-7", ThreatID: "T1190", Kind: ThreatTechnique, Confidence: 0.9},
	}
	if err := db.BatchInsertThreatMappings(ctx, mappings); err != nil {
		t.Fatalf("BatchInsertThreatMappings() error = %v", err)
	}

	// Idempotent on (framework, control, threat id)
	if err := db.BatchInsertThreatMappings(ctx, mappings); err != nil {
		t.Fatalf("BatchInsertThreatMappings() re-run error = %v", err)
	}

	counts, err := db.GetThreatCounts(ctx, "FW", "SC-7")
	if err != nil {
		t.Fatalf("GetThreatCounts() error = %v", err)
	}
	if counts.Exploited != 2 || counts.Known != 1 || counts.Technique != 1 {
		t.Errorf("GetThreatCounts() = %+v, want 2/1/1", counts)
	}
	if counts.Total() != 4 {
		t.Errorf("Total() = %d, want 4", counts.Total())
	}

	err = db.BatchInsertThreatMappings(ctx, []*ThreatMapping{
		{FrameworkID: "FW", ControlID: "SC-7", ThreatID: "X", Kind: "bogus"},
	})
	if err == nil {
		t.Errorf("BatchInsertThreatMappings() with bad kind: expected error")
	}
}

func TestGetControlState(t *testing.T) {
	db, err := NewMemoryDB()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("Failed to close database: %v", closeErr)
		}
	}()

	ctx := context.Background()
	seedFramework(t, db, "FW")
	seedControls(t, db, "FW", map[string]int{"AC-1": 8, "AC-2": 4})

	err = db.BatchInsertAssessments(ctx, []*Assessment{
		{FrameworkID: "FW", ControlID: "AC-1", AssessmentDate: date("2025-06-01"), Status: StatusNonCompliant},
		{FrameworkID: "FW", ControlID: "AC-1", AssessmentDate: date("2026-01-10"), Status: StatusPartial},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.BatchInsertThreatMappings(ctx, []*ThreatMapping{
		{FrameworkID: "FW", ControlID: "AC-1", ThreatID: "CVE-2026-0001", Kind: ThreatExploited, Confidence: 1.0},
	})
	if err != nil {
		t.Fatal(err)
	}

	state, err := db.GetControlState(ctx, "FW", "AC-1")
	if err != nil {
		t.Fatalf("GetControlState() error = %v", err)
	}
	if state.Status != StatusPartial {
		t.Errorf("Status = %s, want the latest assessment (partial)", state.Status)
	}
	if !state.LastAssessed.Valid || !state.LastAssessed.Time.Equal(date("2026-01-10")) {
		t.Errorf("LastAssessed = %+v, want 2026-01-10", state.LastAssessed)
	}
	if state.Weight != 8 {
		t.Errorf("Weight = %d, want 8", state.Weight)
	}
	if state.Threats.Exploited != 1 {
		t.Errorf("Threats.Exploited = %d, want 1", state.Threats.Exploited)
	}

	// Never-assessed controls read as not_assessed, not as an error
	state, err = db.GetControlState(ctx, "FW", "AC-2")
	if err != nil {
		t.Fatalf("GetControlState() error = %v", err)
	}
	if state.Status != StatusNotAssessed {
		t.Errorf("Status = %s, want not_assessed", state.Status)
	}
	if state.LastAssessed.Valid {
		t.Errorf("LastAssessed.Valid = true, want false for never-assessed control")
	}

	_, err = db.GetControlState(ctx, "FW", "missing")
	if !errors.Is(err, ErrUnknownControl) {
		t.Errorf("GetControlState(missing) error = %v, want ErrUnknownControl", err)
	}
}

func TestListControlStates(t *testing.T) {
	db, err := NewMemoryDB()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("Failed to close database: %v", closeErr)
		}
	}()

	ctx := context.Background()
	seedFramework(t, db, "FW-A")
	seedFramework(t, db, "FW-B")
	seedControls(t, db, "FW-A", map[string]int{"A-1": 5, "A-2": 6})
	seedControls(t, db, "FW-B", map[string]int{"B-1": 7})

	states, err := db.ListControlStates(ctx, "FW-A")
	if err != nil {
		t.Fatalf("ListControlStates() error = %v", err)
	}
	if len(states) != 2 {
		t.Errorf("ListControlStates(FW-A) returned %d states, want 2", len(states))
	}

	// Empty framework id spans all frameworks
	states, err = db.ListControlStates(ctx, "")
	if err != nil {
		t.Fatalf("ListControlStates() error = %v", err)
	}
	if len(states) != 3 {
		t.Errorf("ListControlStates(all) returned %d states, want 3", len(states))
	}
}
