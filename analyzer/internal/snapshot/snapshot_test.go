package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/rotaguard/rotaguard/analyzer/internal/schedtest"
	"github.com/rotaguard/rotaguard/pkg/types"
)

func writeSnapshot(t *testing.T, snap *types.Snapshot) string {
	t.Helper()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "schedule.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestFile_ClipsToWindow(t *testing.T) {
	src := schedtest.New("sched-1", 28).
		Rotation("icu", 1).
		Person("a", "PGY1").Assign("a", "icu", 0, 7, 56).
		Person("b", "PGY1").Assign("b", "icu", 7, 14, 56).
		Person("c", "PGY2").Assign("c", "icu", 14, 28, 112).
		Snapshot()
	path := writeSnapshot(t, src)

	got, err := NewFile(path).Snapshot(context.Background(), schedtest.Day(7), schedtest.Day(14))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got.ID != "sched-1" {
		t.Errorf("ID = %q", got.ID)
	}
	if !got.Start.Equal(schedtest.Day(7)) || !got.End.Equal(schedtest.Day(14)) {
		t.Errorf("window = [%s, %s)", got.Start, got.End)
	}
	if len(got.Persons) != 3 {
		t.Errorf("roster has %d persons, want all 3", len(got.Persons))
	}
	if len(got.Assignments) != 1 || got.Assignments[0].PersonID != "b" {
		t.Errorf("assignments = %+v, want only b's", got.Assignments)
	}
}

func TestFile_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewFile(filepath.Join(t.TempDir(), "missing.json")).Snapshot(ctx, schedtest.Day(0), schedtest.Day(1)); err == nil {
		t.Error("missing file: expected error")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(bad).Snapshot(ctx, schedtest.Day(0), schedtest.Day(1)); err == nil {
		t.Error("bad json: expected error")
	}

	path := writeSnapshot(t, schedtest.Team(2, 1, 7))
	if _, err := NewFile(path).Snapshot(ctx, schedtest.Day(3), schedtest.Day(1)); !errors.Is(err, types.ErrInvalidWindow) {
		t.Errorf("reversed window: err = %v, want ErrInvalidWindow", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := NewFile(path).Snapshot(cancelled, schedtest.Day(0), schedtest.Day(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.Snapshot)
	}{
		{"unknown person", func(s *types.Snapshot) { s.Assignments[0].PersonID = "ghost" }},
		{"unknown rotation", func(s *types.Snapshot) { s.Assignments[0].RotationID = "nowhere" }},
		{"duplicate person", func(s *types.Snapshot) { s.Persons = append(s.Persons, s.Persons[0]) }},
		{"duplicate rotation", func(s *types.Snapshot) { s.Rotations = append(s.Rotations, s.Rotations[0]) }},
		{"negative min staff", func(s *types.Snapshot) { s.Rotations[0].MinStaff = -1 }},
		{"negative hours", func(s *types.Snapshot) { s.Assignments[0].Hours = -8 }},
		{"reversed assignment", func(s *types.Snapshot) { s.Assignments[0].End = schedtest.Day(-1) }},
		{"empty person id", func(s *types.Snapshot) { s.Persons[0].ID = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := schedtest.Team(2, 1, 7)
			tc.mutate(snap)
			if err := Validate(snap); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}

	if err := Validate(schedtest.Team(3, 2, 7)); err != nil {
		t.Errorf("valid snapshot: %v", err)
	}
}

func TestStatic(t *testing.T) {
	snap := schedtest.Team(2, 1, 14)
	got, err := Static{Snap: snap}.Snapshot(context.Background(), schedtest.Day(0), schedtest.Day(7))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got == snap {
		t.Error("Static must return a copy")
	}
	if got.Window().Days() != 7 {
		t.Errorf("window days = %d, want 7", got.Window().Days())
	}
	if _, err := (Static{}).Snapshot(context.Background(), schedtest.Day(0), schedtest.Day(7)); !errors.Is(err, ErrMalformed) {
		t.Errorf("empty Static: err = %v", err)
	}
}
