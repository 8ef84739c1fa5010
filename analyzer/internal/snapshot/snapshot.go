package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rotaguard/rotaguard/pkg/types"
)

// ErrMalformed is returned, wrapped, when a snapshot is internally
// inconsistent.
var ErrMalformed = errors.New("snapshot: malformed")

// Accessor fetches a time-boxed, read-only view of a schedule.
type Accessor interface {
	Snapshot(ctx context.Context, start, end time.Time) (*types.Snapshot, error)
}

// File reads the schedule from a JSON export on disk. The file is re-read
// on every call so a refreshed export is picked up by the next run.
type File struct {
	path string
}

// NewFile returns an Accessor backed by the JSON file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Snapshot decodes the file and clips it to [start, end).
func (f *File) Snapshot(ctx context.Context, start, end time.Time) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", f.path, err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", f.path, err)
	}
	return Clip(&snap, start, end)
}

// Static serves a snapshot already in memory.
type Static struct {
	Snap *types.Snapshot
}

// Snapshot clips the held snapshot to [start, end).
func (s Static) Snapshot(ctx context.Context, start, end time.Time) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Snap == nil {
		return nil, fmt.Errorf("%w: no snapshot loaded", ErrMalformed)
	}
	return Clip(s.Snap, start, end)
}

// Clip validates snap and returns a copy restricted to [start, end): only
// assignments overlapping the window and rotations whose requirement
// applies in it are kept. The roster is kept whole so that unassigned
// persons still count toward margin and continuity.
func Clip(snap *types.Snapshot, start, end time.Time) (*types.Snapshot, error) {
	w := types.Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := Validate(snap); err != nil {
		return nil, err
	}

	out := &types.Snapshot{
		ID:      snap.ID,
		Start:   start,
		End:     end,
		Persons: append([]types.Person(nil), snap.Persons...),
	}
	for _, r := range snap.Rotations {
		if (r.Start.IsZero() || r.Start.Before(end)) && (r.End.IsZero() || r.End.After(start)) {
			out.Rotations = append(out.Rotations, r)
		}
	}
	for _, a := range snap.Assignments {
		if a.Overlaps(start, end) {
			out.Assignments = append(out.Assignments, a)
		}
	}
	return out, nil
}

// Validate checks the referential integrity of snap.
func Validate(snap *types.Snapshot) error {
	persons := make(map[string]bool, len(snap.Persons))
	for i, p := range snap.Persons {
		if p.ID == "" {
			return fmt.Errorf("%w: persons[%d] has no id", ErrMalformed, i)
		}
		if persons[p.ID] {
			return fmt.Errorf("%w: duplicate person %q", ErrMalformed, p.ID)
		}
		if p.MaxHours < 0 {
			return fmt.Errorf("%w: person %q has negative max hours", ErrMalformed, p.ID)
		}
		persons[p.ID] = true
	}

	rotations := make(map[string]bool, len(snap.Rotations))
	for i, r := range snap.Rotations {
		if r.ID == "" {
			return fmt.Errorf("%w: rotations[%d] has no id", ErrMalformed, i)
		}
		if rotations[r.ID] {
			return fmt.Errorf("%w: duplicate rotation %q", ErrMalformed, r.ID)
		}
		if r.MinStaff < 0 {
			return fmt.Errorf("%w: rotation %q has negative min staff", ErrMalformed, r.ID)
		}
		rotations[r.ID] = true
	}

	for i, a := range snap.Assignments {
		switch {
		case !persons[a.PersonID]:
			return fmt.Errorf("%w: assignments[%d] references unknown person %q", ErrMalformed, i, a.PersonID)
		case !rotations[a.RotationID]:
			return fmt.Errorf("%w: assignments[%d] references unknown rotation %q", ErrMalformed, i, a.RotationID)
		case a.End.Before(a.Start):
			return fmt.Errorf("%w: assignments[%d] (%s on %s) ends before it starts", ErrMalformed, i, a.PersonID, a.RotationID)
		case a.Hours < 0:
			return fmt.Errorf("%w: assignments[%d] (%s on %s) has negative hours", ErrMalformed, i, a.PersonID, a.RotationID)
		}
	}
	return nil
}
