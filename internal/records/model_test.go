package records

import (
	"errors"
	"testing"
	"time"
)

func TestNewDateValidation(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "zero padded", input: "2024-03-01"},
		{name: "surrounding space", input: " 2024-12-31 "},
		{name: "missing padding", input: "2024-3-1", wantErr: true},
		{name: "slashes", input: "2024/03/01", wantErr: true},
		{name: "impossible day", input: "2024-02-30", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "timestamp", input: "2024-03-01T00:00:00Z", wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewDate(testCase.input)
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidDate) {
					t.Fatalf("expected ErrInvalidDate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDateOrderingMatchesCalendar(t *testing.T) {
	earlier := mustDate(t, "2023-12-31")
	later := mustDate(t, "2024-01-01")
	if !(earlier < later) {
		t.Fatalf("expected %s to sort before %s", earlier, later)
	}
	if earlier.AddDays(1) != later {
		t.Fatalf("expected AddDays to cross the year boundary, got %s", earlier.AddDays(1))
	}
}

func TestStampTransitions(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	var stamp Stamp
	stamp.MarkModified(now)
	if stamp.State != StateModified || stamp.LastModified != now.UnixMilli() {
		t.Fatalf("unexpected stamp after modify: %+v", stamp)
	}

	stamp.MarkSynced()
	if stamp.State != StateSynced {
		t.Fatalf("expected synced, got %s", stamp.State)
	}

	later := now.Add(time.Second)
	stamp.MarkDeleted(later)
	if stamp.State != StatePendingDelete || stamp.LastModified != later.UnixMilli() {
		t.Fatalf("unexpected stamp after delete: %+v", stamp)
	}

	stamp.MarkSynced()
	if stamp.State != StatePendingDelete {
		t.Fatalf("mark synced must not touch tombstones, got %s", stamp.State)
	}
}

func TestLifecycleProjection(t *testing.T) {
	snapshot := Snapshot{
		Date:       "2024-03-01",
		CategoryID: "cash",
		Amount:     100,
		Stamp:      Stamp{LastModified: 42, State: StateModified},
	}
	version := snapshot.Lifecycle()
	if version.Deleted() {
		t.Fatalf("expected active version")
	}
	if live, ok := version.Live(); !ok || live.Amount != 100 {
		t.Fatalf("unexpected live record: %+v %v", live, ok)
	}

	snapshot.State = StatePendingDelete
	tombstone := snapshot.Lifecycle()
	if !tombstone.Deleted() || tombstone.At() != 42 {
		t.Fatalf("expected tombstone at 42, got %+v", tombstone)
	}
	if _, ok := tombstone.Live(); ok {
		t.Fatalf("tombstone must not expose a live record")
	}
	if tombstone.Ref().Key() != snapshot.Key() {
		t.Fatalf("tombstone must keep the key")
	}
}

func TestParseAuthProvider(t *testing.T) {
	provider, err := ParseAuthProvider(" google ")
	if err != nil || provider != ProviderGoogle {
		t.Fatalf("expected GOOGLE, got %q %v", provider, err)
	}
	if _, err := ParseAuthProvider("github"); !errors.Is(err, ErrInvalidAuthProvider) {
		t.Fatalf("expected ErrInvalidAuthProvider, got %v", err)
	}
}
