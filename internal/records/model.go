package records

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout          = "2006-01-02"
	maxIdentifierLength = 190
)

var (
	// ErrInvalidDate indicates that a date is not a zero-padded YYYY-MM-DD calendar day.
	ErrInvalidDate = errors.New("records: invalid date")
	// ErrInvalidCategoryID indicates that a category identifier is empty or exceeds storage bounds.
	ErrInvalidCategoryID = errors.New("records: invalid category id")
	// ErrInvalidProfileID indicates that a profile identifier is empty or exceeds storage bounds.
	ErrInvalidProfileID = errors.New("records: invalid profile id")
	// ErrInvalidAuthProvider indicates an unknown authentication provider name.
	ErrInvalidAuthProvider = errors.New("records: invalid auth provider")
	// ErrNotFound indicates that no record exists for the requested key.
	ErrNotFound = errors.New("records: not found")
)

// Date is a validated calendar day in YYYY-MM-DD form. The fixed width makes
// lexicographic order equal to calendar order, which the store relies on.
type Date string

// NewDate validates raw input and returns a Date.
func NewDate(rawInput string) (Date, error) {
	trimmed := strings.TrimSpace(rawInput)
	parsed, err := time.Parse(dateLayout, trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, rawInput)
	}
	if parsed.Format(dateLayout) != trimmed {
		return "", fmt.Errorf("%w: %q is not zero-padded", ErrInvalidDate, rawInput)
	}
	return Date(trimmed), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// String returns the underlying YYYY-MM-DD value.
func (d Date) String() string {
	return string(d)
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	parsed, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// CategoryID represents a validated category identifier.
type CategoryID string

// NewCategoryID validates raw input and returns a CategoryID.
func NewCategoryID(rawInput string) (CategoryID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCategoryID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCategoryID, maxIdentifierLength)
	}
	return CategoryID(trimmed), nil
}

// String returns the underlying identifier.
func (id CategoryID) String() string {
	return string(id)
}

// SyncState is the synchronization lifecycle attached to every mutable record.
type SyncState int

const (
	// StateSynced means the local copy matches what the remote service has acknowledged.
	StateSynced SyncState = 0
	// StateModified means the record carries a local change not yet pushed.
	StateModified SyncState = 1
	// StatePendingDelete means the record is a tombstone waiting to be pushed and purged.
	StatePendingDelete SyncState = 2
)

// String returns a readable state name.
func (s SyncState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateModified:
		return "modified"
	case StatePendingDelete:
		return "pending-delete"
	default:
		return fmt.Sprintf("sync-state(%d)", int(s))
	}
}

// Dirty reports whether the record still has to be pushed.
func (s SyncState) Dirty() bool {
	return s != StateSynced
}

// Stamp carries the last-modified time (epoch milliseconds, device clock) and sync state.
type Stamp struct {
	LastModified int64
	State        SyncState
}

// MarkModified moves any state to modified and refreshes the timestamp.
func (s *Stamp) MarkModified(now time.Time) {
	s.LastModified = now.UnixMilli()
	s.State = StateModified
}

// MarkDeleted moves any state to pending-delete and refreshes the timestamp.
func (s *Stamp) MarkDeleted(now time.Time) {
	s.LastModified = now.UnixMilli()
	s.State = StatePendingDelete
}

// MarkSynced moves modified to synced. Tombstones are left alone; they leave
// the store only through purge.
func (s *Stamp) MarkSynced() {
	if s.State == StateModified {
		s.State = StateSynced
	}
}

// SnapshotKey identifies a snapshot.
type SnapshotKey struct {
	Date       Date
	CategoryID CategoryID
}

// Snapshot is the recorded amount (minor currency units) for one category on one day.
type Snapshot struct {
	Date       Date
	CategoryID CategoryID
	Amount     int64
	Memo       string
	Stamp
}

// Key returns the snapshot's composite key.
func (s Snapshot) Key() SnapshotKey {
	return SnapshotKey{Date: s.Date, CategoryID: s.CategoryID}
}

// Lifecycle projects the snapshot onto the Active/Tombstone variant.
func (s Snapshot) Lifecycle() Version[Snapshot] {
	return lifecycleOf(s, s.Stamp)
}

func (s Snapshot) validate() error {
	if _, err := NewDate(s.Date.String()); err != nil {
		return err
	}
	if _, err := NewCategoryID(s.CategoryID.String()); err != nil {
		return err
	}
	return nil
}

// Category is a bucket of asset types.
type Category struct {
	ID        CategoryID
	Name      string
	Icon      string
	SortOrder int
	IsDefault bool
	Stamp
}

// Lifecycle projects the category onto the Active/Tombstone variant.
func (c Category) Lifecycle() Version[Category] {
	return lifecycleOf(c, c.Stamp)
}

func (c Category) validate() error {
	_, err := NewCategoryID(c.ID.String())
	return err
}

// AuthProvider names the identity provider a profile signed in with.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "LOCAL"
	ProviderGoogle AuthProvider = "GOOGLE"
	ProviderKakao  AuthProvider = "KAKAO"
	ProviderNaver  AuthProvider = "NAVER"
)

// ParseAuthProvider normalizes a provider name.
func ParseAuthProvider(rawInput string) (AuthProvider, error) {
	switch provider := AuthProvider(strings.ToUpper(strings.TrimSpace(rawInput))); provider {
	case ProviderLocal, ProviderGoogle, ProviderKakao, ProviderNaver:
		return provider, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAuthProvider, rawInput)
	}
}

// Profile is one known identity cached on the device.
type Profile struct {
	ID           string
	Email        string
	DisplayName  string
	Provider     AuthProvider
	IsActive     bool
	LastSyncTime *int64
	CreatedAt    int64
}

func (p Profile) validate() error {
	trimmed := strings.TrimSpace(p.ID)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidProfileID)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidProfileID, maxIdentifierLength)
	}
	return nil
}
