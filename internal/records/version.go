package records

// Version is a record at a point in its two-phase deletion lifecycle: either
// Active, carrying the current value, or a Tombstone, carrying only the
// identity of the deleted record and the time of deletion. Every version has
// the timestamp used for last-writer-wins comparison.
type Version[T any] struct {
	record  T
	at      int64
	deleted bool
}

// Active wraps a live record modified at the given epoch milliseconds.
func Active[T any](record T, at int64) Version[T] {
	return Version[T]{record: record, at: at}
}

// Tombstone wraps the identity of a record deleted at the given epoch milliseconds.
// Only the key fields of ref are meaningful.
func Tombstone[T any](ref T, at int64) Version[T] {
	return Version[T]{record: ref, at: at, deleted: true}
}

// At returns the last-writer-wins timestamp.
func (v Version[T]) At() int64 {
	return v.at
}

// Deleted reports whether this version is a tombstone.
func (v Version[T]) Deleted() bool {
	return v.deleted
}

// Live returns the record and true when the version is active.
func (v Version[T]) Live() (T, bool) {
	if v.deleted {
		var zero T
		return zero, false
	}
	return v.record, true
}

// Ref returns the carried record regardless of the variant. For tombstones
// only the key fields are meaningful.
func (v Version[T]) Ref() T {
	return v.record
}

func lifecycleOf[T any](record T, stamp Stamp) Version[T] {
	if stamp.State == StatePendingDelete {
		return Tombstone(record, stamp.LastModified)
	}
	return Active(record, stamp.LastModified)
}
