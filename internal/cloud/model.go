package cloud

// SnapshotRecord is the service copy of one snapshot of one account.
// ReceivedAtMs is the service clock when the current version was accepted
// and drives incremental pulls; UpdatedAtMs is the client's last-writer-wins
// timestamp.
type SnapshotRecord struct {
	UserID       string  `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_cloud_snapshots_user_received,priority:1"`
	Date         string  `gorm:"column:date;primaryKey;size:10;not null"`
	CategoryID   string  `gorm:"column:category_id;primaryKey;size:190;not null"`
	Amount       int64   `gorm:"column:amount;not null"`
	Memo         *string `gorm:"column:memo;type:text"`
	UpdatedAtMs  int64   `gorm:"column:updated_at_ms;not null"`
	IsDeleted    bool    `gorm:"column:is_deleted;not null"`
	ReceivedAtMs int64   `gorm:"column:received_at_ms;not null;index:idx_cloud_snapshots_user_received,priority:2"`
	Version      int64   `gorm:"column:version;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SnapshotRecord) TableName() string {
	return "cloud_snapshots"
}

// CategoryRecord is the service copy of one category of one account.
type CategoryRecord struct {
	UserID       string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_cloud_categories_user_received,priority:1"`
	CategoryID   string `gorm:"column:category_id;primaryKey;size:190;not null"`
	Name         string `gorm:"column:name;size:320;not null"`
	Icon         string `gorm:"column:icon;size:190;not null"`
	SortOrder    int    `gorm:"column:sort_order;not null"`
	IsDefault    bool   `gorm:"column:is_default;not null"`
	UpdatedAtMs  int64  `gorm:"column:updated_at_ms;not null"`
	IsDeleted    bool   `gorm:"column:is_deleted;not null"`
	ReceivedAtMs int64  `gorm:"column:received_at_ms;not null;index:idx_cloud_categories_user_received,priority:2"`
	Version      int64  `gorm:"column:version;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CategoryRecord) TableName() string {
	return "cloud_categories"
}

// Operation names an accepted change in the audit trail.
type Operation string

const (
	OperationUpsert Operation = "upsert"
	OperationDelete Operation = "delete"
)

// RecordKind names the entity an audit entry refers to.
type RecordKind string

const (
	KindSnapshot RecordKind = "snapshot"
	KindCategory RecordKind = "category"
)

// ChangeRecord captures an append-only audit trail of accepted pushes.
type ChangeRecord struct {
	ChangeID        string     `gorm:"column:change_id;primaryKey;size:190;not null"`
	UserID          string     `gorm:"column:user_id;not null;index:idx_cloud_changes_user_time,priority:1"`
	Kind            RecordKind `gorm:"column:kind;size:16;not null"`
	RecordKey       string     `gorm:"column:record_key;size:400;not null"`
	Operation       Operation  `gorm:"column:op;size:16;not null"`
	AppliedAtMs     int64      `gorm:"column:applied_at_ms;not null;index:idx_cloud_changes_user_time,priority:2"`
	ClientUpdatedAt int64      `gorm:"column:client_updated_at_ms;not null"`
	PreviousVersion *int64     `gorm:"column:prev_version"`
	NewVersion      int64      `gorm:"column:new_version;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeRecord) TableName() string {
	return "cloud_changes"
}

// Models lists the service's persisted types for migration.
func Models() []any {
	return []any{&SnapshotRecord{}, &CategoryRecord{}, &ChangeRecord{}}
}

// ConflictOutcome captures the decision for one pushed record.
type ConflictOutcome[T any] struct {
	Accepted    bool
	Stored      T
	AuditRecord *ChangeRecord
}
