package diagstore

import (
	"time"

	"gorm.io/datatypes"
)

// Run is one recorded pipeline pass over a document: the revision it
// observed plus every diagnostic the collector held at that moment.
type Run struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Doc       string `gorm:"type:varchar(255);index"`
	Revision  uint64 `gorm:"not null"`
	StartedAt time.Time `gorm:"autoCreateTime;index"`

	Records []Record `gorm:"foreignKey:RunID"`
}

// Record is one diag.Diagnostic, flattened for storage.
type Record struct {
	ID    string `gorm:"primaryKey;type:varchar(36)"`
	RunID string `gorm:"type:varchar(36);index"`

	Code     string `gorm:"type:varchar(50);not null"`
	Message  string `gorm:"type:text"`
	Severity string `gorm:"type:varchar(10);not null"`

	SpanStart int `gorm:"not null"`
	SpanEnd   int `gorm:"not null"`

	Extra datatypes.JSON `gorm:"type:jsonb"`
}

func (Run) TableName() string    { return "diagnostic_runs" }
func (Record) TableName() string { return "diagnostic_records" }
