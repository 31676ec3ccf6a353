package archive

import (
	"time"

	"gorm.io/datatypes"
)

// Record is the durable audit row for one terminal job: a frozen copy of
// its JobState, written once the job completes or fails, independent of
// whatever retention policy the queue itself applies to finished jobs.
type Record struct {
	WorkflowID string         `gorm:"column:workflow_id;primaryKey"`
	JobID      string         `gorm:"column:job_id;primaryKey"`
	State      string         `gorm:"column:state;index"`
	Snapshot   datatypes.JSON `gorm:"column:snapshot"`
	Attempts   int            `gorm:"column:attempts"`
	ArchivedAt time.Time      `gorm:"column:archived_at;index"`
}

func (Record) TableName() string { return "durable_job_archive" }
