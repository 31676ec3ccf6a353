package archive

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/flowkit/durable/internal/platform/config"
	"github.com/flowkit/durable/internal/platform/logger"
	"github.com/flowkit/durable/internal/workflow"
)

// Driver selects the gorm dialect GormStore opens. Postgres is the
// production target; SQLite backs tests and single-binary deployments
// without a Postgres instance.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// GormStore implements Store over gorm.
type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewFromEnv opens a GormStore using ARCHIVE_DB_DRIVER (postgres|sqlite,
// default sqlite) and the matching DSN environment variables.
func NewFromEnv(log *logger.Logger) (*GormStore, error) {
	driver := Driver(config.GetEnv("ARCHIVE_DB_DRIVER", string(DriverSQLite), log))
	switch driver {
	case DriverPostgres:
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			config.GetEnv("ARCHIVE_POSTGRES_USER", "postgres", log),
			config.GetEnv("ARCHIVE_POSTGRES_PASSWORD", "", nil),
			config.GetEnv("ARCHIVE_POSTGRES_HOST", "localhost", log),
			config.GetEnv("ARCHIVE_POSTGRES_PORT", "5432", log),
			config.GetEnv("ARCHIVE_POSTGRES_NAME", "durable", log),
		)
		return New(DriverPostgres, dsn, log)
	default:
		path := config.GetEnv("ARCHIVE_SQLITE_PATH", "durable_archive.db", log)
		return New(DriverSQLite, path, log)
	}
}

// New opens dsn under driver and migrates the archive table.
func New(driver Driver, dsn string, log *logger.Logger) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("archive: automigrate: %w", err)
	}
	storeLog := log
	if storeLog != nil {
		storeLog = storeLog.With("service", "archive.GormStore")
	}
	return &GormStore{db: db, log: storeLog}, nil
}

// Record upserts the archived row for (workflowID, jobID).
func (s *GormStore) Record(ctx context.Context, workflowID, jobID, state string, js *workflow.JobState) error {
	snapshot, err := marshalSnapshot(js)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}
	row := Record{
		WorkflowID: workflowID,
		JobID:      jobID,
		State:      state,
		Snapshot:   datatypes.JSON(snapshot),
		Attempts:   js.Metrics.Attempts,
		ArchivedAt: time.Now(),
	}
	res := s.db.WithContext(ctx).Save(&row)
	if res.Error != nil {
		return fmt.Errorf("archive: save: %w", res.Error)
	}
	return nil
}

// Get loads the archived JobState for (workflowID, jobID), or nil if not
// yet archived.
func (s *GormStore) Get(ctx context.Context, workflowID, jobID string) (*workflow.JobState, error) {
	var row Record
	err := s.db.WithContext(ctx).
		Where("workflow_id = ? AND job_id = ?", workflowID, jobID).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: get: %w", err)
	}
	return unmarshalSnapshot(row.Snapshot)
}
