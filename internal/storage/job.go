package storage

import (
	"errors"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
	"github.com/andrewpyen/arcpy-automated-map-creation/log"
	"github.com/andrewpyen/arcpy-automated-map-creation/pkg/backoff"
)

// statusRetries bounds how often one status write is retried before the
// update is dropped. SQLite holds a single write lock, so concurrent jobs
// occasionally see a busy database.
const statusRetries = 6

var statusRetryPolicy = backoff.Policy{Initial: 250 * time.Millisecond, Cap: 2 * time.Second}

// OnStatusWriteRetry, when set, is called once per failed write attempt. The
// metrics layer hooks it at boot; the store stays import-free of it.
var OnStatusWriteRetry func()

var ErrNotInitialized = errors.New("database not initialized")

// Store reads and writes job rows. The zero value is unusable; construct one
// with NewStore, or Default after InitDB.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Default returns a store over the globally initialized database.
func Default() *Store {
	return &Store{db: DB}
}

// CreateJob inserts a fresh job row.
func (s *Store) CreateJob(job *types.MapJob) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	return s.db.Create(job).Error
}

// SaveJob upserts by the public job id, preserving the row's primary key.
func (s *Store) SaveJob(job *types.MapJob) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	var existing types.MapJob
	result := s.db.Where("job_id = ?", job.JobId).First(&existing)
	if result.Error == nil {
		job.Id = existing.Id
		return s.db.Save(job).Error
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return s.db.Create(job).Error
	}
	return result.Error
}

func (s *Store) GetJob(jobID string) (*types.MapJob, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	var job types.MapJob
	if err := s.db.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs newest-first. limit <= 0 lists everything.
func (s *Store) ListJobs(limit int) ([]types.MapJob, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	q := s.db.Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var jobs []types.MapJob
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListJobsByStatus returns jobs in the given status, newest-first.
func (s *Store) ListJobsByStatus(status types.JobStatus) ([]types.MapJob, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	var jobs []types.MapJob
	if err := s.db.Where("status = ?", string(status)).Order("created_at desc").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountByStatus returns how many jobs sit in each status.
func (s *Store) CountByStatus() (map[types.JobStatus]int64, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	type row struct {
		Status types.JobStatus
		N      int64
	}
	var rows []row
	if err := s.db.Model(&types.MapJob{}).Select("status, count(*) as n").Group("status").Find(&rows).Error; err != nil {
		return nil, err
	}
	return lo.SliceToMap(rows, func(r row) (types.JobStatus, int64) {
		return r.Status, r.N
	}), nil
}

// UpdateStatus writes a lifecycle transition for a job. The write is guarded:
// it only lands when the row's current status is an allowed predecessor of the
// target, so a stale writer can never demote a cancelling job or resurrect a
// terminal one. Transient failures are retried with backoff and, past the
// retry budget, dropped with a log line; callers never see a status-write
// error.
func (s *Store) UpdateStatus(jobID string, status types.JobStatus, errMsg string) {
	for attempt := 1; attempt <= statusRetries; attempt++ {
		err := s.writeStatus(jobID, status, errMsg)
		if err == nil {
			return
		}
		if OnStatusWriteRetry != nil {
			OnStatusWriteRetry()
		}
		log.GetLogger().Warn("status update failed, retrying",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		time.Sleep(backoff.Delay(attempt, &statusRetryPolicy))
	}
	log.GetLogger().Error("status update dropped after retries",
		zap.String("job_id", jobID),
		zap.String("status", string(status)))
}

func (s *Store) writeStatus(jobID string, status types.JobStatus, errMsg string) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	prior := lo.Map(status.AllowedPrior(), func(st types.JobStatus, _ int) string {
		return string(st)
	})
	result := s.db.Model(&types.MapJob{}).
		Where("job_id = ? AND status IN ?", jobID, prior).
		Updates(map[string]interface{}{
			"status": string(status),
			"error":  errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Unknown job or a transition the guard rejected. Not a failure:
		// the row already moved on.
		log.GetLogger().Debug("status transition skipped",
			zap.String("job_id", jobID),
			zap.String("status", string(status)))
	}
	return nil
}

// MarkStaleJobs fails every job left in a non-terminal working state by a
// previous process. Meant for the explicit sweep command, not for startup.
func (s *Store) MarkStaleJobs() (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	result := s.db.Model(&types.MapJob{}).
		Where("status IN ?", []string{string(types.JobStatusProcessing), string(types.JobStatusCancelling)}).
		Updates(map[string]interface{}{
			"status": string(types.JobStatusFailed),
			"error":  "Job interrupted by server restart",
		})
	return result.RowsAffected, result.Error
}
