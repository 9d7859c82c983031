package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BeforeCreate assigns a random document id when none is set.
func (r *HistoryRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// GormHistoryStore keeps history in a SQL table.
type GormHistoryStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormHistoryStore(db *gorm.DB, logger *zap.Logger) *GormHistoryStore {
	return &GormHistoryStore{db: db, logger: logger.Named("history_repository")}
}

// AutoMigrate ensures the schema is available.
func (s *GormHistoryStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&HistoryRecord{})
}

func (s *GormHistoryStore) Record(ctx context.Context, record *HistoryRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logger.Error("failed to insert history record", zap.String("uid", record.UID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

func (s *GormHistoryStore) ListForSubject(ctx context.Context, uid string) ([]*HistoryRecord, error) {
	var records []*HistoryRecord
	if err := s.db.WithContext(ctx).Where("uid = ?", uid).Find(&records).Error; err != nil {
		s.logger.Error("failed to query history", zap.String("uid", uid), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return records, nil
}
