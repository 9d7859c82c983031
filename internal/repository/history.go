package repository

import (
	"context"
	"errors"
	"time"
)

var ErrPersistenceFailed = errors.New("persistence failed")

// HistoryRecord is one accepted prediction. Records are written once and
// never updated or deleted.
type HistoryRecord struct {
	ID             string    `gorm:"column:id;primaryKey;size:36" firestore:"-" json:"id"`
	UID            string    `gorm:"column:uid;index;size:128;not null" firestore:"uid" json:"uid"`
	Email          string    `gorm:"column:user_email;size:320" firestore:"user_email,omitempty" json:"user_email,omitempty"`
	PredictedClass string    `gorm:"column:predicted_class;size:32;not null" firestore:"predicted_class" json:"predicted_class"`
	Confidence     float64   `gorm:"column:confidence" firestore:"confidence" json:"confidence"`
	ImageURL       string    `gorm:"column:image_url;type:text" firestore:"image_url" json:"image_url"`
	CreatedAt      time.Time `gorm:"column:timestamp;autoCreateTime" firestore:"timestamp,serverTimestamp" json:"timestamp"`
}

// TableName overrides the default table name.
func (HistoryRecord) TableName() string {
	return "history"
}

// HistoryStore persists and queries prediction history. Record assigns ID
// and CreatedAt. ListForSubject returns records in no particular order.
type HistoryStore interface {
	Record(ctx context.Context, record *HistoryRecord) error
	ListForSubject(ctx context.Context, uid string) ([]*HistoryRecord, error)
}
