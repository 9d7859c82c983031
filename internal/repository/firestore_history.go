package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirestoreHistoryStore keeps history as documents in a Firestore collection.
type FirestoreHistoryStore struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
}

// NewFirestoreClient creates a client; an empty credentialsFile uses
// application default credentials.
func NewFirestoreClient(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	return firestore.NewClient(ctx, projectID, opts...)
}

func NewFirestoreHistoryStore(client *firestore.Client, collection string, logger *zap.Logger) *FirestoreHistoryStore {
	return &FirestoreHistoryStore{client: client, collection: collection, logger: logger.Named("history_repository")}
}

// Record adds a document with an auto-generated id. The timestamp field is
// filled in by the server and read back from the write result.
func (s *FirestoreHistoryStore) Record(ctx context.Context, record *HistoryRecord) error {
	doc := *record
	doc.CreatedAt = time.Time{}
	ref, result, err := s.client.Collection(s.collection).Add(ctx, doc)
	if err != nil {
		s.logger.Error("failed to add history document", zap.String("uid", record.UID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	record.ID = ref.ID
	record.CreatedAt = result.UpdateTime
	return nil
}

func (s *FirestoreHistoryStore) ListForSubject(ctx context.Context, uid string) ([]*HistoryRecord, error) {
	snaps, err := s.client.Collection(s.collection).Where("uid", "==", uid).Documents(ctx).GetAll()
	if err != nil {
		s.logger.Error("failed to query history", zap.String("uid", uid), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	records := make([]*HistoryRecord, 0, len(snaps))
	for _, snap := range snaps {
		var record HistoryRecord
		if err := snap.DataTo(&record); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrPersistenceFailed, snap.Ref.ID, err)
		}
		record.ID = snap.Ref.ID
		records = append(records, &record)
	}
	return records, nil
}
