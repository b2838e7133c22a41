package mongodb

import (
	"context"
	"fmt"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionSyncRuns = "calendar_sync_runs"

	// DefaultRunRetention is how long journal entries live before the TTL index drops them.
	DefaultRunRetention = 30 * 24 * time.Hour
)

// SyncRunAdapter implements out.SyncRunStore on MongoDB.
type SyncRunAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
}

func NewSyncRunAdapter(db *mongo.Database, retention time.Duration) *SyncRunAdapter {
	if retention <= 0 {
		retention = DefaultRunRetention
	}
	return &SyncRunAdapter{
		collection: db.Collection(collectionSyncRuns),
		retention:  retention,
	}
}

// EnsureIndexes creates the listing and TTL indexes.
func (a *SyncRunAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type runErrorDocument struct {
	UserID  string `bson:"user_id"`
	Code    string `bson:"code"`
	Message string `bson:"message"`
}

type syncRunDocument struct {
	ID       string `bson:"_id"`
	Trigger  string `bson:"trigger"`
	UserID   string `bson:"user_id,omitempty"`
	MaxUsers int    `bson:"max_users,omitempty"`

	Processed    int                `bson:"processed"`
	Succeeded    int                `bson:"succeeded"`
	Pushed       int                `bson:"pushed"`
	Pulled       int                `bson:"pulled"`
	DeletedLocal int                `bson:"deleted_local"`
	ItemsSynced  int                `bson:"items_synced"`
	Errors       []runErrorDocument `bson:"errors,omitempty"`
	TimedOut     bool               `bson:"timed_out"`

	StartedAt  time.Time `bson:"started_at"`
	FinishedAt time.Time `bson:"finished_at"`
	CreatedAt  time.Time `bson:"created_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

func toRunDocument(run *domain.SyncRun, retention time.Duration) *syncRunDocument {
	r := run.Result
	doc := &syncRunDocument{
		ID:           run.ID,
		Trigger:      string(run.Trigger),
		MaxUsers:     run.MaxUsers,
		Processed:    r.Processed,
		Succeeded:    r.Succeeded,
		Pushed:       r.Pushed,
		Pulled:       r.Pulled,
		DeletedLocal: r.DeletedLocal,
		ItemsSynced:  r.ItemsSynced,
		TimedOut:     r.TimedOut,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		CreatedAt:    run.CreatedAt,
		ExpiresAt:    run.CreatedAt.Add(retention),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if run.UserID != nil {
		doc.UserID = run.UserID.String()
	}
	for _, e := range r.Errors {
		doc.Errors = append(doc.Errors, runErrorDocument{
			UserID:  e.UserID.String(),
			Code:    e.Code,
			Message: e.Message,
		})
	}
	return doc
}

func (d *syncRunDocument) toDomain() *domain.SyncRun {
	run := &domain.SyncRun{
		ID:       d.ID,
		Trigger:  domain.SyncTrigger(d.Trigger),
		MaxUsers: d.MaxUsers,
		Result: domain.BatchResult{
			Processed:    d.Processed,
			Succeeded:    d.Succeeded,
			Pushed:       d.Pushed,
			Pulled:       d.Pulled,
			DeletedLocal: d.DeletedLocal,
			ItemsSynced:  d.ItemsSynced,
			TimedOut:     d.TimedOut,
			StartedAt:    d.StartedAt,
			FinishedAt:   d.FinishedAt,
			Errors:       []domain.UserSyncError{},
		},
		CreatedAt: d.CreatedAt,
	}
	if id, err := uuid.Parse(d.UserID); err == nil {
		run.UserID = &id
	}
	for _, e := range d.Errors {
		uid, _ := uuid.Parse(e.UserID)
		run.Result.Errors = append(run.Result.Errors, domain.UserSyncError{
			UserID:  uid,
			Code:    e.Code,
			Message: e.Message,
		})
	}
	return run
}

// =============================================================================
// Operations
// =============================================================================

// Record inserts one journal entry.
func (a *SyncRunAdapter) Record(ctx context.Context, run *domain.SyncRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	doc := toRunDocument(run, a.retention)
	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	run.ID = doc.ID
	return nil
}

// ListRecent returns the newest entries first.
func (a *SyncRunAdapter) ListRecent(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []syncRunDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode sync runs: %w", err)
	}

	runs := make([]*domain.SyncRun, 0, len(docs))
	for i := range docs {
		runs = append(runs, docs[i].toDomain())
	}
	return runs, nil
}

var _ out.SyncRunStore = (*SyncRunAdapter)(nil)
