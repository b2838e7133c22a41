package domain

import (
	"time"

	"github.com/google/uuid"
)

// PassType names one phase of a reconciliation run. Used as the "pass" log field.
type PassType string

const (
	PassPush   PassType = "push"
	PassPull   PassType = "pull"
	PassDelete PassType = "delete"
)

// SyncResult counts the side effects of one reconciliation run for one user.
// Failed counts items skipped after a validation or remote error.
type SyncResult struct {
	Pushed       int `json:"pushed"`
	Pulled       int `json:"pulled"`
	DeletedLocal int `json:"deletedLocal"`
	Failed       int `json:"failed"`
}

// ItemsSynced is pushed + pulled.
func (r SyncResult) ItemsSynced() int {
	return r.Pushed + r.Pulled
}

func (r *SyncResult) Add(o SyncResult) {
	r.Pushed += o.Pushed
	r.Pulled += o.Pulled
	r.DeletedLocal += o.DeletedLocal
	r.Failed += o.Failed
}

// UserSyncResult is the outcome of SyncUser.
type UserSyncResult struct {
	UserID        uuid.UUID     `json:"userId"`
	IntegrationID uuid.UUID     `json:"integrationId"`
	Direction     SyncDirection `json:"direction"`
	SyncedEvents  bool          `json:"syncedEvents"`
	SyncedTasks   bool          `json:"syncedTasks"`
	SyncResult
}

// UserSyncError records why one user's sync did not run.
type UserSyncError struct {
	UserID  uuid.UUID `json:"userId" bson:"user_id"`
	Code    string    `json:"code" bson:"code"`
	Message string    `json:"message" bson:"message"`
}

// BatchResult aggregates a RunBatch call.
type BatchResult struct {
	Processed    int             `json:"processed" bson:"processed"`
	Succeeded    int             `json:"succeeded" bson:"succeeded"`
	Pushed       int             `json:"pushed" bson:"pushed"`
	Pulled       int             `json:"pulled" bson:"pulled"`
	DeletedLocal int             `json:"deletedLocal" bson:"deleted_local"`
	ItemsSynced  int             `json:"itemsSynced" bson:"items_synced"`
	Errors       []UserSyncError `json:"errors" bson:"errors"`
	TimedOut     bool            `json:"timedOut" bson:"timed_out"`
	StartedAt    time.Time       `json:"startedAt" bson:"started_at"`
	FinishedAt   time.Time       `json:"finishedAt" bson:"finished_at"`
}

// Record folds one completed user into the batch.
func (b *BatchResult) Record(r SyncResult) {
	b.Processed++
	b.Succeeded++
	b.Pushed += r.Pushed
	b.Pulled += r.Pulled
	b.DeletedLocal += r.DeletedLocal
	b.ItemsSynced += r.ItemsSynced()
}

// Fail folds one failed user into the batch.
func (b *BatchResult) Fail(userID uuid.UUID, code, message string) {
	b.Processed++
	b.Errors = append(b.Errors, UserSyncError{UserID: userID, Code: code, Message: message})
}

// SyncTrigger identifies the entry point that started a run.
type SyncTrigger string

const (
	SyncTriggerManual   SyncTrigger = "manual"
	SyncTriggerBatch    SyncTrigger = "batch"
	SyncTriggerWebhook  SyncTrigger = "webhook"
	SyncTriggerFollowUp SyncTrigger = "follow_up"
)

// SyncRun is one entry of the sync-run journal.
type SyncRun struct {
	ID        string      `json:"id" bson:"_id"`
	Trigger   SyncTrigger `json:"trigger" bson:"trigger"`
	UserID    *uuid.UUID  `json:"userId,omitempty" bson:"user_id,omitempty"`
	MaxUsers  int         `json:"maxUsers,omitempty" bson:"max_users,omitempty"`
	Result    BatchResult `json:"result" bson:"result"`
	CreatedAt time.Time   `json:"createdAt" bson:"created_at"`
}

// FollowUpKind is the job type carried on the calendar follow-up stream.
type FollowUpKind string

const (
	FollowUpSync         FollowUpKind = "calendar.sync"
	FollowUpDeletion     FollowUpKind = "calendar.deletion"
	FollowUpRemoteDelete FollowUpKind = "calendar.remote_delete"
	FollowUpRemoteUpdate FollowUpKind = "calendar.remote_update"
)

func (k FollowUpKind) Valid() bool {
	switch k {
	case FollowUpSync, FollowUpDeletion, FollowUpRemoteDelete, FollowUpRemoteUpdate:
		return true
	}
	return false
}

// Local record kinds a follow-up can point at.
const (
	EntityEvent = "event"
	EntityTask  = "task"
)

// CalendarFollowUpJob asks the engine to run after a local CRUD change.
// RemoteEventID is required for FollowUpRemoteDelete; EntityType and LocalID
// for FollowUpRemoteUpdate.
type CalendarFollowUpJob struct {
	ID            string       `json:"id"`
	Kind          FollowUpKind `json:"kind"`
	UserID        uuid.UUID    `json:"user_id"`
	RemoteEventID string       `json:"remote_event_id,omitempty"`
	EntityType    string       `json:"entity_type,omitempty"`
	LocalID       uuid.UUID    `json:"local_id,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	EnqueuedAt    time.Time    `json:"enqueued_at"`
}

// Validate checks the fields each kind needs.
func (j *CalendarFollowUpJob) Validate() error {
	if !j.Kind.Valid() {
		return ErrInvalidFollowUpKind
	}
	if j.UserID == uuid.Nil {
		return ErrMissingUserID
	}
	switch j.Kind {
	case FollowUpRemoteDelete:
		if j.RemoteEventID == "" {
			return ErrMissingRemoteEventID
		}
	case FollowUpRemoteUpdate:
		if j.LocalID == uuid.Nil || (j.EntityType != EntityEvent && j.EntityType != EntityTask) {
			return ErrMissingLocalRef
		}
	}
	return nil
}

// FollowUpOutcome reports how Request handled a job.
type FollowUpOutcome struct {
	JobID  string      `json:"jobId"`
	Mode   string      `json:"mode"` // inline | queued
	Result *SyncResult `json:"result,omitempty"`
}
