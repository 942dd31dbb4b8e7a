package database

import (
	"github.com/searchparty/beacon/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	snapshot     *models.SnapshotModel
	search       *models.SearchModel
	comment      *models.CommentModel
	changeLog    *models.ChangeLogModel
	user         *models.UserModel
	notification *models.NotificationModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		snapshot:     models.NewSnapshot(db, logger),
		search:       models.NewSearch(db, logger),
		comment:      models.NewComment(db, logger),
		changeLog:    models.NewChangeLog(db, logger),
		user:         models.NewUser(db, logger),
		notification: models.NewNotification(db, logger),
	}
}

// Snapshot returns the crawl snapshot model repository.
func (r *Repository) Snapshot() *models.SnapshotModel {
	return r.snapshot
}

// Search returns the search topic model repository.
func (r *Repository) Search() *models.SearchModel {
	return r.search
}

// Comment returns the forum reply model repository.
func (r *Repository) Comment() *models.CommentModel {
	return r.comment
}

// ChangeLog returns the change log model repository.
func (r *Repository) ChangeLog() *models.ChangeLogModel {
	return r.changeLog
}

// User returns the subscriber model repository.
func (r *Repository) User() *models.UserModel {
	return r.user
}

// Notification returns the mailing queue model repository.
func (r *Repository) Notification() *models.NotificationModel {
	return r.notification
}
