package database

import (
	"github.com/searchparty/beacon/internal/database/service"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	mailing *service.MailingService
}

// NewService creates a new service instance with all services.
func NewService(db *bun.DB, repository *Repository, logger *zap.Logger) *Service {
	return &Service{
		mailing: service.NewMailing(db, repository.Notification(), logger),
	}
}

// Mailing returns the mailing service.
func (s *Service) Mailing() *service.MailingService {
	return s.mailing
}
