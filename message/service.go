// Package message stores per-project conversations between homeowners and
// contractors. Clients poll; there is no push delivery.
package message

import (
	"context"
	"strings"
	"unicode/utf8"

	"bidflow/apperr"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Post(ctx context.Context, params PostParams) (Message, error) {
	if params.ProjectID == "" || params.SenderID == "" || params.ReceiverID == "" {
		return Message{}, apperr.Validation("message: project, sender and receiver are required")
	}
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return Message{}, apperr.Validation("message: content must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLength {
		return Message{}, apperr.Validationf("message: content is %d characters, limit is %d", n, MaxContentLength)
	}
	return s.repo.Create(ctx, Message{
		ProjectID:  params.ProjectID,
		SenderID:   params.SenderID,
		ReceiverID: params.ReceiverID,
		Content:    content,
	})
}

// MarkRead is idempotent.
func (s *Service) MarkRead(ctx context.Context, id string) (Message, error) {
	if id == "" {
		return Message{}, apperr.Validation("message: id is required")
	}
	return s.repo.MarkRead(ctx, id)
}

func (s *Service) ListForProject(ctx context.Context, projectID string) ([]Thread, error) {
	if projectID == "" {
		return nil, apperr.Validation("message: project id is required")
	}
	return s.repo.ListForProject(ctx, projectID)
}

func (s *Service) Conversation(ctx context.Context, userA, userB string) ([]Thread, error) {
	if userA == "" || userB == "" {
		return nil, apperr.Validation("message: both user ids are required")
	}
	return s.repo.ListBetween(ctx, userA, userB)
}
