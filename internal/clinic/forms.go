package clinic

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

func (s *Service) SubmitContact(ctx context.Context, name, email, subject, message string) error {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	message = strings.TrimSpace(message)
	if name == "" || email == "" || message == "" {
		return invalid("name, email and message are required")
	}

	err := s.repo.InsertContactMessage(ctx, ContactMessage{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		Subject:   strings.TrimSpace(subject),
		Message:   message,
		CreatedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("submit contact: %w", err)
	}
	return nil
}

// Subscribe adds email to the newsletter list. Subscribing twice succeeds.
func (s *Service) Subscribe(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return invalid("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return invalid("email is not valid")
	}

	if _, err := s.repo.InsertSubscriber(ctx, Subscriber{
		ID:        uuid.New(),
		Email:     email,
		CreatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}
