package support

import (
	"context"
	"fmt"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

// Cleanup deletes closed tickets created more than the retention period
// ago, together with their messages and attachment files.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, -s.retentionMonths, 0)
	n, paths, err := s.store.DeleteClosedTicketsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	for _, p := range paths {
		if err := s.files.Remove(p); err != nil {
			s.logger.Printf("cleanup: remove %s: %v", p, err)
		}
	}
	if n > 0 {
		s.logger.Printf("cleanup removed %d tickets and %d files", n, len(paths))
	}
	return n, nil
}

// RunCleanup is Cleanup on behalf of a console user.
func (s *Service) RunCleanup(ctx context.Context, actor *models.Employee) (int64, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	return s.Cleanup(ctx)
}
