package dashboard

import (
	"context"

	"github.com/rewired-gh/forecastlens/internal/logger"
	"github.com/rewired-gh/forecastlens/internal/storage"
)

// Outbox holds feedback the sink never acknowledged.
type Outbox interface {
	PendingFeedback() ([]*storage.FeedbackRecord, error)
	MarkDelivered(id, message string) error
}

// FlushFeedback resubmits undelivered feedback and returns how many entries
// the sink accepted. It stops at the first entry that is still not delivered.
func FlushFeedback(ctx context.Context, backend Backend, outbox Outbox) (int, error) {
	pending, err := outbox.PendingFeedback()
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, fb := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		status := backend.SubmitFeedback(ctx, fb.Correct, fb.Comments)
		if status.Local {
			logger.Debug("Feedback sink still unreachable, %d entries pending", len(pending)-delivered)
			break
		}
		if err := outbox.MarkDelivered(fb.ID, status.Message); err != nil {
			return delivered, err
		}
		delivered++
	}
	if delivered > 0 {
		logger.Info("Delivered %d pending feedback entries", delivered)
	}
	return delivered, nil
}
