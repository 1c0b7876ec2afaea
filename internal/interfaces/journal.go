package interfaces

import (
	"context"

	"news-trend-trader/internal/types"
)

// Journal records fills and decisions for later inspection.
type Journal interface {
	RecordFill(ctx context.Context, fill types.Fill) error
	RecordDecision(ctx context.Context, d types.DecisionRecord) error
	Close() error
}

// Notifier pushes human-readable messages (fills, failures) to an operator.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}
