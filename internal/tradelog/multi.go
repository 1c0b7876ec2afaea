package tradelog

import (
	"context"

	"go.uber.org/multierr"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/types"
)

type multi []interfaces.Journal

// Multi fans every record out to all journals. Errors are combined.
func Multi(journals ...interfaces.Journal) interfaces.Journal {
	return multi(journals)
}

func (m multi) RecordFill(ctx context.Context, f types.Fill) (err error) {
	for _, j := range m {
		err = multierr.Append(err, j.RecordFill(ctx, f))
	}
	return err
}

func (m multi) RecordDecision(ctx context.Context, d types.DecisionRecord) (err error) {
	for _, j := range m {
		err = multierr.Append(err, j.RecordDecision(ctx, d))
	}
	return err
}

func (m multi) Close() (err error) {
	for _, j := range m {
		err = multierr.Append(err, j.Close())
	}
	return err
}
