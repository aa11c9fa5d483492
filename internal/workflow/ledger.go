package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Ledger derives outstanding quantities on demand. Nothing is cached.
type Ledger struct {
	store  LedgerStore
	logger *slog.Logger
}

// NewLedger constructs a ledger over store.
func NewLedger(store LedgerStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// Remaining computes quantity minus consumed, refusing to report a negative figure.
func Remaining(lineID int64, quantity, consumed decimal.Decimal) (decimal.Decimal, error) {
	out := quantity.Sub(consumed)
	if out.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: line %d outstanding %s is negative", ErrInvariantViolation, lineID, out.String())
	}
	return out, nil
}

// CheckAvailable validates a proposed quantity against an outstanding figure.
// Persistence adapters call it inside the transaction that writes the line.
func CheckAvailable(lineID int64, outstanding, proposed decimal.Decimal) error {
	if proposed.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidQuantity, proposed.String())
	}
	if proposed.GreaterThan(outstanding) {
		return &QuantityError{LineID: lineID, Requested: proposed, Outstanding: outstanding}
	}
	return nil
}

// Outstanding returns the unfulfilled quantity of an upstream line.
func (l *Ledger) Outstanding(ctx context.Context, upstreamLineID int64) (decimal.Decimal, error) {
	line, err := l.store.GetLine(ctx, upstreamLineID)
	if err != nil {
		return decimal.Zero, err
	}
	consumed, err := l.store.SumDownstreamQuantity(ctx, upstreamLineID, ExcludedStatuses())
	if err != nil {
		return decimal.Zero, err
	}
	out, err := Remaining(line.ID, line.Quantity, consumed)
	if err != nil {
		l.logger.Error("outstanding invariant", slog.Int64("line_id", line.ID), slog.Any("error", err))
		return decimal.Zero, err
	}
	return out, nil
}

// ValidateNewLine checks that proposed fits in the upstream line's outstanding
// quantity. The result is advisory; the write must re-check atomically.
func (l *Ledger) ValidateNewLine(ctx context.Context, upstreamLineID int64, proposed decimal.Decimal) error {
	if proposed.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidQuantity, proposed.String())
	}
	out, err := l.Outstanding(ctx, upstreamLineID)
	if err != nil {
		return err
	}
	return CheckAvailable(upstreamLineID, out, proposed)
}

// OutstandingForHeader returns the outstanding quantity of every line of a document.
func (l *Ledger) OutstandingForHeader(ctx context.Context, documentRecID int64) (map[int64]decimal.Decimal, error) {
	lines, err := l.store.ListLines(ctx, documentRecID)
	if err != nil {
		return nil, err
	}
	consumed, err := l.store.SumDownstreamByHeader(ctx, documentRecID, ExcludedStatuses())
	if err != nil {
		return nil, err
	}
	result := make(map[int64]decimal.Decimal, len(lines))
	for _, line := range lines {
		out, err := Remaining(line.ID, line.Quantity, consumed[line.ID])
		if err != nil {
			l.logger.Error("outstanding invariant", slog.Int64("document_id", documentRecID), slog.Int64("line_id", line.ID), slog.Any("error", err))
			return nil, err
		}
		result[line.ID] = out
	}
	return result, nil
}
