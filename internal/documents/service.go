package documents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/platform/httpx"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	LoadDocument(ctx context.Context, docType workflow.DocType, id int64) (Document, error)
	ListDocuments(ctx context.Context, filters ListFilters, page shared.Pagination) ([]Document, int, error)
	ListTransitions(ctx context.Context, docType workflow.DocType, id int64) ([]workflow.TransitionRecord, error)
}

// TxRepository exposes the locking reads and writes of a draft edit. Every
// Lock method holds its row until the transaction ends.
type TxRepository interface {
	NextSequence(ctx context.Context, docType workflow.DocType, year int) (int64, error)
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	LockDocument(ctx context.Context, docType workflow.DocType, id int64) (Document, error)
	// LockSourceLine locks the source line together with its document header
	// so the header cannot leave ACTIVE before the reservation commits.
	LockSourceLine(ctx context.Context, lineID int64) (SourceLine, error)
	// SumDownstream totals lines consuming upstreamLineID, skipping lines of
	// documents in exclude and the line excludeLineID.
	SumDownstream(ctx context.Context, upstreamLineID int64, exclude []workflow.Status, excludeLineID int64) (decimal.Decimal, error)
	GetLine(ctx context.Context, documentID, lineID int64) (Line, error)
	InsertLine(ctx context.Context, line Line) (Line, error)
	UpdateLineQuantity(ctx context.Context, lineID int64, qty decimal.Decimal) error
	DeleteLine(ctx context.Context, lineID int64) error
}

// Service drafts documents and maintains their lines.
type Service struct {
	repo     RepositoryPort
	registry *workflow.Registry
	ledger   *workflow.Ledger
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the documents service.
func NewService(repo RepositoryPort, registry *workflow.Registry, ledger *workflow.Ledger, logger *slog.Logger) *Service {
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, registry: registry, ledger: ledger, logger: logger, now: time.Now}
}

// Page is a slice of a document listing.
type Page struct {
	Items      []Document        `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// CreateDraft numbers and stores a new draft with its initial lines. Lines
// referencing an upstream line are checked against its outstanding quantity
// while the upstream line is locked.
func (s *Service) CreateDraft(ctx context.Context, input CreateDraftInput) (Document, error) {
	d, err := s.registry.Descriptor(input.DocType)
	if err != nil {
		return Document{}, err
	}
	if input.OwnerID <= 0 {
		return Document{}, shared.ErrUnauthenticated
	}
	for _, line := range input.Lines {
		if err := checkLineInput(d, line); err != nil {
			return Document{}, err
		}
	}

	now := s.now()
	var created Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextSequence(ctx, d.Type, now.Year())
		if err != nil {
			return err
		}
		doc, err := tx.InsertDocument(ctx, Document{
			DocNo:   FormatDocNo(d.Prefix, now.Year(), seq),
			DocType: d.Type,
			Status:  workflow.StatusDraft,
			OwnerID: input.OwnerID,
			Notes:   strings.TrimSpace(input.Notes),
		})
		if err != nil {
			return err
		}
		for _, in := range input.Lines {
			line, err := s.insertLine(ctx, tx, d, doc.ID, in)
			if err != nil {
				return err
			}
			doc.Lines = append(doc.Lines, line)
		}
		created = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.logger.Info("document drafted",
		slog.String("doc_type", string(created.DocType)),
		slog.String("doc_no", created.DocNo),
		slog.Int64("owner_id", created.OwnerID),
		slog.Int("lines", len(created.Lines)))
	return created, nil
}

// AddLine appends a line to a draft.
func (s *Service) AddLine(ctx context.Context, docType workflow.DocType, docID int64, input LineInput) (Line, error) {
	d, err := s.registry.Descriptor(docType)
	if err != nil {
		return Line{}, err
	}
	if err := checkLineInput(d, input); err != nil {
		return Line{}, err
	}
	var added Line
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockDraft(ctx, tx, docType, docID); err != nil {
			return err
		}
		line, err := s.insertLine(ctx, tx, d, docID, input)
		if err != nil {
			return err
		}
		added = line
		return nil
	})
	return added, err
}

// UpdateLineQuantity changes the quantity of a draft line. Increases on a
// line with a source are re-checked against the source's outstanding
// quantity, not counting the line's own current quantity.
func (s *Service) UpdateLineQuantity(ctx context.Context, docType workflow.DocType, docID, lineID int64, qty decimal.Decimal) (Line, error) {
	d, err := s.registry.Descriptor(docType)
	if err != nil {
		return Line{}, err
	}
	if err := checkQuantity(qty); err != nil {
		return Line{}, err
	}
	var updated Line
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockDraft(ctx, tx, docType, docID); err != nil {
			return err
		}
		line, err := tx.GetLine(ctx, docID, lineID)
		if err != nil {
			return err
		}
		if line.SourceLineID != nil && qty.GreaterThan(line.Quantity) {
			if err := reserve(ctx, tx, d, *line.SourceLineID, qty, line.ID); err != nil {
				return err
			}
		}
		if err := tx.UpdateLineQuantity(ctx, line.ID, qty); err != nil {
			return err
		}
		line.Quantity = qty
		updated = line
		return nil
	})
	return updated, err
}

// RemoveLine deletes a draft line, releasing whatever it consumed upstream.
func (s *Service) RemoveLine(ctx context.Context, docType workflow.DocType, docID, lineID int64) error {
	if _, err := s.registry.Descriptor(docType); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockDraft(ctx, tx, docType, docID); err != nil {
			return err
		}
		line, err := tx.GetLine(ctx, docID, lineID)
		if err != nil {
			return err
		}
		return tx.DeleteLine(ctx, line.ID)
	})
}

// Get returns a document with its lines.
func (s *Service) Get(ctx context.Context, docType workflow.DocType, id int64) (Document, error) {
	if _, err := s.registry.Descriptor(docType); err != nil {
		return Document{}, err
	}
	return s.repo.LoadDocument(ctx, docType, id)
}

// List returns a page of document headers.
func (s *Service) List(ctx context.Context, filters ListFilters, page shared.Pagination) (Page, error) {
	if _, err := s.registry.Descriptor(filters.DocType); err != nil {
		return Page{}, err
	}
	if filters.Status != "" && !s.registry.IsLegal(filters.DocType, filters.Status) {
		return Page{}, fmt.Errorf("%w: status %s is not used by %s", httpx.ErrValidation, filters.Status, filters.DocType)
	}
	items, total, err := s.repo.ListDocuments(ctx, filters, page)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Document{}
	}
	return Page{Items: items, Pagination: shared.NewPagination(page.Page, page.PerPage, total)}, nil
}

// History returns the audit trail of a document, oldest first. The trail
// outlives a deleted draft.
func (s *Service) History(ctx context.Context, docType workflow.DocType, id int64) ([]workflow.TransitionRecord, error) {
	if _, err := s.registry.Descriptor(docType); err != nil {
		return nil, err
	}
	records, err := s.repo.ListTransitions(ctx, docType, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		if _, err := s.repo.LoadDocument(ctx, docType, id); err != nil {
			return nil, err
		}
		return []workflow.TransitionRecord{}, nil
	}
	return records, nil
}

// Outstanding reports the remaining quantity of every line of a document.
// Concurrent callers asking for the same document share one computation.
func (s *Service) Outstanding(ctx context.Context, docType workflow.DocType, id int64) ([]OutstandingLine, error) {
	if _, err := s.registry.Descriptor(docType); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:%d", docType, id)
	res, err, _ := singleflightOutstanding(ctx, key, func(ctx context.Context) ([]OutstandingLine, error) {
		doc, err := s.repo.LoadDocument(ctx, docType, id)
		if err != nil {
			return nil, err
		}
		remaining, err := s.ledger.OutstandingForHeader(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		lines := make([]OutstandingLine, 0, len(doc.Lines))
		for _, line := range doc.Lines {
			lines = append(lines, OutstandingLine{Line: line, Outstanding: remaining[line.ID]})
		}
		return lines, nil
	})
	return res, err
}

// LineOutstanding reports the remaining quantity of one line.
func (s *Service) LineOutstanding(ctx context.Context, lineID int64) (decimal.Decimal, error) {
	return s.ledger.Outstanding(ctx, lineID)
}

func (s *Service) insertLine(ctx context.Context, tx TxRepository, d workflow.Descriptor, docID int64, input LineInput) (Line, error) {
	if input.SourceLineID != nil {
		if err := reserve(ctx, tx, d, *input.SourceLineID, input.Quantity, 0); err != nil {
			return Line{}, err
		}
	}
	return tx.InsertLine(ctx, Line{
		DocumentID:   docID,
		ItemCode:     strings.TrimSpace(input.ItemCode),
		Description:  strings.TrimSpace(input.Description),
		Quantity:     input.Quantity,
		SourceLineID: input.SourceLineID,
	})
}

// reserve locks the source line and its header and checks qty against what
// is left of the line. The locks are held until commit so a concurrent
// reservation or status change waits and then sees this one.
func reserve(ctx context.Context, tx TxRepository, d workflow.Descriptor, sourceLineID int64, qty decimal.Decimal, excludeLineID int64) error {
	src, err := tx.LockSourceLine(ctx, sourceLineID)
	if err != nil {
		return err
	}
	if err := eligibleSource(d, src); err != nil {
		return err
	}
	consumed, err := tx.SumDownstream(ctx, src.ID, workflow.ExcludedStatuses(), excludeLineID)
	if err != nil {
		return err
	}
	outstanding, err := workflow.Remaining(src.ID, src.Quantity, consumed)
	if err != nil {
		return err
	}
	return workflow.CheckAvailable(src.ID, outstanding, qty)
}

func lockDraft(ctx context.Context, tx TxRepository, docType workflow.DocType, id int64) (Document, error) {
	doc, err := tx.LockDocument(ctx, docType, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != workflow.StatusDraft {
		return Document{}, fmt.Errorf("%w: lines of a %s document are locked", workflow.ErrIllegalTransition, doc.Status)
	}
	return doc, nil
}

func checkLineInput(d workflow.Descriptor, line LineInput) error {
	if strings.TrimSpace(line.ItemCode) == "" {
		return fmt.Errorf("%w: item code required", httpx.ErrValidation)
	}
	if err := checkQuantity(line.Quantity); err != nil {
		return err
	}
	if line.SourceLineID != nil && d.Upstream == "" {
		return fmt.Errorf("%w: %s lines have no upstream document", workflow.ErrInvalidSource, d.Type)
	}
	return nil
}

// Quantities are stored as NUMERIC(18,4).
const quantityScale = 4

var quantityLimit = decimal.New(1, 18-quantityScale)

func checkQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", workflow.ErrInvalidQuantity)
	}
	if !q.Equal(q.Truncate(quantityScale)) {
		return fmt.Errorf("%w: quantity %s has more than %d decimal places", workflow.ErrInvalidQuantity, q.String(), quantityScale)
	}
	if q.GreaterThanOrEqual(quantityLimit) {
		return fmt.Errorf("%w: quantity %s exceeds %s", workflow.ErrInvalidQuantity, q.String(), quantityLimit.String())
	}
	return nil
}

func eligibleSource(d workflow.Descriptor, src SourceLine) error {
	if src.DocType != d.Upstream {
		return fmt.Errorf("%w: line %d belongs to %s, %s consumes %s", workflow.ErrInvalidSource, src.ID, src.DocType, d.Type, d.Upstream)
	}
	if src.DocumentStatus != workflow.StatusActive {
		return fmt.Errorf("%w: line %d belongs to a %s document", workflow.ErrInvalidSource, src.ID, src.DocumentStatus)
	}
	return nil
}
