package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/platform/db"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// Repository provides PostgreSQL backed persistence for documents. It also
// serves as the orchestrator's Store and the ledger's LedgerStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ RepositoryPort       = (*Repository)(nil)
	_ workflow.Store       = (*Repository)(nil)
	_ workflow.LedgerStore = (*Repository)(nil)
)

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn under ReadCommitted. Line edits lock the rows they depend
// on, and each statement after a lock must see what the previous holder committed.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", workflow.ErrConcurrentModification, err)
	}
	return err
}

func statusStrings(statuses []workflow.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: stored quantity %q: %v", workflow.ErrInvariantViolation, raw, err)
	}
	return d, nil
}

const documentColumns = `d.id, d.doc_no, d.doc_type, d.status, d.owner_id, COALESCE(d.submitted_by, 0), d.notes, d.created_at, d.updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var docType, status string
	if err := row.Scan(&doc.ID, &doc.DocNo, &docType, &status, &doc.OwnerID, &doc.SubmittedBy, &doc.Notes, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	doc.DocType = workflow.DocType(docType)
	doc.Status = workflow.Status(status)
	return doc, nil
}

const lineColumns = `l.id, l.document_id, l.line_no, l.item_code, l.description, l.quantity::text, l.source_line_id`

func scanLine(row pgx.Row) (Line, error) {
	var line Line
	var qty string
	if err := row.Scan(&line.ID, &line.DocumentID, &line.LineNo, &line.ItemCode, &line.Description, &qty, &line.SourceLineID); err != nil {
		return Line{}, err
	}
	q, err := parseDecimal(qty)
	if err != nil {
		return Line{}, err
	}
	line.Quantity = q
	return line, nil
}

func queryLines(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, documentID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM document_lines l WHERE l.document_id = $1 ORDER BY l.line_no`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// LoadDocument returns a header with its lines.
func (r *Repository) LoadDocument(ctx context.Context, docType workflow.DocType, id int64) (Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id = $1 AND d.doc_type = $2`, id, string(docType))
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, workflow.ErrDocumentNotFound
		}
		return Document{}, err
	}
	lines, err := queryLines(ctx, r.pool, doc.ID)
	if err != nil {
		return Document{}, err
	}
	doc.Lines = lines
	return doc, nil
}

// ListDocuments returns headers matching filters, newest first, with the total count.
func (r *Repository) ListDocuments(ctx context.Context, filters ListFilters, page shared.Pagination) ([]Document, int, error) {
	where := []string{"d.doc_type = $1"}
	args := []any{string(filters.DocType)}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("d.status = $%d", len(args)))
	}
	if filters.OwnerID > 0 {
		args = append(args, filters.OwnerID)
		where = append(where, fmt.Sprintf("d.owner_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents d WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit(), page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM documents d WHERE %s ORDER BY d.created_at DESC, d.id DESC LIMIT $%d OFFSET $%d`,
		documentColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// ListTransitions returns the audit trail of a document, oldest first.
func (r *Repository) ListTransitions(ctx context.Context, docType workflow.DocType, id int64) ([]workflow.TransitionRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, doc_type, rec_id, from_status, to_status, action, actor_id, notes, created_at
FROM workflow_transitions WHERE doc_type = $1 AND rec_id = $2 ORDER BY created_at, id`, string(docType), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []workflow.TransitionRecord
	for rows.Next() {
		var rec workflow.TransitionRecord
		var dt, from, to, action string
		if err := rows.Scan(&rec.ID, &dt, &rec.RecID, &from, &to, &action, &rec.ActorID, &rec.Notes, &rec.At); err != nil {
			return nil, err
		}
		rec.DocType = workflow.DocType(dt)
		rec.From = workflow.Status(from)
		rec.To = workflow.Status(to)
		rec.Action = workflow.Action(action)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetDocument returns the orchestrator's snapshot of a document.
func (r *Repository) GetDocument(ctx context.Context, docType workflow.DocType, recID int64) (workflow.Snapshot, error) {
	var snap workflow.Snapshot
	var dt, status string
	err := r.pool.QueryRow(ctx, `SELECT d.id, d.doc_no, d.doc_type, d.status, d.owner_id, COALESCE(d.submitted_by, 0),
	(SELECT COUNT(*) FROM document_lines l WHERE l.document_id = d.id)
FROM documents d WHERE d.id = $1 AND d.doc_type = $2`, recID, string(docType)).
		Scan(&snap.RecID, &snap.DocNo, &dt, &status, &snap.OwnerID, &snap.SubmittedBy, &snap.LineCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return workflow.Snapshot{}, workflow.ErrDocumentNotFound
		}
		return workflow.Snapshot{}, err
	}
	snap.DocType = workflow.DocType(dt)
	snap.Status = workflow.Status(status)
	return snap, nil
}

// CommitTransition updates the status only while it still equals rec.From
// and appends the audit row in the same transaction. The header is locked
// first so a Submit sees every line change committed by writers holding
// the same lock.
func (r *Repository) CommitTransition(ctx context.Context, rec workflow.TransitionRecord) error {
	err := db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1 AND doc_type = $2 FOR UPDATE`,
			rec.RecID, string(rec.DocType)).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return workflow.ErrDocumentNotFound
			}
			return err
		}
		if workflow.Status(status) != rec.From {
			return fmt.Errorf("%w: %s %d is no longer %s", workflow.ErrConcurrentModification, rec.DocType, rec.RecID, rec.From)
		}
		if rec.Action == workflow.ActionSubmit {
			var hasLines bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM document_lines WHERE document_id = $1)`,
				rec.RecID).Scan(&hasLines); err != nil {
				return err
			}
			if !hasLines {
				return fmt.Errorf("%w: %s %d lost its last line", workflow.ErrConcurrentModification, rec.DocType, rec.RecID)
			}
		}
		tag, err := tx.Exec(ctx, `UPDATE documents
SET status = $1,
    submitted_by = CASE WHEN $2::boolean THEN $3 ELSE submitted_by END,
    updated_at = $4
WHERE id = $5 AND doc_type = $6 AND status = $7`,
			string(rec.To), rec.Action == workflow.ActionSubmit, rec.ActorID, rec.At, rec.RecID, string(rec.DocType), string(rec.From))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return missingOrMoved(ctx, tx, rec)
		}
		return insertTransition(ctx, tx, rec)
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", workflow.ErrConcurrentModification, err)
	}
	return err
}

// DeleteDraft removes a draft and its lines. The audit row survives the document.
func (r *Repository) DeleteDraft(ctx context.Context, rec workflow.TransitionRecord) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND doc_type = $2 AND status = $3`,
			rec.RecID, string(rec.DocType), string(workflow.StatusDraft))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return missingOrMoved(ctx, tx, rec)
		}
		return insertTransition(ctx, tx, rec)
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", workflow.ErrConcurrentModification, err)
	}
	return err
}

func missingOrMoved(ctx context.Context, tx pgx.Tx, rec workflow.TransitionRecord) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1 AND doc_type = $2)`,
		rec.RecID, string(rec.DocType)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return workflow.ErrDocumentNotFound
	}
	return fmt.Errorf("%w: %s %d is no longer %s", workflow.ErrConcurrentModification, rec.DocType, rec.RecID, rec.From)
}

func insertTransition(ctx context.Context, tx pgx.Tx, rec workflow.TransitionRecord) error {
	_, err := tx.Exec(ctx, `INSERT INTO workflow_transitions (doc_type, rec_id, from_status, to_status, action, actor_id, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(rec.DocType), rec.RecID, string(rec.From), string(rec.To), string(rec.Action), rec.ActorID, rec.Notes, rec.At)
	return err
}

// GetLine returns the ledger's view of a line.
func (r *Repository) GetLine(ctx context.Context, lineID int64) (workflow.Line, error) {
	var line workflow.Line
	var dt, qty string
	err := r.pool.QueryRow(ctx, `SELECT l.id, l.document_id, d.doc_type, l.quantity::text, l.source_line_id
FROM document_lines l JOIN documents d ON d.id = l.document_id WHERE l.id = $1`, lineID).
		Scan(&line.ID, &line.DocumentID, &dt, &qty, &line.SourceLineID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return workflow.Line{}, workflow.ErrLineNotFound
		}
		return workflow.Line{}, err
	}
	line.DocType = workflow.DocType(dt)
	if line.Quantity, err = parseDecimal(qty); err != nil {
		return workflow.Line{}, err
	}
	return line, nil
}

// SumDownstreamQuantity totals the lines consuming upstreamLineID whose
// documents are not in exclude.
func (r *Repository) SumDownstreamQuantity(ctx context.Context, upstreamLineID int64, exclude []workflow.Status) (decimal.Decimal, error) {
	return sumDownstream(ctx, r.pool, upstreamLineID, exclude, 0)
}

// ListLines returns the ledger's view of a document's lines.
func (r *Repository) ListLines(ctx context.Context, documentRecID int64) ([]workflow.Line, error) {
	var dt string
	err := r.pool.QueryRow(ctx, `SELECT doc_type FROM documents WHERE id = $1`, documentRecID).Scan(&dt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.ErrDocumentNotFound
		}
		return nil, err
	}
	lines, err := queryLines(ctx, r.pool, documentRecID)
	if err != nil {
		return nil, err
	}
	out := make([]workflow.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, workflow.Line{
			ID:           l.ID,
			DocumentID:   l.DocumentID,
			DocType:      workflow.DocType(dt),
			Quantity:     l.Quantity,
			SourceLineID: l.SourceLineID,
		})
	}
	return out, nil
}

// SumDownstreamByHeader totals downstream consumption of every line of a
// document in one query. Lines nothing consumes are absent from the map.
func (r *Repository) SumDownstreamByHeader(ctx context.Context, documentRecID int64, exclude []workflow.Status) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT u.id, SUM(c.quantity)::text
FROM document_lines u
JOIN document_lines c ON c.source_line_id = u.id
JOIN documents d ON d.id = c.document_id
WHERE u.document_id = $1 AND d.status <> ALL($2::text[])
GROUP BY u.id`, documentRecID, statusStrings(exclude))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		sum, err := parseDecimal(raw)
		if err != nil {
			return nil, err
		}
		sums[id] = sum
	}
	return sums, rows.Err()
}

func sumDownstream(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, upstreamLineID int64, exclude []workflow.Status, excludeLineID int64) (decimal.Decimal, error) {
	var raw string
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(c.quantity), 0)::text
FROM document_lines c JOIN documents d ON d.id = c.document_id
WHERE c.source_line_id = $1 AND d.status <> ALL($2::text[]) AND c.id <> $3`,
		upstreamLineID, statusStrings(exclude), excludeLineID).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return parseDecimal(raw)
}

func (t *txRepo) NextSequence(ctx context.Context, docType workflow.DocType, year int) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO document_sequences (doc_type, year, last_value) VALUES ($1, $2, 1)
ON CONFLICT (doc_type, year) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, string(docType), year).Scan(&seq)
	return seq, err
}

func (t *txRepo) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO documents (doc_no, doc_type, status, owner_id, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING id, created_at, updated_at`,
		doc.DocNo, string(doc.DocType), string(doc.Status), doc.OwnerID, doc.Notes).
		Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}

func (t *txRepo) LockDocument(ctx context.Context, docType workflow.DocType, id int64) (Document, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id = $1 AND d.doc_type = $2 FOR UPDATE`, id, string(docType))
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, workflow.ErrDocumentNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

func (t *txRepo) LockSourceLine(ctx context.Context, lineID int64) (SourceLine, error) {
	var src SourceLine
	var dt, status, qty string
	err := t.tx.QueryRow(ctx, `SELECT l.id, l.document_id, d.doc_type, d.status, l.quantity::text
FROM document_lines l JOIN documents d ON d.id = l.document_id
WHERE l.id = $1 FOR UPDATE OF l, d`, lineID).Scan(&src.ID, &src.DocumentID, &dt, &status, &qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SourceLine{}, workflow.ErrLineNotFound
		}
		return SourceLine{}, err
	}
	src.DocType = workflow.DocType(dt)
	src.DocumentStatus = workflow.Status(status)
	if src.Quantity, err = parseDecimal(qty); err != nil {
		return SourceLine{}, err
	}
	return src, nil
}

func (t *txRepo) SumDownstream(ctx context.Context, upstreamLineID int64, exclude []workflow.Status, excludeLineID int64) (decimal.Decimal, error) {
	return sumDownstream(ctx, t.tx, upstreamLineID, exclude, excludeLineID)
}

func (t *txRepo) GetLine(ctx context.Context, documentID, lineID int64) (Line, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+lineColumns+` FROM document_lines l WHERE l.id = $1 AND l.document_id = $2`, lineID, documentID)
	line, err := scanLine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, workflow.ErrLineNotFound
		}
		return Line{}, err
	}
	return line, nil
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) (Line, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO document_lines (document_id, line_no, item_code, description, quantity, source_line_id)
VALUES ($1, (SELECT COALESCE(MAX(line_no), 0) + 1 FROM document_lines WHERE document_id = $1), $2, $3, $4::text::numeric, $5)
RETURNING id, line_no`,
		line.DocumentID, line.ItemCode, line.Description, line.Quantity.String(), line.SourceLineID).
		Scan(&line.ID, &line.LineNo)
	return line, err
}

func (t *txRepo) UpdateLineQuantity(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE document_lines SET quantity = $1::text::numeric WHERE id = $2`, qty.String(), lineID)
	return err
}

func (t *txRepo) DeleteLine(ctx context.Context, lineID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM document_lines WHERE id = $1`, lineID)
	return err
}
