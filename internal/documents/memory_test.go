package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// memoryRepo serialises every transaction behind one mutex and rolls the
// maps back when the callback fails.
type memoryRepo struct {
	mu          sync.Mutex
	docs        map[int64]Document
	lines       map[int64]Line
	sequences   map[string]int64
	transitions []workflow.TransitionRecord
	nextID      int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		docs:      make(map[int64]Document),
		lines:     make(map[int64]Line),
		sequences: make(map[string]int64),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := make(map[int64]Document, len(r.docs))
	for k, v := range r.docs {
		docs[k] = v
	}
	lines := make(map[int64]Line, len(r.lines))
	for k, v := range r.lines {
		lines[k] = v
	}
	seqs := make(map[string]int64, len(r.sequences))
	for k, v := range r.sequences {
		seqs[k] = v
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.docs, r.lines, r.sequences, r.nextID = docs, lines, seqs, nextID
		return err
	}
	return nil
}

// seedDocument stores a header directly, bypassing the draft workflow.
func (r *memoryRepo) seedDocument(docType workflow.DocType, ownerID int64, status workflow.Status) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.id()
	r.docs[id] = Document{ID: id, DocNo: fmt.Sprintf("%s-SEED-%d", docType, id), DocType: docType, Status: status, OwnerID: ownerID}
	return id
}

func (r *memoryRepo) seedLine(docID int64, qty string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.id()
	r.lines[id] = Line{ID: id, DocumentID: docID, LineNo: len(r.linesOf(docID)) + 1, ItemCode: "ITEM", Quantity: decimal.RequireFromString(qty)}
	return id
}

func (r *memoryRepo) setStatus(docID int64, status workflow.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.docs[docID]
	doc.Status = status
	r.docs[docID] = doc
}

func (r *memoryRepo) linesOf(docID int64) []Line {
	var out []Line
	for _, l := range r.lines {
		if l.DocumentID == docID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNo < out[j].LineNo })
	return out
}

func (r *memoryRepo) sumLocked(upstreamLineID int64, exclude []workflow.Status, excludeLineID int64) decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.lines {
		if l.SourceLineID == nil || *l.SourceLineID != upstreamLineID || l.ID == excludeLineID {
			continue
		}
		if statusIn(r.docs[l.DocumentID].Status, exclude) {
			continue
		}
		total = total.Add(l.Quantity)
	}
	return total
}

func statusIn(s workflow.Status, set []workflow.Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func (r *memoryRepo) LoadDocument(ctx context.Context, docType workflow.DocType, id int64) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.DocType != docType {
		return Document{}, workflow.ErrDocumentNotFound
	}
	doc.Lines = r.linesOf(id)
	return doc, nil
}

func (r *memoryRepo) ListDocuments(ctx context.Context, filters ListFilters, page shared.Pagination) ([]Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Document
	for _, doc := range r.docs {
		if doc.DocType != filters.DocType {
			continue
		}
		if filters.Status != "" && doc.Status != filters.Status {
			continue
		}
		if filters.OwnerID > 0 && doc.OwnerID != filters.OwnerID {
			continue
		}
		matched = append(matched, doc)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Limit()
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *memoryRepo) ListTransitions(ctx context.Context, docType workflow.DocType, id int64) ([]workflow.TransitionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []workflow.TransitionRecord
	for _, rec := range r.transitions {
		if rec.DocType == docType && rec.RecID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetDocument(ctx context.Context, docType workflow.DocType, recID int64) (workflow.Snapshot, error) {
	doc, err := r.LoadDocument(ctx, docType, recID)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return doc.Snapshot(), nil
}

func (r *memoryRepo) CommitTransition(ctx context.Context, rec workflow.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[rec.RecID]
	if !ok || doc.DocType != rec.DocType {
		return workflow.ErrDocumentNotFound
	}
	if doc.Status != rec.From {
		return workflow.ErrConcurrentModification
	}
	if rec.Action == workflow.ActionSubmit && len(r.linesOf(rec.RecID)) == 0 {
		return workflow.ErrConcurrentModification
	}
	doc.Status = rec.To
	if rec.Action == workflow.ActionSubmit {
		doc.SubmittedBy = rec.ActorID
	}
	doc.UpdatedAt = rec.At
	r.docs[rec.RecID] = doc
	rec.ID = r.id()
	r.transitions = append(r.transitions, rec)
	return nil
}

func (r *memoryRepo) DeleteDraft(ctx context.Context, rec workflow.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[rec.RecID]
	if !ok || doc.DocType != rec.DocType {
		return workflow.ErrDocumentNotFound
	}
	if doc.Status != workflow.StatusDraft {
		return workflow.ErrConcurrentModification
	}
	for _, l := range r.linesOf(rec.RecID) {
		delete(r.lines, l.ID)
	}
	delete(r.docs, rec.RecID)
	rec.ID = r.id()
	r.transitions = append(r.transitions, rec)
	return nil
}

func (r *memoryRepo) GetLine(ctx context.Context, lineID int64) (workflow.Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[lineID]
	if !ok {
		return workflow.Line{}, workflow.ErrLineNotFound
	}
	return workflow.Line{ID: l.ID, DocumentID: l.DocumentID, DocType: r.docs[l.DocumentID].DocType, Quantity: l.Quantity, SourceLineID: l.SourceLineID}, nil
}

func (r *memoryRepo) SumDownstreamQuantity(ctx context.Context, upstreamLineID int64, exclude []workflow.Status) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumLocked(upstreamLineID, exclude, 0), nil
}

func (r *memoryRepo) ListLines(ctx context.Context, documentRecID int64) ([]workflow.Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentRecID]
	if !ok {
		return nil, workflow.ErrDocumentNotFound
	}
	var out []workflow.Line
	for _, l := range r.linesOf(documentRecID) {
		out = append(out, workflow.Line{ID: l.ID, DocumentID: l.DocumentID, DocType: doc.DocType, Quantity: l.Quantity, SourceLineID: l.SourceLineID})
	}
	return out, nil
}

func (r *memoryRepo) SumDownstreamByHeader(ctx context.Context, documentRecID int64, exclude []workflow.Status) (map[int64]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := make(map[int64]decimal.Decimal)
	for _, l := range r.linesOf(documentRecID) {
		if sum := r.sumLocked(l.ID, exclude, 0); !sum.IsZero() {
			sums[l.ID] = sum
		}
	}
	return sums, nil
}

func (t *memoryTx) NextSequence(ctx context.Context, docType workflow.DocType, year int) (int64, error) {
	key := fmt.Sprintf("%s:%d", docType, year)
	t.repo.sequences[key]++
	return t.repo.sequences[key], nil
}

func (t *memoryTx) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	doc.ID = t.repo.id()
	doc.CreatedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	doc.UpdatedAt = doc.CreatedAt
	t.repo.docs[doc.ID] = doc
	return doc, nil
}

func (t *memoryTx) LockDocument(ctx context.Context, docType workflow.DocType, id int64) (Document, error) {
	doc, ok := t.repo.docs[id]
	if !ok || doc.DocType != docType {
		return Document{}, workflow.ErrDocumentNotFound
	}
	return doc, nil
}

func (t *memoryTx) LockSourceLine(ctx context.Context, lineID int64) (SourceLine, error) {
	l, ok := t.repo.lines[lineID]
	if !ok {
		return SourceLine{}, workflow.ErrLineNotFound
	}
	doc := t.repo.docs[l.DocumentID]
	return SourceLine{ID: l.ID, DocumentID: l.DocumentID, DocType: doc.DocType, DocumentStatus: doc.Status, Quantity: l.Quantity}, nil
}

func (t *memoryTx) SumDownstream(ctx context.Context, upstreamLineID int64, exclude []workflow.Status, excludeLineID int64) (decimal.Decimal, error) {
	return t.repo.sumLocked(upstreamLineID, exclude, excludeLineID), nil
}

func (t *memoryTx) GetLine(ctx context.Context, documentID, lineID int64) (Line, error) {
	l, ok := t.repo.lines[lineID]
	if !ok || l.DocumentID != documentID {
		return Line{}, workflow.ErrLineNotFound
	}
	return l, nil
}

func (t *memoryTx) InsertLine(ctx context.Context, line Line) (Line, error) {
	line.ID = t.repo.id()
	line.LineNo = len(t.repo.linesOf(line.DocumentID)) + 1
	t.repo.lines[line.ID] = line
	return line, nil
}

func (t *memoryTx) UpdateLineQuantity(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	l := t.repo.lines[lineID]
	l.Quantity = qty
	t.repo.lines[lineID] = l
	return nil
}

func (t *memoryTx) DeleteLine(ctx context.Context, lineID int64) error {
	delete(t.repo.lines, lineID)
	return nil
}

type grantCaps map[int64]workflow.CapabilitySet

func (g grantCaps) Capabilities(ctx context.Context, actorID int64, docType workflow.DocType) (workflow.CapabilitySet, error) {
	return g[actorID], nil
}
