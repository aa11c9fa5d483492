package workflow

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

type memoryDoc struct {
	snap  Snapshot
	lines []int64
}

type memoryStore struct {
	mu          sync.Mutex
	docs        map[int64]*memoryDoc
	lines       map[int64]Line
	transitions []TransitionRecord
	nextID      int64

	// readGate, when set, holds every GetDocument until all expected readers
	// have loaded their snapshot. Used to force a commit race.
	readGate *sync.WaitGroup
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		docs:  make(map[int64]*memoryDoc),
		lines: make(map[int64]Line),
	}
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) createDocument(docType DocType, owner int64, status Status) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.docs[id] = &memoryDoc{snap: Snapshot{RecID: id, DocNo: string(docType) + "-TEST", DocType: docType, Status: status, OwnerID: owner}}
	return id
}

// insertLine mirrors the persistence contract: the outstanding check and the
// write happen under one lock.
func (m *memoryStore) insertLine(docID int64, qty string, source *int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return 0, ErrDocumentNotFound
	}
	quantity := decimal.RequireFromString(qty)
	if source != nil {
		up, ok := m.lines[*source]
		if !ok {
			return 0, ErrLineNotFound
		}
		out, err := Remaining(up.ID, up.Quantity, m.sumLocked(*source, ExcludedStatuses()))
		if err != nil {
			return 0, err
		}
		if err := CheckAvailable(up.ID, out, quantity); err != nil {
			return 0, err
		}
	}
	id := m.id()
	m.lines[id] = Line{ID: id, DocumentID: docID, DocType: doc.snap.DocType, Quantity: quantity, SourceLineID: source}
	doc.lines = append(doc.lines, id)
	doc.snap.LineCount = len(doc.lines)
	return id, nil
}

func (m *memoryStore) status(docID int64) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[docID].snap.Status
}

func (m *memoryStore) setStatus(docID int64, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[docID].snap.Status = s
}

func (m *memoryStore) GetDocument(ctx context.Context, docType DocType, recID int64) (Snapshot, error) {
	m.mu.Lock()
	doc, ok := m.docs[recID]
	var snap Snapshot
	if ok {
		snap = doc.snap
	}
	gate := m.readGate
	m.mu.Unlock()
	if !ok || snap.DocType != docType {
		return Snapshot{}, ErrDocumentNotFound
	}
	if gate != nil {
		gate.Done()
		gate.Wait()
	}
	return snap, nil
}

func (m *memoryStore) CommitTransition(ctx context.Context, rec TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[rec.RecID]
	if !ok || doc.snap.DocType != rec.DocType {
		return ErrDocumentNotFound
	}
	if doc.snap.Status != rec.From {
		return ErrConcurrentModification
	}
	if rec.Action == ActionSubmit && len(doc.lines) == 0 {
		return ErrConcurrentModification
	}
	doc.snap.Status = rec.To
	if rec.Action == ActionSubmit {
		doc.snap.SubmittedBy = rec.ActorID
	}
	rec.ID = m.id()
	m.transitions = append(m.transitions, rec)
	return nil
}

func (m *memoryStore) DeleteDraft(ctx context.Context, rec TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[rec.RecID]
	if !ok {
		return ErrDocumentNotFound
	}
	if doc.snap.Status != StatusDraft {
		return ErrConcurrentModification
	}
	for _, id := range doc.lines {
		delete(m.lines, id)
	}
	delete(m.docs, rec.RecID)
	m.transitions = append(m.transitions, rec)
	return nil
}

func (m *memoryStore) GetLine(ctx context.Context, lineID int64) (Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line, ok := m.lines[lineID]
	if !ok {
		return Line{}, ErrLineNotFound
	}
	return line, nil
}

func (m *memoryStore) sumLocked(upstreamLineID int64, exclude []Status) decimal.Decimal {
	total := decimal.Zero
	for _, line := range m.lines {
		if line.SourceLineID == nil || *line.SourceLineID != upstreamLineID {
			continue
		}
		if excluded(m.docs[line.DocumentID].snap.Status, exclude) {
			continue
		}
		total = total.Add(line.Quantity)
	}
	return total
}

func excluded(s Status, exclude []Status) bool {
	for _, e := range exclude {
		if s == e {
			return true
		}
	}
	return false
}

func (m *memoryStore) SumDownstreamQuantity(ctx context.Context, upstreamLineID int64, exclude []Status) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumLocked(upstreamLineID, exclude), nil
}

func (m *memoryStore) ListLines(ctx context.Context, documentRecID int64) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentRecID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	lines := make([]Line, 0, len(doc.lines))
	for _, id := range doc.lines {
		lines = append(lines, m.lines[id])
	}
	return lines, nil
}

func (m *memoryStore) SumDownstreamByHeader(ctx context.Context, documentRecID int64, exclude []Status) (map[int64]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentRecID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	sums := make(map[int64]decimal.Decimal, len(doc.lines))
	for _, id := range doc.lines {
		sums[id] = m.sumLocked(id, exclude)
	}
	return sums, nil
}

type staticCaps map[int64]CapabilitySet

func (s staticCaps) Capabilities(ctx context.Context, actorID int64, docType DocType) (CapabilitySet, error) {
	return s[actorID], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Dispatch(ctx context.Context, evt Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type recordingRetrier struct {
	events []Event
}

func (r *recordingRetrier) EnqueueFanout(ctx context.Context, evt Event) error {
	r.events = append(r.events, evt)
	return nil
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingRecorder) ObserveTransition(docType DocType, action Action, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}
