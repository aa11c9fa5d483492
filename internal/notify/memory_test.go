package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

type memoryStore struct {
	mu     sync.Mutex
	items  []Notification
	nextID int64
	err    error
	now    func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{now: time.Now}
}

func (m *memoryStore) Insert(ctx context.Context, batch []Notification) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Notification, 0, len(batch))
	for _, n := range batch {
		m.nextID++
		n.ID = m.nextID
		n.CreatedAt = m.now()
		m.items = append(m.items, n)
		out = append(out, n)
	}
	return out, nil
}

func (m *memoryStore) List(ctx context.Context, userID int64, unreadOnly bool, page shared.Pagination) ([]Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Notification
	for _, n := range m.items {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		matched = append(matched, n)
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

func (m *memoryStore) find(userID, id int64) int {
	for i, n := range m.items {
		if n.ID == id && n.UserID == userID {
			return i
		}
	}
	return -1
}

func (m *memoryStore) MarkRead(ctx context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(userID, id)
	if i < 0 {
		return ErrNotFound
	}
	m.items[i].Read = true
	return nil
}

func (m *memoryStore) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.items {
		if m.items[i].UserID == userID && !m.items[i].Read {
			m.items[i].Read = true
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) Delete(ctx context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(userID, id)
	if i < 0 {
		return ErrNotFound
	}
	m.items = append(m.items[:i], m.items[i+1:]...)
	return nil
}

func (m *memoryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	var purged int64
	for _, n := range m.items {
		if n.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, n)
	}
	m.items = kept
	return purged, nil
}

func (m *memoryStore) forUser(userID int64) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type staticRecipients map[workflow.DocType][]int64

func (s staticRecipients) UsersWithCapability(ctx context.Context, docType workflow.DocType, c workflow.Capability) ([]int64, error) {
	if c != workflow.CapApprove {
		return nil, errors.New("unexpected capability")
	}
	return s[docType], nil
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []Notification
	failOn map[int64]bool
}

func (p *recordingPusher) Push(ctx context.Context, n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[n.UserID] {
		return errors.New("connection reset")
	}
	p.pushed = append(p.pushed, n)
	return nil
}

type recordingPushRetrier struct {
	mu     sync.Mutex
	queued []Notification
}

func (r *recordingPushRetrier) EnqueuePush(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, n)
	return nil
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) ObserveNotification(kind, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[outcome]++
}
