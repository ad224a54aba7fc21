package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store and ChangeFeed. It backs tests and the
// CLI's offline mode. Rows are kept per relation in insertion order so
// Select ties resolve deterministically, and every committed write is
// broadcast to matching subscribers in commit order.
type Memory struct {
	mu      sync.Mutex
	rows    map[Relation]map[string]map[string]any
	inserts map[Relation][]string
	nextID  int
	subs    []*memorySub

	// errs injects failures per operation name ("select", "insert",
	// "update", "delete") for failure-path tests.
	errs map[string]error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rows:    make(map[Relation]map[string]map[string]any),
		inserts: make(map[Relation][]string),
		errs:    make(map[string]error),
	}
}

var (
	_ Store      = (*Memory)(nil)
	_ ChangeFeed = (*Memory)(nil)
)

// SetError makes every subsequent call of the named operation fail with
// err until cleared with a nil err.
func (m *Memory) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

func (m *Memory) Select(ctx context.Context, relation Relation, filter Filter, order Order) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["select"]; err != nil {
		return nil, err
	}

	ids := m.inserts[relation]
	matched := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		doc := m.rows[relation][id]
		if doc == nil || !matchFilter(doc, filter) {
			continue
		}
		matched = append(matched, doc)
	}

	if order.Field != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return lessByField(matched[i], matched[j], order)
		})
	}

	out := make([]json.RawMessage, 0, len(matched))
	for _, doc := range matched {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, relation Relation, row any) (json.RawMessage, error) {
	doc, err := toDoc(row)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if err := m.errs["insert"]; err != nil {
		m.mu.Unlock()
		return nil, err
	}

	id, _ := doc["id"].(string)
	if id == "" {
		m.nextID++
		id = fmt.Sprintf("%s-%d", relation, m.nextID)
		doc["id"] = id
	}
	if m.rows[relation] == nil {
		m.rows[relation] = make(map[string]map[string]any)
	}
	if _, exists := m.rows[relation][id]; !exists {
		m.inserts[relation] = append(m.inserts[relation], id)
	}
	m.rows[relation][id] = doc
	raw, err := json.Marshal(doc)
	subs := m.matchingSubs(relation, doc)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	publish(subs, Event{Type: EventInsert, Relation: relation, Row: raw})
	return raw, nil
}

func (m *Memory) Update(ctx context.Context, relation Relation, id string, patch map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	if err := m.errs["update"]; err != nil {
		m.mu.Unlock()
		return nil, err
	}

	doc, ok := m.rows[relation][id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	for k, v := range patch {
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	subs := m.matchingSubs(relation, doc)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	publish(subs, Event{Type: EventUpdate, Relation: relation, Row: raw})
	return raw, nil
}

func (m *Memory) Delete(ctx context.Context, relation Relation, id string) error {
	m.mu.Lock()
	if err := m.errs["delete"]; err != nil {
		m.mu.Unlock()
		return err
	}

	doc, ok := m.rows[relation][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.rows[relation], id)
	for i, insertedID := range m.inserts[relation] {
		if insertedID == id {
			m.inserts[relation] = append(m.inserts[relation][:i], m.inserts[relation][i+1:]...)
			break
		}
	}
	raw, err := json.Marshal(doc)
	subs := m.matchingSubs(relation, doc)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	publish(subs, Event{Type: EventDelete, Relation: relation, Row: raw})
	return nil
}

// Subscribe registers a change listener for one relation. Delivery is
// synchronous with the committing write, which preserves commit order.
func (m *Memory) Subscribe(ctx context.Context, relation Relation, filter Filter) (Subscription, error) {
	sub := &memorySub{
		store:    m,
		relation: relation,
		filter:   filter,
		ch:       make(chan Event, 256),
	}
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return sub, nil
}

func (m *Memory) matchingSubs(relation Relation, doc map[string]any) []*memorySub {
	out := make([]*memorySub, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.relation != relation {
			continue
		}
		if !matchFilter(doc, sub.filter) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func publish(subs []*memorySub, ev Event) {
	for _, sub := range subs {
		sub.deliver(ev)
	}
}

type memorySub struct {
	store    *Memory
	relation Relation
	filter   Filter

	// mu serializes deliver against Close: publish runs after the
	// store lock is released, so a concurrent Close must never close
	// the channel mid-send.
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *memorySub) Events() <-chan Event { return s.ch }
func (s *memorySub) Err() error           { return nil }

func (s *memorySub) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Slow consumer; drop rather than block the writer.
	}
}

func (s *memorySub) Close() error {
	s.store.mu.Lock()
	for i, sub := range s.store.subs {
		if sub == s {
			s.store.subs = append(s.store.subs[:i], s.store.subs[i+1:]...)
			break
		}
	}
	s.store.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

func toDoc(row any) (map[string]any, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func matchFilter(doc map[string]any, filter Filter) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func lessByField(a, b map[string]any, order Order) bool {
	av, aok := a[order.Field]
	bv, bok := b[order.Field]
	aNull := !aok || av == nil
	bNull := !bok || bv == nil
	if aNull || bNull {
		if aNull && bNull {
			return false
		}
		if order.NullsLast {
			return bNull
		}
		return aNull
	}

	switch x := av.(type) {
	case float64:
		y, ok := bv.(float64)
		if !ok {
			return false
		}
		if order.Desc {
			return x > y
		}
		return x < y
	case string:
		y, ok := bv.(string)
		if !ok {
			return false
		}
		if order.Desc {
			return x > y
		}
		return x < y
	}
	return false
}
