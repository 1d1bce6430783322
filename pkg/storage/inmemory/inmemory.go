// Package inmemory provides an in-process implementation of storage.Driver.
//
// All state lives behind a single RWMutex. Intended for tests and local
// development; the SQLite driver is the production path.
package inmemory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/storage"
)

// Driver implements storage.Driver using in-process data structures.
type Driver struct {
	mu sync.RWMutex

	conversations map[string]*memory.Conversation
	messages      map[string][]*memory.Message // conversationID -> ordered by Seq
	summaries     map[string][]*memory.Summary // conversationID -> ordered by StartSeq
	records       map[string]*memory.Record
	journals      map[string]*memory.Journal // ownerID+"/"+date
	observations  []*memory.Observation
	profiles      map[string]*memory.Profile
	nodes         map[string]*memory.Node
	edges         []*memory.Edge
}

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		conversations: make(map[string]*memory.Conversation),
		messages:      make(map[string][]*memory.Message),
		summaries:     make(map[string][]*memory.Summary),
		records:       make(map[string]*memory.Record),
		journals:      make(map[string]*memory.Journal),
		profiles:      make(map[string]*memory.Profile),
		nodes:         make(map[string]*memory.Node),
	}
}

func (d *Driver) CreateConversation(_ context.Context, c *memory.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	cp := *c
	d.conversations[c.ID] = &cp

	return nil
}

func (d *Driver) GetConversation(_ context.Context, id string) (*memory.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "conversation", ID: id}
	}

	cp := *c
	return &cp, nil
}

func (d *Driver) ListConversations(_ context.Context, ownerID string) ([]*memory.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Conversation
	for _, c := range d.conversations {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (d *Driver) Owners(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, c := range d.conversations {
		if !seen[c.OwnerID] {
			seen[c.OwnerID] = true
			out = append(out, c.OwnerID)
		}
	}

	sort.Strings(out)

	return out, nil
}

func (d *Driver) AppendMessage(_ context.Context, m *memory.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.conversations[m.ConversationID]; !ok {
		return storage.ErrNotFound{Kind: "conversation", ID: m.ConversationID}
	}

	msgs := d.messages[m.ConversationID]
	m.Seq = len(msgs) + 1
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	cp := *m
	d.messages[m.ConversationID] = append(msgs, &cp)

	return nil
}

func (d *Driver) Messages(_ context.Context, conversationID string, fromSeq int) ([]*memory.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Message
	for _, m := range d.messages[conversationID] {
		if m.Seq >= fromSeq {
			cp := *m
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (d *Driver) MessageRange(_ context.Context, conversationID string, startSeq, endSeq int) ([]*memory.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Message
	for _, m := range d.messages[conversationID] {
		if m.Seq >= startSeq && m.Seq <= endSeq {
			cp := *m
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (d *Driver) PutSummary(_ context.Context, s *memory.Summary) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.summaries[s.ConversationID] {
		if s.StartSeq <= existing.EndSeq && existing.StartSeq <= s.EndSeq {
			return memory.ErrConflict
		}
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	cp := *s
	d.summaries[s.ConversationID] = append(d.summaries[s.ConversationID], &cp)
	sort.Slice(d.summaries[s.ConversationID], func(i, j int) bool {
		return d.summaries[s.ConversationID][i].StartSeq < d.summaries[s.ConversationID][j].StartSeq
	})

	return nil
}

func (d *Driver) UpdateSummary(_ context.Context, s *memory.Summary) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sums := range d.summaries {
		for _, existing := range sums {
			if existing.ID == s.ID {
				existing.Text = s.Text
				existing.TokenCount = s.TokenCount
				return nil
			}
		}
	}

	return storage.ErrNotFound{Kind: "summary", ID: s.ID}
}

func (d *Driver) DeleteSummary(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for convID, sums := range d.summaries {
		for i, existing := range sums {
			if existing.ID == id {
				d.summaries[convID] = append(sums[:i], sums[i+1:]...)
				return nil
			}
		}
	}

	return storage.ErrNotFound{Kind: "summary", ID: id}
}

func (d *Driver) Summaries(_ context.Context, conversationID string) ([]*memory.Summary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*memory.Summary, 0, len(d.summaries[conversationID]))
	for _, s := range d.summaries[conversationID] {
		cp := *s
		out = append(out, &cp)
	}

	return out, nil
}

// copyRecord deep-copies a record; the metadata map must not be shared with
// callers, same as node evidence refs.
func copyRecord(r *memory.Record) *memory.Record {
	cp := *r
	cp.Metadata = maps.Clone(r.Metadata)
	return &cp
}

func (d *Driver) PutRecord(_ context.Context, r *memory.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	d.records[r.ID] = copyRecord(r)

	return nil
}

func (d *Driver) GetRecord(_ context.Context, id string) (*memory.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.records[id]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "record", ID: id}
	}

	return copyRecord(r), nil
}

func (d *Driver) DeleteRecord(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.records, id)

	return nil
}

func (d *Driver) ListRecords(_ context.Context, f storage.RecordFilter) ([]*memory.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	wantType := make(map[memory.RecordType]bool, len(f.Types))
	for _, t := range f.Types {
		wantType[t] = true
	}

	keyword := strings.ToLower(f.Keyword)

	var out []*memory.Record
	for _, r := range d.records {
		if r.OwnerID != f.OwnerID {
			continue
		}
		if len(wantType) > 0 && !wantType[r.Type] {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(r.Text), keyword) {
			continue
		}

		out = append(out, copyRecord(r))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out, nil
}

func (d *Driver) UpsertJournal(_ context.Context, j *memory.Journal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}

	cp := *j
	d.journals[j.OwnerID+"/"+j.Date] = &cp

	return nil
}

func (d *Driver) Journal(_ context.Context, ownerID, date string) (*memory.Journal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	j, ok := d.journals[ownerID+"/"+date]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "journal", ID: ownerID + "/" + date}
	}

	cp := *j
	return &cp, nil
}

func (d *Driver) Journals(_ context.Context, ownerID string) ([]*memory.Journal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Journal
	for _, j := range d.journals {
		if j.OwnerID == ownerID {
			cp := *j
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })

	return out, nil
}

func (d *Driver) AddObservation(_ context.Context, o *memory.Observation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	cp := *o
	d.observations = append(d.observations, &cp)

	return nil
}

func (d *Driver) Observations(_ context.Context, ownerID, category string) ([]*memory.Observation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Observation
	for _, o := range d.observations {
		if o.OwnerID != ownerID {
			continue
		}
		if category != "" && o.Category != category {
			continue
		}

		cp := *o
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return out, nil
}

func (d *Driver) UpsertProfile(_ context.Context, p *memory.Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p.UpdatedAt = time.Now().UTC()

	cp := *p
	d.profiles[p.OwnerID] = &cp

	return nil
}

func (d *Driver) Profile(_ context.Context, ownerID string) (*memory.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.profiles[ownerID]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "profile", ID: ownerID}
	}

	cp := *p
	return &cp, nil
}

func (d *Driver) PutNode(_ context.Context, n *memory.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	cp := *n
	cp.EvidenceRefs = append([]string(nil), n.EvidenceRefs...)
	d.nodes[n.ID] = &cp

	return nil
}

// UpdateNode replaces the node row. Evidence refs only accumulate: refs
// already on the stored node are kept even when absent from n, matching the
// SQLite driver's insert-or-ignore join table.
func (d *Driver) UpdateNode(_ context.Context, n *memory.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.nodes[n.ID]
	if !ok {
		return storage.ErrNotFound{Kind: "node", ID: n.ID}
	}

	cp := *n
	cp.EvidenceRefs = append([]string(nil), prev.EvidenceRefs...)
	seen := make(map[string]bool, len(prev.EvidenceRefs))
	for _, ref := range prev.EvidenceRefs {
		seen[ref] = true
	}
	for _, ref := range n.EvidenceRefs {
		if !seen[ref] {
			seen[ref] = true
			cp.EvidenceRefs = append(cp.EvidenceRefs, ref)
		}
	}
	d.nodes[n.ID] = &cp

	return nil
}

func (d *Driver) GetNode(_ context.Context, id string) (*memory.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[id]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "node", ID: id}
	}

	cp := *n
	cp.EvidenceRefs = append([]string(nil), n.EvidenceRefs...)
	return &cp, nil
}

func (d *Driver) Nodes(_ context.Context, f storage.NodeFilter) ([]*memory.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	wantType := make(map[memory.NodeType]bool, len(f.Types))
	for _, t := range f.Types {
		wantType[t] = true
	}
	wantState := make(map[memory.NodeState]bool, len(f.States))
	for _, s := range f.States {
		wantState[s] = true
	}

	var out []*memory.Node
	for _, n := range d.nodes {
		if len(wantType) > 0 && !wantType[n.Type] {
			continue
		}
		if len(wantState) > 0 && !wantState[n.State] {
			continue
		}

		cp := *n
		cp.EvidenceRefs = append([]string(nil), n.EvidenceRefs...)
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (d *Driver) PutEdge(_ context.Context, e *memory.Edge) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	cp := *e
	d.edges = append(d.edges, &cp)

	return nil
}

func (d *Driver) Edges(_ context.Context, nodeID string) ([]*memory.Edge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Edge
	for _, e := range d.edges {
		if nodeID != "" && e.From != nodeID && e.To != nodeID {
			continue
		}

		cp := *e
		out = append(out, &cp)
	}

	return out, nil
}

func (d *Driver) Stats(_ context.Context) (*storage.Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := &storage.Stats{
		Conversations: len(d.conversations),
		Summaries:     0,
		Records:       len(d.records),
		Journals:      len(d.journals),
		Observations:  len(d.observations),
		Nodes:         len(d.nodes),
		Edges:         len(d.edges),
	}

	for _, msgs := range d.messages {
		stats.Messages += len(msgs)
	}
	for _, sums := range d.summaries {
		stats.Summaries += len(sums)
	}

	return stats, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

var _ storage.Driver = (*Driver)(nil)
