package importer

// In-memory fakes for the persistence seams. The fake directory gives the
// transactional fake real semantics: writes stage against a copy of the
// graph and only land on Commit, so rollback tests observe untouched state.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type fakeDirectory struct {
	mu sync.Mutex

	entities      []*Entity
	collaborators map[string]Collaborator
	knownCodes    map[string]struct{}
	records       map[IdempotencyKey]SessionRecord

	nextID int

	beginErr  error
	commitErr error
	// upsertErr injects a per-key write failure inside the transaction.
	upsertErr map[IdempotencyKey]error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		collaborators: make(map[string]Collaborator),
		knownCodes:    make(map[string]struct{}),
		records:       make(map[IdempotencyKey]SessionRecord),
		upsertErr:     make(map[IdempotencyKey]error),
	}
}

func (d *fakeDirectory) addEntity(entityType EntityType, name string, active bool) *Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	e := &Entity{
		ID:     fmt.Sprintf("%s-%d", strings.ToLower(string(entityType)), d.nextID),
		Type:   entityType,
		Name:   name,
		Active: active,
	}
	if !active {
		at := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
		e.DeactivatedAt = &at
	}
	d.entities = append(d.entities, e)
	return e
}

func (d *fakeDirectory) addCollaborator(externalID, fullName string) Collaborator {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	c := Collaborator{
		ID:         fmt.Sprintf("collab-%d", d.nextID),
		ExternalID: externalID,
		FullName:   fullName,
	}
	d.collaborators[externalID] = c
	return c
}

func (d *fakeDirectory) find(entities []*Entity, entityType EntityType, name string, activeOnly bool) *Entity {
	for _, e := range entities {
		if e.Type != entityType || !strings.EqualFold(e.Name, name) {
			continue
		}
		if activeOnly && !e.Active {
			continue
		}
		return e
	}
	return nil
}

func (d *fakeDirectory) FindActiveByNaturalKey(_ context.Context, entityType EntityType, name string) (*Entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.find(d.entities, entityType, name, true); e != nil {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (d *fakeDirectory) FindAnyByNaturalKey(_ context.Context, entityType EntityType, name string) (*Entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.find(d.entities, entityType, name, false); e != nil {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (d *fakeDirectory) ListActive(_ context.Context, entityType EntityType) ([]Entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Entity
	for _, e := range d.entities {
		if e.Type == entityType && e.Active {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (d *fakeDirectory) FindCollaborators(_ context.Context, externalIDs []string) (map[string]Collaborator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	found := make(map[string]Collaborator)
	for _, id := range externalIDs {
		if c, ok := d.collaborators[id]; ok {
			found[id] = c
		}
	}
	return found, nil
}

func (d *fakeDirectory) KnownFormationCodes(_ context.Context, codes []string) (map[string]struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	known := make(map[string]struct{})
	for _, code := range codes {
		if _, ok := d.knownCodes[code]; ok {
			known[code] = struct{}{}
		}
	}
	return known, nil
}

func (d *fakeDirectory) ExistingRecordKeys(_ context.Context, keys []IdempotencyKey) (map[IdempotencyKey]struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	existing := make(map[IdempotencyKey]struct{})
	for _, k := range keys {
		if _, ok := d.records[k]; ok {
			existing[k] = struct{}{}
		}
	}
	return existing, nil
}

func (d *fakeDirectory) Begin(_ context.Context) (ImportTx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	// Stage against copies; Commit swaps them in.
	staged := make([]*Entity, len(d.entities))
	for i, e := range d.entities {
		cp := *e
		staged[i] = &cp
	}
	records := make(map[IdempotencyKey]SessionRecord, len(d.records))
	for k, v := range d.records {
		records[k] = v
	}
	return &fakeTx{dir: d, entities: staged, records: records}, nil
}

type fakeTx struct {
	dir      *fakeDirectory
	entities []*Entity
	records  map[IdempotencyKey]SessionRecord
	done     bool
}

func (t *fakeTx) FindAnyByNaturalKey(_ context.Context, entityType EntityType, name string) (*Entity, error) {
	if e := t.dir.find(t.entities, entityType, name, false); e != nil {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (t *fakeTx) FindByID(_ context.Context, entityType EntityType, id string) (*Entity, error) {
	for _, e := range t.entities {
		if e.Type == entityType && e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) Reactivate(_ context.Context, entityType EntityType, id string) error {
	for _, e := range t.entities {
		if e.Type == entityType && e.ID == id {
			e.Active = true
			e.DeactivatedAt = nil
			return nil
		}
	}
	return fmt.Errorf("reactivate %s %s: no such entity", entityType, id)
}

func (t *fakeTx) EnsureEntity(_ context.Context, entityType EntityType, name string) (string, error) {
	if e := t.dir.find(t.entities, entityType, name, false); e != nil {
		return e.ID, nil
	}
	t.dir.nextID++
	e := &Entity{
		ID:     fmt.Sprintf("%s-%d", strings.ToLower(string(entityType)), t.dir.nextID),
		Type:   entityType,
		Name:   name,
		Active: true,
	}
	t.entities = append(t.entities, e)
	return e.ID, nil
}

func (t *fakeTx) UpsertSessionRecord(_ context.Context, rec SessionRecord) (bool, error) {
	if err := t.dir.upsertErr[rec.Key]; err != nil {
		return false, err
	}
	_, exists := t.records[rec.Key]
	t.records[rec.Key] = rec
	return !exists, nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	if t.dir.commitErr != nil {
		t.done = true
		return t.dir.commitErr
	}
	t.dir.mu.Lock()
	t.dir.entities = t.entities
	t.dir.records = t.records
	t.dir.mu.Unlock()
	t.done = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}

type fakeRuleStore struct {
	mu    sync.Mutex
	rules map[string]Rule // by id
	next  int

	upsertErr error
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{rules: make(map[string]Rule)}
}

func (s *fakeRuleStore) List(_ context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeRuleStore) Upsert(_ context.Context, rule Rule) (Rule, error) {
	if s.upsertErr != nil {
		return Rule{}, s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.rules {
		if existing.Key() == rule.Key() {
			rule.ID = id
			rule.CreatedAt = existing.CreatedAt
			rule.UpdatedAt = time.Now()
			rule.Active = true
			s.rules[id] = rule
			return rule, nil
		}
	}
	s.next++
	rule.ID = fmt.Sprintf("rule-%d", s.next)
	rule.Active = true
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *fakeRuleStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	r.Active = active
	s.rules[id] = r
	return nil
}

func (s *fakeRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	entries []HistoryEntry

	appendErr error
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{}
}

func (s *fakeHistoryStore) Append(_ context.Context, entry HistoryEntry) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeHistoryStore) List(_ context.Context, limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *fakeHistoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []HistoryEntry
	var pruned int64
	for _, e := range s.entries {
		if e.FinishedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return pruned, nil
}

func (s *fakeHistoryStore) last() (HistoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return HistoryEntry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// makeRow builds a valid import row for the fixtures used across tests.
func makeRow(collab, formation, org, category, dept string, start string) ImportRow {
	day, _ := time.Parse("2006-01-02", start)
	return ImportRow{
		ExternalCollaboratorID: collab,
		FormationCode:          formation,
		OrganizationName:       org,
		CategoryName:           category,
		DepartmentName:         dept,
		StartDate:              day,
		EndDate:                day.AddDate(0, 0, 2),
		DurationHours:          14,
		PriceHT:                1200,
	}
}
