package importer

// rules.go implements the rule engine: a persisted cache of past operator
// decisions auto-applied to matching conflicts in later previews.
//
// Rules live in the database behind RuleStore; the engine keeps a read-mostly
// in-memory mirror guarded by an RWMutex. Preview generation takes a
// Snapshot once at the start of a run and consults only that copy, so rule
// writes landing mid-generation never affect rows already processed within
// the same run. Writes go to the store first and update the mirror only on
// success.

import (
	"context"
	"sort"
	"sync"
)

// RuleStore is the persistence contract for import rules.
type RuleStore interface {
	// List returns all rules, active and inactive.
	List(ctx context.Context) ([]Rule, error)

	// Upsert inserts or replaces the rule for (entityType, rawValue) and
	// returns the stored row. Re-applying an identical decision is a no-op
	// in effect, not an error.
	Upsert(ctx context.Context, rule Rule) (Rule, error)

	// SetActive toggles a rule without removing it.
	SetActive(ctx context.Context, id string, active bool) error

	// Delete hard-deletes a rule.
	Delete(ctx context.Context, id string) error
}

// RuleSnapshot is an immutable view of the active rules, keyed by
// (entityType, rawValue). One snapshot serves one preview generation.
type RuleSnapshot map[ConflictKey]Rule

// Lookup returns the memorized rule for the key, if any.
func (s RuleSnapshot) Lookup(entityType EntityType, rawValue string) (Rule, bool) {
	r, ok := s[ConflictKey{EntityType: entityType, RawValue: rawValue}]
	return r, ok
}

// RuleEngine serves rule lookups and mediates rule mutation. It is an
// explicit dependency injected into the preview builder and resolution
// coordinator, never an ambient singleton.
type RuleEngine struct {
	store RuleStore

	mu    sync.RWMutex
	byKey map[ConflictKey]Rule // active rules only
	byID  map[string]Rule      // all rules
}

// NewRuleEngine creates the engine and warms its cache from the store.
func NewRuleEngine(ctx context.Context, store RuleStore) (*RuleEngine, error) {
	e := &RuleEngine{
		store: store,
		byKey: make(map[ConflictKey]Rule),
		byID:  make(map[string]Rule),
	}

	rules, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		e.byID[r.ID] = r
		if r.Active {
			e.byKey[r.Key()] = r
		}
	}
	return e, nil
}

// Snapshot returns an immutable copy of the active rules. Callers hold the
// snapshot for a whole preview generation; concurrent writes do not leak in.
func (e *RuleEngine) Snapshot() RuleSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := make(RuleSnapshot, len(e.byKey))
	for k, v := range e.byKey {
		snap[k] = v
	}
	return snap
}

// Lookup returns the active rule for (entityType, rawValue), if any.
func (e *RuleEngine) Lookup(entityType EntityType, rawValue string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.byKey[ConflictKey{EntityType: entityType, RawValue: rawValue}]
	return r, ok
}

// ListActive returns the active rules for one entity type, sorted by raw
// value for stable output.
func (e *RuleEngine) ListActive(entityType EntityType) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var rules []Rule
	for _, r := range e.byKey {
		if r.EntityType == entityType {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].RawValue < rules[j].RawValue })
	return rules
}

// List returns rules filtered by optional entity type and active flag,
// sorted by entity type then raw value.
func (e *RuleEngine) List(entityType EntityType, active *bool) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var rules []Rule
	for _, r := range e.byID {
		if entityType != "" && r.EntityType != entityType {
			continue
		}
		if active != nil && r.Active != *active {
			continue
		}
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].EntityType != rules[j].EntityType {
			return rules[i].EntityType < rules[j].EntityType
		}
		return rules[i].RawValue < rules[j].RawValue
	})
	return rules
}

// Get returns a rule by id.
func (e *RuleEngine) Get(id string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.byID[id]
	return r, ok
}

// Upsert persists a decision for (entityType, rawValue) and refreshes the
// cache. MAP decisions require a target entity id.
func (e *RuleEngine) Upsert(ctx context.Context, entityType EntityType, rawValue string, action ResolutionAction, targetEntityID string) (Rule, error) {
	if !entityType.Valid() || rawValue == "" || !action.Valid() {
		return Rule{}, ErrInvalidInput
	}
	if action == ActionMap && targetEntityID == "" {
		return Rule{}, ErrTargetMissing
	}

	stored, err := e.store.Upsert(ctx, Rule{
		EntityType:     entityType,
		RawValue:       rawValue,
		Action:         action,
		TargetEntityID: targetEntityID,
		Active:         true,
	})
	if err != nil {
		return Rule{}, err
	}

	e.mu.Lock()
	e.byID[stored.ID] = stored
	e.byKey[stored.Key()] = stored
	e.mu.Unlock()

	return stored, nil
}

// Deactivate soft-deletes a rule: it stops auto-applying but stays listed.
func (e *RuleEngine) Deactivate(ctx context.Context, id string) error {
	e.mu.RLock()
	rule, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return ErrRuleNotFound
	}

	if err := e.store.SetActive(ctx, id, false); err != nil {
		return err
	}

	e.mu.Lock()
	rule.Active = false
	e.byID[id] = rule
	delete(e.byKey, rule.Key())
	e.mu.Unlock()
	return nil
}

// Purge hard-deletes a rule.
func (e *RuleEngine) Purge(ctx context.Context, id string) error {
	e.mu.RLock()
	rule, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return ErrRuleNotFound
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.byID, id)
	if cached, ok := e.byKey[rule.Key()]; ok && cached.ID == id {
		delete(e.byKey, rule.Key())
	}
	e.mu.Unlock()
	return nil
}
