package rules

import (
	"context"
	"fmt"
	"sync"
)

// Store resolves the definitions a run needs. It is the only persistence
// contract the engine depends on.
type Store interface {
	// LookupPack returns the pack or an error wrapping ErrNotFound.
	LookupPack(ctx context.Context, packID string) (*Pack, error)

	// LookupTarget returns the target or an error wrapping ErrNotFound.
	LookupTarget(ctx context.Context, targetID string) (*Target, error)

	// LookupRulesForPack returns the pack's rules in pack order.
	// Rule ids that do not resolve are omitted without error.
	LookupRulesForPack(ctx context.Context, pack *Pack) ([]*Rule, error)

	// LookupRule returns the rule or an error wrapping ErrNotFound.
	LookupRule(ctx context.Context, ruleID string) (*Rule, error)
}

// InMemoryStore implements Store with maps. Definitions are validated on
// insert. Safe for concurrent use.
type InMemoryStore struct {
	rules   map[string]*Rule
	packs   map[string]*Pack
	targets map[string]*Target
	mu      sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rules:   make(map[string]*Rule),
		packs:   make(map[string]*Pack),
		targets: make(map[string]*Target),
	}
}

// AddRule validates and stores a rule. Ids must be unique.
func (s *InMemoryStore) AddRule(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}
	s.rules[rule.ID] = rule
	return nil
}

// AddPack validates and stores a pack. Referenced rules need not exist yet.
func (s *InMemoryStore) AddPack(pack *Pack) error {
	if err := ValidatePack(pack); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.packs[pack.ID]; exists {
		return fmt.Errorf("pack with ID %s already exists", pack.ID)
	}
	s.packs[pack.ID] = pack
	return nil
}

// AddTarget validates and stores a target.
func (s *InMemoryStore) AddTarget(target *Target) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.targets[target.ID]; exists {
		return fmt.Errorf("target with ID %s already exists", target.ID)
	}
	s.targets[target.ID] = target
	return nil
}

func (s *InMemoryStore) LookupPack(_ context.Context, packID string) (*Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pack, exists := s.packs[packID]
	if !exists {
		return nil, fmt.Errorf("pack %s: %w", packID, ErrNotFound)
	}
	return pack, nil
}

func (s *InMemoryStore) LookupTarget(_ context.Context, targetID string) (*Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, exists := s.targets[targetID]
	if !exists {
		return nil, fmt.Errorf("target %s: %w", targetID, ErrNotFound)
	}
	return target, nil
}

func (s *InMemoryStore) LookupRulesForPack(_ context.Context, pack *Pack) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := make([]*Rule, 0, len(pack.Rules))
	for _, link := range pack.Rules {
		if rule, ok := s.rules[link.ID]; ok {
			resolved = append(resolved, rule)
		}
	}
	return resolved, nil
}

func (s *InMemoryStore) LookupRule(_ context.Context, ruleID string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[ruleID]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	return rule, nil
}
