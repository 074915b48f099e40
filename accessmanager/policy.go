// Package accessmanager implements the Access Manager: policy-gated handling of ticket
// requests, the first translation step of the ticketing protocol, assembly and signing
// of tickets, and key-component issuance.
package accessmanager

import (
	"slices"
	"sort"
	"sync"

	"github.com/pep-security/pepcore/auth"
	"github.com/pep-security/pepcore/rskpep"
)

// Policy is the Access Manager's view of who may access what. It is populated at
// startup from the policy store and read-mostly afterwards.
type Policy struct {
	mu sync.RWMutex

	userGroupModes   map[string]map[string]struct{}
	userGroupColumns map[string]map[string]struct{}
	columnGroups     map[string][]string
	participantsByGroup map[string][]rskpep.PolymorphicPseudonym
}

// NewPolicy creates an empty policy.
func NewPolicy() *Policy {
	return &Policy{
		userGroupModes:      map[string]map[string]struct{}{},
		userGroupColumns:    map[string]map[string]struct{}{},
		columnGroups:        map[string][]string{},
		participantsByGroup: map[string][]rskpep.PolymorphicPseudonym{},
	}
}

// GrantModes allows a user group the given access modes.
func (p *Policy) GrantModes(userGroup string, modes ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.userGroupModes[userGroup]
	if !ok {
		set = map[string]struct{}{}
		p.userGroupModes[userGroup] = set
	}
	for _, m := range modes {
		set[m] = struct{}{}
	}
}

// GrantColumns allows a user group access to the given columns.
func (p *Policy) GrantColumns(userGroup string, columns ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.userGroupColumns[userGroup]
	if !ok {
		set = map[string]struct{}{}
		p.userGroupColumns[userGroup] = set
	}
	for _, c := range columns {
		set[c] = struct{}{}
	}
}

// DefineColumnGroup names a set of columns.
func (p *Policy) DefineColumnGroup(name string, columns ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.columnGroups[name] = append([]string(nil), columns...)
}

// RegisterParticipant adds a subject's polymorphic pseudonym to a participant group.
func (p *Policy) RegisterParticipant(group string, pp rskpep.PolymorphicPseudonym) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participantsByGroup[group] = append(p.participantsByGroup[group], pp)
}

// checkModes verifies every requested mode is granted to the user group.
func (p *Policy) checkModes(userGroup string, modes []string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	granted := p.userGroupModes[userGroup]
	for _, m := range modes {
		if _, ok := granted[m]; !ok {
			return &auth.AccessDeniedError{Description: "user group " + userGroup + " lacks mode " + m}
		}
	}
	return nil
}

// resolveColumns expands column groups, merges the explicit columns, de-duplicates and
// sorts, and verifies the user group may access every resulting column.
func (p *Policy) resolveColumns(userGroup string, groups, columns []string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	resolved := append([]string(nil), columns...)
	for _, g := range groups {
		expansion, ok := p.columnGroups[g]
		if !ok {
			return nil, &auth.AccessDeniedError{Description: "unknown column group " + g}
		}
		resolved = append(resolved, expansion...)
	}
	sort.Strings(resolved)
	resolved = slices.Compact(resolved)

	accessible := p.userGroupColumns[userGroup]
	for _, c := range resolved {
		if _, ok := accessible[c]; !ok {
			return nil, &auth.AccessDeniedError{Description: "user group " + userGroup + " may not access column " + c}
		}
	}
	return resolved, nil
}

// resolvePseudonyms appends the participant-group expansion to the explicitly
// requested pseudonyms. The expansion is sorted by packed encoding and de-duplicated,
// so every party derives the same order.
func (p *Policy) resolvePseudonyms(explicit []rskpep.PolymorphicPseudonym, groups []string) ([]rskpep.PolymorphicPseudonym, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var expansion []rskpep.PolymorphicPseudonym
	for _, g := range groups {
		members, ok := p.participantsByGroup[g]
		if !ok {
			return nil, &auth.AccessDeniedError{Description: "unknown participant group " + g}
		}
		expansion = append(expansion, members...)
	}
	sort.Slice(expansion, func(i, j int) bool {
		return expansion[i].Text() < expansion[j].Text()
	})
	expansion = slices.CompactFunc(expansion, func(a, b rskpep.PolymorphicPseudonym) bool {
		return a.Equal(b)
	})
	return append(append([]rskpep.PolymorphicPseudonym(nil), explicit...), expansion...), nil
}
