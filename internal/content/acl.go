package content

import (
	"context"
	"fmt"
	"sync"

	"coffer/internal/model"
	"coffer/internal/principal"
)

// ACLEngine computes the effective permission set of an object by walking
// ancestors, with a per-repository cache keyed by object id. The cache has
// no dependency tracking: callers invalidate a single entry when an object's
// own aces change and the whole repository on structural moves.
type ACLEngine struct {
	accessor *Accessor
	resolver *principal.Resolver

	mu    sync.Mutex
	cache map[string]map[string]*model.ACL
}

func NewACLEngine(accessor *Accessor, resolver *principal.Resolver) *ACLEngine {
	return &ACLEngine{
		accessor: accessor,
		resolver: resolver,
		cache:    make(map[string]map[string]*model.ACL),
	}
}

func (e *ACLEngine) cached(repositoryID, id string) *model.ACL {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acl, ok := e.cache[repositoryID][id]; ok {
		return acl.Clone()
	}
	return nil
}

func (e *ACLEngine) put(repositoryID, id string, acl *model.ACL) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache[repositoryID] == nil {
		e.cache[repositoryID] = make(map[string]*model.ACL)
	}
	e.cache[repositoryID][id] = acl.Clone()
}

// Invalidate drops the cached effective ACL of one object.
func (e *ACLEngine) Invalidate(repositoryID, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache[repositoryID], id)
}

// InvalidateAll drops every cached entry of a repository. Used on moves and
// tree deletes, where ancestor edges change for an unknown set of objects.
func (e *ACLEngine) InvalidateAll(repositoryID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, repositoryID)
}

// CalculateEffective resolves the object's effective ACL: its own aces
// marked direct, plus ancestor aces for principals it does not override,
// marked inherited. System principal aliases are translated before the
// result leaves the engine.
func (e *ACLEngine) CalculateEffective(ctx context.Context, repositoryID string, c model.Content) (*model.ACL, error) {
	if c == nil {
		return nil, fmt.Errorf("calculate acl: nil content")
	}
	if cached := e.cached(repositoryID, c.Base().ID); cached != nil {
		return cached, nil
	}

	effective, err := e.calculate(ctx, repositoryID, c)
	if err != nil {
		return nil, err
	}

	e.resolver.TranslateACL(effective)
	for i := range effective.InheritedAces {
		effective.InheritedAces[i].PrincipalID = e.resolver.TranslateID(effective.InheritedAces[i].PrincipalID)
	}

	e.put(repositoryID, c.Base().ID, effective)
	return effective, nil
}

func (e *ACLEngine) calculate(ctx context.Context, repositoryID string, c model.Content) (*model.ACL, error) {
	base := c.Base()

	local := make([]model.Ace, 0, len(base.ACL.LocalAces))
	for _, ace := range base.ACL.LocalAces {
		cloned := ace.Clone()
		cloned.Direct = true
		local = append(local, cloned)
	}

	// Root never inherits; neither does an object that opted out.
	if e.accessor.IsRoot(c) || !base.ACLInherited {
		return &model.ACL{LocalAces: local}, nil
	}

	parent, err := e.accessor.Get(ctx, repositoryID, base.ParentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("calculate acl: dangling parent %s of %s", base.ParentID, base.ID)
	}
	parentEffective, err := e.CalculateEffective(ctx, repositoryID, parent)
	if err != nil {
		return nil, err
	}

	// Local principals win. Ancestor aces for other principals carry
	// through marked inherited.
	overridden := make(map[string]bool, len(local))
	for _, ace := range local {
		overridden[ace.PrincipalID] = true
	}
	var inherited []model.Ace
	for _, ace := range parentEffective.AllAces() {
		if overridden[ace.PrincipalID] {
			continue
		}
		overridden[ace.PrincipalID] = true
		cloned := ace.Clone()
		cloned.Direct = false
		inherited = append(inherited, cloned)
	}

	return &model.ACL{LocalAces: local, InheritedAces: inherited}, nil
}
