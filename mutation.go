package manytomorph

import (
	"context"
	"fmt"
)

// targetIdentity returns the morph type alias and key stored for target.
func (r *ManyToMorph) targetIdentity(target any) (string, any, error) {
	info, err := modelOf(target)
	if err != nil {
		return "", nil, err
	}
	morphType, err := r.registry.NameOf(target)
	if err != nil {
		return "", nil, err
	}
	// a MorphClass alias must still resolve on read
	if _, err := r.registry.Lookup(morphType); err != nil {
		return "", nil, err
	}
	key := info.Key(target)
	if isTransientKey(key) {
		return "", nil, fmt.Errorf("%w: %T has no primary key value", ErrInvalidModel, target)
	}
	return morphType, key, nil
}

func (r *ManyToMorph) persistedParentKey() (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	key := r.parentKeyOf(r.parent)
	if isTransientKey(key) {
		return nil, fmt.Errorf("%w: parent %T has no %s value", ErrInvalidModel, r.parent, r.parentKey)
	}
	return key, nil
}

// Attach inserts one pivot row linking the parent to target. Extra holds
// additional pivot columns; the identity columns always win over it.
// Attaching the same target twice creates two rows.
func (r *ManyToMorph) Attach(ctx context.Context, target any, extra map[string]any) error {
	parentKey, err := r.persistedParentKey()
	if err != nil {
		return err
	}
	morphType, key, err := r.targetIdentity(target)
	if err != nil {
		return err
	}
	return r.pivot().insert(ctx, parentKey, morphType, key, extra)
}

// UpdateExistingPivot patches the pivot rows linking the parent to target and
// returns the number of rows changed.
func (r *ManyToMorph) UpdateExistingPivot(ctx context.Context, target any, patch map[string]any) (int64, error) {
	parentKey, err := r.persistedParentKey()
	if err != nil {
		return 0, err
	}
	morphType, key, err := r.targetIdentity(target)
	if err != nil {
		return 0, err
	}
	return r.pivot().update(ctx, parentKey, morphType, key, patch)
}

// Detach removes the pivot rows linking the parent to target. Removing
// nothing is not an error.
func (r *ManyToMorph) Detach(ctx context.Context, target any) (int64, error) {
	parentKey, err := r.persistedParentKey()
	if err != nil {
		return 0, err
	}
	morphType, key, err := r.targetIdentity(target)
	if err != nil {
		return 0, err
	}
	return r.pivot().delete(ctx, parentKey, morphType, key)
}

// DetachAll removes every pivot row of the parent.
func (r *ManyToMorph) DetachAll(ctx context.Context) (int64, error) {
	parentKey, err := r.persistedParentKey()
	if err != nil {
		return 0, err
	}
	return r.pivot().deleteAll(ctx, parentKey)
}

// Sync makes targets the exact set linked to the parent: rows for other
// targets are detached, missing targets are attached, rows already present
// stay untouched.
func (r *ManyToMorph) Sync(ctx context.Context, targets ...any) error {
	parentKey, err := r.persistedParentKey()
	if err != nil {
		return err
	}

	type identity struct {
		morphType string
		key       any
	}
	identityKey := func(morphType string, key any) string {
		return morphType + "\x00" + dictionaryKey(key)
	}

	var desired []identity
	wanted := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		morphType, key, err := r.targetIdentity(target)
		if err != nil {
			return err
		}
		k := identityKey(morphType, key)
		if _, dup := wanted[k]; dup {
			continue
		}
		wanted[k] = struct{}{}
		desired = append(desired, identity{morphType, key})
	}

	pq := r.pivot()
	current, err := pq.selectByParent(ctx, parentKey)
	if err != nil {
		return err
	}

	existing := make(map[string]struct{}, len(current))
	for _, p := range current {
		k := identityKey(p.MorphType, p.MorphKey)
		if _, seen := existing[k]; seen {
			continue
		}
		existing[k] = struct{}{}
		if _, keep := wanted[k]; keep {
			continue
		}
		if _, err := pq.delete(ctx, parentKey, p.MorphType, p.MorphKey); err != nil {
			return err
		}
	}

	for _, id := range desired {
		if _, ok := existing[identityKey(id.morphType, id.key)]; ok {
			continue
		}
		if err := pq.insert(ctx, parentKey, id.morphType, id.key, nil); err != nil {
			return err
		}
	}
	return nil
}
