package manytomorph

// Collection is the ordered container returned by relation reads.
type Collection interface {
	Add(entity any)
	All() []any
	Len() int
}

// CollectionFactory builds an empty collection for each result set.
type CollectionFactory func() Collection

// Results is the default slice backed Collection.
type Results struct {
	items []any
}

// NewResults returns an empty Results.
func NewResults() Collection {
	return &Results{}
}

func (r *Results) Add(entity any) { r.items = append(r.items, entity) }
func (r *Results) All() []any     { return r.items }
func (r *Results) Len() int       { return len(r.items) }

// At returns the i-th entity.
func (r *Results) At(i int) any { return r.items[i] }

// Of returns the entities of c whose concrete type is *T, preserving order.
func Of[T any](c Collection) []*T {
	if c == nil {
		return nil
	}
	out := make([]*T, 0, c.Len())
	for _, item := range c.All() {
		if v, ok := item.(*T); ok {
			out = append(out, v)
		}
	}
	return out
}
