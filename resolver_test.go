package manytomorph

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func TestRoundRobinLoadBalancer(t *testing.T) {
	lb := &RoundRobinLoadBalancer{}
	replicas := []*sql.DB{{}, {}, {}}

	// three full rounds
	selected := make(map[*sql.DB]int)
	for i := 0; i < 9; i++ {
		selected[lb.Next(replicas)]++
	}
	for i, db := range replicas {
		if selected[db] != 3 {
			t.Errorf("replica %d selected %d times, want 3", i, selected[db])
		}
	}

	single := []*sql.DB{{}}
	for i := 0; i < 5; i++ {
		if lb.Next(single) != single[0] {
			t.Fatal("expected the only replica")
		}
	}
	if lb.Next(nil) != nil {
		t.Error("expected nil without replicas")
	}
}

func TestRandomLoadBalancer(t *testing.T) {
	lb := RandomLoadBalancer{}
	replicas := []*sql.DB{{}, {}, {}}

	for i := 0; i < 50; i++ {
		db := lb.Next(replicas)
		if db != replicas[0] && db != replicas[1] && db != replicas[2] {
			t.Fatal("expected a configured replica")
		}
	}
	if lb.Next(nil) != nil {
		t.Error("expected nil without replicas")
	}
}

func TestNewDBResolver(t *testing.T) {
	primary, replica1, replica2 := &sql.DB{}, &sql.DB{}, &sql.DB{}

	r := NewDBResolver(WithPrimary(primary), WithReplicas(replica1, replica2))
	if r.Primary() != primary || !r.HasReplicas() {
		t.Fatal("expected primary and replicas")
	}
	if _, ok := r.lb.(*RoundRobinLoadBalancer); !ok {
		t.Errorf("expected round robin by default, got %T", r.lb)
	}
	if r.ReplicaAt(1) != replica2 || r.ReplicaAt(2) != nil || r.ReplicaAt(-1) != nil {
		t.Error("ReplicaAt bounds")
	}

	r = NewDBResolver(WithPrimary(primary), WithLoadBalancer(RandomLoadBalancer{}))
	if r.HasReplicas() || r.Replica() != primary {
		t.Error("expected reads to fall back to the primary")
	}
}

func TestDBResolver_For(t *testing.T) {
	primary, replica := &sql.DB{}, &sql.DB{}

	tests := []struct {
		name         string
		pivotPrimary bool
		kind         string
		want         *sql.DB
	}{
		{"pivot insert", false, kindPivotInsert, primary},
		{"pivot update", false, kindPivotUpdate, primary},
		{"pivot delete", false, kindPivotDelete, primary},
		{"pivot select", false, kindPivotSelect, replica},
		{"pivot select on primary", true, kindPivotSelect, primary},
		{"target select", true, kindTargetSelect, replica},
		{"nested select", false, kindNestedSelect, replica},
		{"count select", false, kindCountSelect, replica},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []ResolverOption{WithPrimary(primary), WithReplicas(replica)}
			if tt.pivotPrimary {
				opts = append(opts, PivotReadsOnPrimary())
			}
			if got := NewDBResolver(opts...).For(tt.kind); got != tt.want {
				t.Errorf("For(%s) routed to the wrong database", tt.kind)
			}
		})
	}
}

func TestExecutor_QueryerFor(t *testing.T) {
	primary, replica, own := &sql.DB{}, &sql.DB{}, &sql.DB{}

	e := &executor{resolver: NewDBResolver(WithPrimary(primary), WithReplicas(replica)), db: own}
	if q, err := e.queryerFor(kindTargetSelect); err != nil || q != replica {
		t.Errorf("expected target reads on the replica, got %v (%v)", q, err)
	}
	if q, err := e.queryerFor(kindPivotInsert); err != nil || q != primary {
		t.Errorf("expected pivot writes on the primary, got %v (%v)", q, err)
	}

	// resolver without databases falls through to the relation's own db
	e = &executor{resolver: NewDBResolver(), db: own}
	if q, _ := e.queryerFor(kindPivotSelect); q != own {
		t.Error("expected the relation's own db")
	}

	prev := GlobalDB
	GlobalDB = nil
	defer func() { GlobalDB = prev }()

	if _, err := (&executor{}).queryerFor(kindPivotSelect); err != ErrNoQueryer {
		t.Errorf("expected ErrNoQueryer, got %v", err)
	}
}

func openSeeded(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema + testSeed); err != nil {
		t.Fatalf("seed %s: %v", path, err)
	}
	return db
}

// The replica holds the same targets but has not caught up with the pivot
// rows written on the primary.
func TestGet_PivotReadsOnPrimary(t *testing.T) {
	dir := t.TempDir()
	primary := openSeeded(t, filepath.Join(dir, "primary.db"))
	replica := openSeeded(t, filepath.Join(dir, "replica.db"))
	reg := newTestRegistry(t)
	ctx := context.Background()

	writer := newRelation(t, nil, reg, &Page{ID: 1},
		WithDBResolver(NewDBResolver(WithPrimary(primary), WithReplicas(replica))))
	attachPage(t, writer)

	lagging, err := writer.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if lagging.Len() != 0 {
		t.Errorf("expected the replica's empty pivot, got %d items", lagging.Len())
	}

	fresh, err := newRelation(t, nil, reg, &Page{ID: 1},
		WithDBResolver(NewDBResolver(WithPrimary(primary), WithReplicas(replica), PivotReadsOnPrimary()))).
		Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := describe(fresh); len(got) != 3 || got[0] != "hero:Welcome" {
		t.Errorf("unexpected components %v", got)
	}
}
