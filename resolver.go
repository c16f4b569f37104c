package manytomorph

import (
	"database/sql"
	"math/rand/v2"
	"sync/atomic"
)

// DBResolver routes relation statements between a primary and its replicas.
// Pivot writes always run on the primary. Target reads, and pivot reads unless
// PivotReadsOnPrimary is set, go to a replica chosen by the load balancer.
type DBResolver struct {
	primary      *sql.DB
	replicas     []*sql.DB
	lb           LoadBalancer
	pivotPrimary bool
}

// LoadBalancer picks the replica for the next read.
type LoadBalancer interface {
	Next(replicas []*sql.DB) *sql.DB
}

// RoundRobinLoadBalancer cycles through the replicas.
type RoundRobinLoadBalancer struct {
	counter uint64
}

func (r *RoundRobinLoadBalancer) Next(replicas []*sql.DB) *sql.DB {
	switch len(replicas) {
	case 0:
		return nil
	case 1:
		return replicas[0]
	}
	idx := atomic.AddUint64(&r.counter, 1) - 1
	return replicas[idx%uint64(len(replicas))]
}

// RandomLoadBalancer picks a replica uniformly at random.
type RandomLoadBalancer struct{}

func (RandomLoadBalancer) Next(replicas []*sql.DB) *sql.DB {
	if len(replicas) == 0 {
		return nil
	}
	return replicas[rand.IntN(len(replicas))]
}

// ResolverOption configures a DBResolver.
type ResolverOption func(*DBResolver)

// WithPrimary sets the database pivot writes run on.
func WithPrimary(db *sql.DB) ResolverOption {
	return func(r *DBResolver) { r.primary = db }
}

// WithReplicas sets the read replicas.
func WithReplicas(dbs ...*sql.DB) ResolverOption {
	return func(r *DBResolver) { r.replicas = dbs }
}

// WithLoadBalancer sets the replica selection strategy, round robin by
// default.
func WithLoadBalancer(lb LoadBalancer) ResolverOption {
	return func(r *DBResolver) { r.lb = lb }
}

// PivotReadsOnPrimary reads pivot rows from the primary so a Get right after
// an Attach sees the new row despite replica lag. Targets still come from
// replicas.
func PivotReadsOnPrimary() ResolverOption {
	return func(r *DBResolver) { r.pivotPrimary = true }
}

// NewDBResolver builds a resolver from options.
func NewDBResolver(opts ...ResolverOption) *DBResolver {
	r := &DBResolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.lb == nil {
		r.lb = &RoundRobinLoadBalancer{}
	}
	return r
}

// Primary returns the primary database.
func (r *DBResolver) Primary() *sql.DB {
	return r.primary
}

// Replica returns the next replica, or the primary when there are none.
func (r *DBResolver) Replica() *sql.DB {
	if len(r.replicas) == 0 {
		return r.primary
	}
	return r.lb.Next(r.replicas)
}

// ReplicaAt returns the replica at index, nil when out of range.
func (r *DBResolver) ReplicaAt(index int) *sql.DB {
	if index < 0 || index >= len(r.replicas) {
		return nil
	}
	return r.replicas[index]
}

// HasReplicas reports whether any replica is configured.
func (r *DBResolver) HasReplicas() bool {
	return len(r.replicas) > 0
}

// For returns the database a statement of kind runs on.
func (r *DBResolver) For(kind string) *sql.DB {
	switch kind {
	case kindPivotInsert, kindPivotUpdate, kindPivotDelete:
		return r.primary
	case kindPivotSelect:
		if r.pivotPrimary {
			return r.primary
		}
	}
	return r.Replica()
}
