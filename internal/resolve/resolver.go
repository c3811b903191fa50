// Package resolve deduplicates incoming entities against the stored graph.
// Vector similarity supplies recall (cheap, over-inclusive candidates) and a
// language-model arbiter supplies precision on the pairs that string
// matching cannot settle.
package resolve

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/vthunder/kgraph/internal/store"
)

// DefaultCandidateThreshold is the minimum cosine similarity for a stored
// node to be considered a possible duplicate. Deliberately loose; the
// arbiter filters the false positives.
const DefaultCandidateThreshold = 0.70

// DefaultCandidateLimit caps how many stored candidates one entity is
// compared against.
const DefaultCandidateLimit = 5

// NodeStore is the slice of the store the resolver needs.
type NodeStore interface {
	FindSimilarNodes(emb []float64, threshold float64, limit int) ([]store.SimilarNode, error)
	UpsertNode(n *store.Node) (string, error)
}

// Judge decides whether an incoming entity and a stored candidate are the
// same thing. Implementations must not fail; degraded verdicts say
// KeepSeparate.
type Judge interface {
	Judge(ctx context.Context, incoming *store.Node, candidate *store.SimilarNode) Verdict
}

// Resolver resolves incoming entities to canonical node ids.
type Resolver struct {
	nodes   NodeStore
	arbiter Judge
	log     *zap.Logger

	// Threshold and Limit tune candidate recall. Zero values mean the
	// defaults.
	Threshold float64
	Limit     int
}

// NewResolver creates a resolver over the given store and arbiter.
func NewResolver(nodes NodeStore, arbiter Judge, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		nodes:     nodes,
		arbiter:   arbiter,
		log:       log,
		Threshold: DefaultCandidateThreshold,
		Limit:     DefaultCandidateLimit,
	}
}

// Resolve maps one incoming entity to a canonical node id, inserting a new
// node only when no stored candidate claims it.
//
// Candidates above Threshold are examined in similarity order.
// Each one passes through three gates: exact case-insensitive name plus
// type, normalized name plus type, and finally the arbiter. A MERGE verdict
// returns the candidate's id; LINK and KEEP_SEPARATE move on to the next
// candidate. If nothing claims the entity it is inserted as a new node
// carrying the embedding.
func (r *Resolver) Resolve(ctx context.Context, entity *store.Node, embedding []float64) (string, error) {
	threshold, limit := r.Threshold, r.Limit
	if threshold == 0 {
		threshold = DefaultCandidateThreshold
	}
	if limit == 0 {
		limit = DefaultCandidateLimit
	}
	candidates, err := r.nodes.FindSimilarNodes(embedding, threshold, limit)
	if err != nil {
		return "", err
	}

	for i := range candidates {
		cand := &candidates[i]

		if strings.EqualFold(cand.Name, entity.Name) && cand.Type == entity.Type {
			r.log.Info("exact match",
				zap.String("entity", entity.Name), zap.String("node", cand.ID))
			return cand.ID, nil
		}

		if NormalizeName(cand.Name) == NormalizeName(entity.Name) && cand.Type == entity.Type {
			r.log.Info("normalized match",
				zap.String("entity", entity.Name), zap.String("matched", cand.Name),
				zap.String("node", cand.ID))
			return cand.ID, nil
		}

		r.log.Info("judging pair",
			zap.String("entity", entity.Name), zap.String("candidate", cand.Name),
			zap.Float64("similarity", cand.Similarity))
		verdict := r.arbiter.Judge(ctx, entity, cand)

		switch verdict.Decision {
		case Merge:
			r.log.Info("merging",
				zap.String("entity", entity.Name), zap.String("into", cand.Name),
				zap.String("reasoning", verdict.Reasoning))
			return cand.ID, nil
		case Link:
			// Related but distinct. Recorded nowhere yet; resolution
			// continues to the next candidate.
		}
	}

	entity.Embedding = embedding
	return r.nodes.UpsertNode(entity)
}
