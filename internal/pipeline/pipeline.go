// Package pipeline runs the full consolidation flow: extraction, entity
// resolution, edge and event storage, community detection, and recursive
// summarization.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vthunder/kgraph/internal/community"
	"github.com/vthunder/kgraph/internal/embed"
	"github.com/vthunder/kgraph/internal/extract"
	"github.com/vthunder/kgraph/internal/store"
)

// Store is the persistence surface the pipeline writes through.
type Store interface {
	community.GraphSource
	community.Store
	InsertEdge(e *store.Edge) error
	InsertEvent(ev *store.Event) error
}

// Resolver maps one extracted entity to a canonical node id.
type Resolver interface {
	Resolve(ctx context.Context, entity *store.Node, embedding []float64) (string, error)
}

// Summarizer writes reports for every pending community.
type Summarizer interface {
	SummarizeAll(ctx context.Context) error
}

// Pipeline wires the stages together.
type Pipeline struct {
	extractor  extract.Extractor
	resolver   Resolver
	embedder   embed.Embedder
	store      Store
	detector   *community.Detector
	summarizer Summarizer
	log        *zap.Logger
}

// New creates a pipeline.
func New(
	extractor extract.Extractor,
	resolver Resolver,
	embedder embed.Embedder,
	st Store,
	detector *community.Detector,
	summarizer Summarizer,
	log *zap.Logger,
) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		extractor:  extractor,
		resolver:   resolver,
		embedder:   embedder,
		store:      st,
		detector:   detector,
		summarizer: summarizer,
		log:        log,
	}
}

// Run consolidates one document into the graph. domainID may be empty.
func (p *Pipeline) Run(ctx context.Context, text, domainID string) error {
	p.log.Info("pipeline started", zap.Int("text_len", len(text)), zap.String("domain", domainID))

	graph, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	p.log.Info("extraction finished",
		zap.Int("entities", len(graph.Entities)),
		zap.Int("relationships", len(graph.Relationships)),
		zap.Int("events", len(graph.Events)))

	nameToID, err := p.storeGraph(ctx, graph, domainID)
	if err != nil {
		return err
	}

	if err := p.rebuildCommunities(); err != nil {
		return err
	}

	if err := p.summarizer.SummarizeAll(ctx); err != nil {
		return fmt.Errorf("summarization failed: %w", err)
	}

	p.log.Info("pipeline complete", zap.Int("resolved_nodes", len(nameToID)))
	return nil
}

// Resummarize regenerates community reports without re-detecting
// communities or touching the graph.
func (p *Pipeline) Resummarize(ctx context.Context) error {
	return p.summarizer.SummarizeAll(ctx)
}

// Preview extracts a document and returns the result without resolving or
// storing anything. Backs dry runs.
func (p *Pipeline) Preview(ctx context.Context, text string) (*extract.Graph, error) {
	graph, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	p.log.Info("dry run, nothing stored",
		zap.Int("entities", len(graph.Entities)),
		zap.Int("relationships", len(graph.Relationships)),
		zap.Int("events", len(graph.Events)))
	return graph, nil
}

// storeGraph resolves entities one at a time, then writes the edges and
// events whose endpoints resolved. Resolution is sequential on purpose:
// entities within one document often collide with each other, and each
// resolution must see the nodes the previous ones created.
func (p *Pipeline) storeGraph(ctx context.Context, graph *extract.Graph, domainID string) (map[string]string, error) {
	nameToID := make(map[string]string, len(graph.Entities))

	for _, ent := range graph.Entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embedding, err := p.embedder.Embed(ctx, ent.Name+" "+ent.Description)
		if err != nil {
			return nil, fmt.Errorf("embedding failed for %q: %w", ent.Name, err)
		}
		id, err := p.resolver.Resolve(ctx, &store.Node{
			Name:        ent.Name,
			Type:        ent.Type,
			Description: ent.Description,
			DomainID:    domainID,
		}, embedding)
		if err != nil {
			return nil, fmt.Errorf("resolution failed for %q: %w", ent.Name, err)
		}
		nameToID[ent.Name] = id
	}
	p.log.Info("entity resolution complete", zap.Int("entities", len(nameToID)))

	for _, rel := range graph.Relationships {
		sourceID, sok := nameToID[rel.Source]
		targetID, tok := nameToID[rel.Target]
		if !sok || !tok {
			p.log.Warn("skipping edge with unresolved endpoint",
				zap.String("source", rel.Source), zap.String("target", rel.Target))
			continue
		}
		if err := p.store.InsertEdge(&store.Edge{
			SourceID:    sourceID,
			TargetID:    targetID,
			Type:        rel.Type,
			Description: rel.Description,
			Weight:      rel.Weight,
			DomainID:    domainID,
		}); err != nil {
			return nil, fmt.Errorf("failed to store edge: %w", err)
		}
	}

	for _, ev := range graph.Events {
		nodeID, ok := nameToID[ev.PrimaryEntity]
		if !ok {
			p.log.Warn("skipping event with unresolved entity", zap.String("entity", ev.PrimaryEntity))
			continue
		}
		if err := p.store.InsertEvent(&store.Event{
			NodeID:      nodeID,
			Description: ev.Description,
			RawTime:     ev.RawTime,
			EventDate:   PadDate(ev.NormalizedDate),
		}); err != nil {
			return nil, fmt.Errorf("failed to store event: %w", err)
		}
	}

	return nameToID, nil
}

func (p *Pipeline) rebuildCommunities() error {
	g, err := community.Load(p.store)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	if g.NumNodes() == 0 {
		p.log.Info("graph is empty, skipping community detection")
		return nil
	}

	memberships := p.detector.Detect(g)
	if err := community.Rebuild(p.store, memberships, p.log); err != nil {
		return fmt.Errorf("failed to persist communities: %w", err)
	}
	return nil
}

// PadDate completes partial ISO dates: a bare year becomes January 1st and
// a year-month becomes the 1st of that month. Anything else passes through
// unchanged.
func PadDate(date string) string {
	if len(date) == 4 && isDigits(date) {
		return date + "-01-01"
	}
	if len(date) == 7 && date[4] == '-' && isDigits(date[:4]) && isDigits(date[5:]) {
		return date + "-01"
	}
	return date
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
