// kgraph consolidates documents into a knowledge graph: entities are
// extracted and deduplicated, relationships and events stored, communities
// detected, and narrative summaries generated bottom-up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vthunder/kgraph/internal/community"
	"github.com/vthunder/kgraph/internal/config"
	"github.com/vthunder/kgraph/internal/embed"
	"github.com/vthunder/kgraph/internal/extract"
	"github.com/vthunder/kgraph/internal/llm"
	"github.com/vthunder/kgraph/internal/pipeline"
	"github.com/vthunder/kgraph/internal/resilience"
	"github.com/vthunder/kgraph/internal/resolve"
	"github.com/vthunder/kgraph/internal/store"
	"github.com/vthunder/kgraph/internal/summarize"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		filePath    = flag.String("file", "", "document to ingest")
		domainID    = flag.String("domain", "", "domain scope for stored nodes and edges")
		dryRun      = flag.Bool("dry-run", false, "extract from -file and print the result without storing")
		resummarize = flag.Bool("resummarize", false, "regenerate community reports without ingesting")
		search      = flag.String("search", "", "semantic search over community summaries")
		stats       = flag.Bool("stats", false, "print store statistics and exit")
	)
	flag.Parse()

	// .env is optional; real environment wins either way.
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer db.Close()

	if *stats {
		printStats(db)
		return
	}

	chatGuard := resilience.New("llm-chat", resilience.DefaultConfig(), log)
	embedGuard := resilience.New("embedding", resilience.EmbeddingConfig(), log)

	chat := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, chatGuard, log)
	embedder := embed.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.Model,
		embed.NewCache(cfg.Embedding.CacheSize), embedGuard, log)

	arbiter := resolve.NewArbiter(chat, cfg.LLM.Model, log)
	resolver := resolve.NewResolver(db, arbiter, log)
	resolver.Threshold = cfg.Resolve.CandidateThreshold
	resolver.Limit = cfg.Resolve.CandidateLimit
	extractor := extract.NewLLMExtractor(chat, cfg.LLM.Model, log)
	extractor.MaxTokens = cfg.LLM.ExtractMaxTokens

	detector := community.NewDetector(&community.Louvain{}, log)

	synthesizer := summarize.NewSynthesizer(db, chat, embedder, cfg.LLM.Model, log)
	synthesizer.MaxTokens = cfg.LLM.SummarizeMaxTokens
	synthesizer.Temperature = cfg.LLM.SummarizeTemp

	p := pipeline.New(extractor, resolver, embedder, db, detector, synthesizer, log)

	switch {
	case *search != "":
		embedding, err := embedder.Embed(ctx, *search)
		if err != nil {
			log.Fatal("failed to embed query", zap.Error(err))
		}
		results, err := db.FindSimilarCommunities(embedding, 0.3, 10)
		if err != nil {
			log.Fatal("search failed", zap.Error(err))
		}
		for _, r := range results {
			fmt.Printf("[%.2f] L%d %s: %s\n", r.Similarity, r.Level, r.Title, r.Summary)
		}
	case *resummarize:
		if err := p.Resummarize(ctx); err != nil {
			log.Fatal("resummarization failed", zap.Error(err))
		}
	case *filePath != "":
		text, err := os.ReadFile(*filePath)
		if err != nil {
			log.Fatal("failed to read document", zap.String("file", *filePath), zap.Error(err))
		}
		if *dryRun {
			graph, err := p.Preview(ctx, string(text))
			if err != nil {
				log.Fatal("extraction failed", zap.Error(err))
			}
			printPreview(graph)
			return
		}
		if err := p.Run(ctx, string(text), *domainID); err != nil {
			log.Fatal("pipeline failed", zap.Error(err))
		}
		printStats(db)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func printPreview(g *extract.Graph) {
	for _, e := range g.Entities {
		fmt.Printf("entity  %-14s %s: %s\n", e.Type, e.Name, e.Description)
	}
	for _, r := range g.Relationships {
		fmt.Printf("edge    %s --[%s]--> %s: %s\n", r.Source, r.Type, r.Target, r.Description)
	}
	for _, ev := range g.Events {
		fmt.Printf("event   %s (%s): %s\n", ev.PrimaryEntity, ev.RawTime, ev.Description)
	}
}

func printStats(db *store.DB) {
	stats, err := db.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return
	}
	for _, table := range []string{"nodes", "edges", "events", "communities", "community_membership", "community_hierarchy"} {
		fmt.Printf("%-22s %d\n", table, stats[table])
	}
}
