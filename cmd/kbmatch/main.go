package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"kbmatch/internal/audit"
	"kbmatch/internal/config"
	"kbmatch/internal/domain"
	"kbmatch/internal/engine"
	"kbmatch/internal/kb"
	"kbmatch/internal/provider"
	"kbmatch/internal/resolver"
)

func main() {
	cfg := config.Load()

	store, err := kb.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open knowledge base: %v", err)
	}
	defer store.Close()

	eng := buildEngine(cfg, store)

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		eng.StartPruneScheduler(cfg.PruneSchedule, cfg.PruneConfidenceFloor, cfg.PruneUsageFloor, cfg.PruneRetentionDays)
		log.Println("Starting matching engine (one JSON request per stdin line)...")
		if err := serve(eng); err != nil {
			log.Fatalf("serve error: %v", err)
		}
	case "stats":
		runStats(eng)
	case "export":
		runExport(eng)
	case "import":
		if len(os.Args) < 3 {
			log.Fatalf("usage: kbmatch import <snapshot.yaml>")
		}
		runImport(eng, os.Args[2])
	case "prune":
		retention := time.Duration(cfg.PruneRetentionDays) * 24 * time.Hour
		removed, err := eng.Cleanup(context.Background(), cfg.PruneConfidenceFloor, cfg.PruneUsageFloor, retention)
		if err != nil {
			log.Fatalf("prune error: %v", err)
		}
		fmt.Printf("removed %d entries\n", removed)
	default:
		log.Fatalf("unknown command '%s' (want serve, stats, export, import, prune)", cmd)
	}
}

func buildEngine(cfg config.Config, store *kb.Store) *engine.Engine {
	var providers []provider.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "anthropic":
			providers = append(providers, provider.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel))
		case "openai":
			providers = append(providers, provider.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel))
		}
	}

	notifier := audit.NewSlackNotifier(cfg.SlackBotToken, cfg.AuditChannelID)
	var next resolver.Auditor
	if notifier != nil {
		next = notifier
	}

	res := resolver.New(providers, resolver.Options{
		ProviderTimeout:  time.Duration(cfg.ProviderTimeoutSecs) * time.Second,
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerRecovery:  time.Duration(cfg.BreakerRecoverySecs) * time.Second,
		MaxConcurrent:    cfg.MaxConcurrentResolves,
		HintCount:        cfg.HintCount,
	}, engine.NewKBAuditor(store, next))

	return engine.New(store, res, engine.Options{
		MatchThreshold:      cfg.MatchThreshold,
		AmbiguityEpsilon:    cfg.AmbiguityEpsilon,
		MinAcceptConfidence: cfg.MinAcceptConfidence,
		FuzzyMinSimilarity:  cfg.FuzzyMinSimilarity,
		ConfidenceAlpha:     cfg.ConfidenceAlpha,
	})
}

// serve consumes one JSON request per stdin line and writes one JSON
// response per line. Lines carrying "chosenCode" are feedback events;
// everything else is a match request.
func serve(eng *engine.Engine) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			ChosenCode string `json:"chosenCode"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			log.Printf("serve bad request err=%v", err)
			_ = out.Encode(map[string]any{"status": domain.StatusError, "explanation": "malformed request"})
			continue
		}

		if probe.ChosenCode != "" {
			var ev domain.FeedbackEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				_ = out.Encode(map[string]bool{"success": false})
				continue
			}
			_, err := eng.RecordFeedback(context.Background(), ev)
			if err != nil {
				log.Printf("serve feedback error err=%v", err)
			}
			_ = out.Encode(map[string]bool{"success": err == nil})
			continue
		}

		var req domain.MatchRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = out.Encode(map[string]any{"status": domain.StatusError, "explanation": "malformed request"})
			continue
		}
		result, err := eng.Match(context.Background(), req)
		if err != nil {
			log.Printf("serve match error err=%v", err)
		}
		_ = out.Encode(result)
	}
	return scanner.Err()
}

func runStats(eng *engine.Engine) {
	stats, err := eng.Stats(context.Background())
	if err != nil {
		log.Fatalf("stats error: %v", err)
	}
	fmt.Printf("mappings: %d (%d user-validated)\n", stats.TotalMappings, stats.ValidatedMappings)
	fmt.Printf("kb hit rate: %.1f%%\n", stats.HitRateEstimate*100)
	for _, e := range stats.TopUsed {
		fmt.Printf("  %-10s %3dx conf=%.2f %q\n", e.Code, e.UsageCount, e.Confidence, e.NormalizedText)
	}
}

func runExport(eng *engine.Engine) {
	entries, err := eng.Export(context.Background())
	if err != nil {
		log.Fatalf("export error: %v", err)
	}
	data, err := kb.MarshalSnapshot(entries)
	if err != nil {
		log.Fatalf("export error: %v", err)
	}
	os.Stdout.Write(data)
}

func runImport(eng *engine.Engine, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("import error: %v", err)
	}
	entries, err := kb.UnmarshalSnapshot(data)
	if err != nil {
		log.Fatalf("import error: %v", err)
	}
	applied, err := eng.Import(context.Background(), entries)
	if err != nil {
		log.Fatalf("import error: %v", err)
	}
	fmt.Printf("imported %d entries\n", applied)
}
