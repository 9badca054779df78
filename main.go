package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
)

// main parses flags and environment, loads the dataset once, mirrors it
// into the stats database and starts the web server.
func main() {
	addr := flag.String("addr", ":8082", "Listen address (PORT env overrides)")
	dataPath := flag.String("data", "data/grants.json", "Primary dataset JSON path")
	legacyPath := flag.String("legacy-data", "data/grants-legacy.json", "Legacy-format dataset JSON path (fallback)")
	publicDir := flag.String("public", "public", "Static asset directory")
	model := flag.String("model", defaultChatModel, "Anthropic model for chat replies")
	flag.Parse()

	listen := *addr
	if p := os.Getenv("PORT"); p != "" {
		listen = ":" + p
	}

	ds := loadDataset(*dataPath, *legacyPath)

	stats, err := newStatsDB()
	if err != nil {
		log.Fatalf("Failed to open stats db: %v", err)
	}
	defer func() {
		if err := stats.close(); err != nil {
			log.Printf("Warning: failed to close stats db: %v", err)
		}
	}()
	if ds != nil {
		if err := stats.loadDataset(ds); err != nil {
			log.Fatalf("Failed to mirror dataset: %v", err)
		}
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Printf("WARN: ANTHROPIC_API_KEY not set, chat disabled")
	}
	lm := newAnthropicClient("", apiKey, *model)

	mux := newMux(ds, stats, lm, *publicDir)
	fmt.Printf("Grants dashboard: http://localhost%s\n", listen)
	log.Fatal(http.ListenAndServe(listen, mux))
}
