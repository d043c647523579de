// treenav server
// Builds and serves a hierarchical document index
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nainya/treenav/internal/logger"
	"github.com/nainya/treenav/internal/server"
	"github.com/nainya/treenav/pkg/scorer"
)

var (
	dataDir    = flag.String("data", "treenav-data", "Directory for the node store")
	cacheSize  = flag.Int("cache", 5000, "Node cache capacity")
	workers    = flag.Int("workers", 4, "Concurrent ingestion builds")
	maxFanout  = flag.Int("fanout", 10, "Maximum children per interior node")
	maxDepth   = flag.Int("depth", 6, "Maximum tree depth")
	chunkWords = flag.Int("chunk-words", 500, "Words per leaf chunk")
	floor      = flag.Float64("relevance-floor", 0, "Minimum score to keep descending")
	obsPort    = flag.Int("obs-port", 9090, "Observability HTTP port (0 disables)")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	pretty     = flag.Bool("pretty", false, "Pretty-print logs for development")
	model      = flag.String("openai-model", "gpt-4o-mini", "OpenAI model when OPENAI_API_KEY is set")
)

func main() {
	flag.Parse()

	logger.InitGlobalLogger(logger.Config{Level: *logLevel, Pretty: *pretty})
	log := logger.GetGlobalLogger()

	log.WithFields(map[string]interface{}{
		"cache_capacity": *cacheSize,
		"max_fanout":     *maxFanout,
		"max_depth":      *maxDepth,
		"chunk_words":    *chunkWords,
	}).Info("configuration loaded").Send()

	// Scorer: OpenAI when a key is present, lexical fallback otherwise
	var sc scorer.Scorer = scorer.NewLexical()
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		sc = scorer.NewOpenAI(key, *model)
	}
	log.Info("scorer selected").Str("version", sc.Version()).Send()

	srv, err := server.NewServer(server.Config{
		DataDir:        *dataDir,
		CacheCapacity:  *cacheSize,
		Workers:        *workers,
		MaxFanout:      *maxFanout,
		MaxDepth:       *maxDepth,
		ChunkSizeWords: *chunkWords,
		RelevanceFloor: *floor,
		Scorer:         sc,
		Logger:         log,
	})
	if err != nil {
		log.Fatal("failed to create server").Err(err).Send()
	}

	log.LogServerStart(*dataDir, *workers)

	var obs *server.ObservabilityServer
	if *obsPort > 0 {
		obs = server.NewObservabilityServer(*obsPort, srv.Collector(), log)
		go func() {
			if err := obs.Start(); err != nil {
				log.Error("observability server failed").Err(err).Send()
			}
		}()
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.LogServerReady()
	<-sigChan

	log.LogServerShutdown()
	if obs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		obs.Shutdown(ctx)
		cancel()
	}
	if err := srv.Close(); err != nil {
		log.Error("shutdown error").Err(err).Send()
	}
}
