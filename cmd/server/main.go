package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"halcyon/voice/internal/api"
	"halcyon/voice/internal/config"
	"halcyon/voice/internal/llm"
	"halcyon/voice/internal/rag"
	"halcyon/voice/internal/session"
	"halcyon/voice/internal/store"
	"halcyon/voice/internal/tts"
	"halcyon/voice/internal/turn"
	"halcyon/voice/internal/ws"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	// Persistent turn records (best-effort; the pipeline never blocks on it)
	var st *store.Store
	var writer *store.Writer
	var records turn.RecordSink
	if cfg.Store.Enabled {
		var err error
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			log.Printf("store disabled: %v", err)
		} else {
			writer = store.NewWriter(st)
			records = writer
		}
	}

	// Process-wide provider clients with pooled connections
	llmClient := llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens)
	ttsClient := tts.NewClient(cfg.Eleven.APIKey, cfg.Eleven.BaseURL, cfg.Eleven.VoiceID, cfg.Eleven.ModelID)

	warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := llmClient.Warm(warmCtx); err != nil {
		log.Printf("openai pre-warm failed (non-critical): %v", err)
	}
	if err := ttsClient.Warm(warmCtx); err != nil {
		log.Printf("elevenlabs pre-warm failed (non-critical): %v", err)
	}
	warmCancel()

	var retriever rag.Retriever
	if cfg.RAG.Enabled && cfg.RAG.BaseURL != "" {
		retriever = rag.NewHTTPRetriever(cfg.RAG.BaseURL, cfg.RAG.TopK, cfg.RAG.MinSimilarity, cfg.RAG.TimeoutMs)
	}

	mgr := session.NewManager(cfg, llmClient, ttsClient, retriever, records)

	wss := ws.NewServer(cfg, mgr)
	h := api.NewHandlers(cfg, mgr, st)

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", wss.HandleClientWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("shutdown signal received; stopping server...")
		mgr.Shutdown()
		if writer != nil {
			writer.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Printf("server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("server error:", err)
		os.Exit(1)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
