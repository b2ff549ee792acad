package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xuedaobian/chatgpt-like/internal/handlers"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfgFile, err := os.Open(*cfgPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening config file: %w", err))
	}

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		cfgFile.Close()
		log.Fatal(fmt.Errorf("error decoding config file: %w", err))
	}
	cfgFile.Close()

	logLevel := slog.LevelInfo
	if cfg.LogLevel != "" {
		if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			log.Fatal(fmt.Errorf("error parsing log level: %w", err))
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating llm: %w", err))
	}
	titleGen, err := cfg.LLM.titleGen(cfg.TitleGeneratorPrompt, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating title generator: %w", err))
	}

	store, closeStore, err := cfg.store()
	if err != nil {
		log.Fatal(fmt.Errorf("error creating store: %w", err))
	}

	m := handlers.NewMain(llm, titleGen, store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", m.HandleChat)
	mux.HandleFunc("POST /api/chat/retry", m.HandleRetry)
	mux.HandleFunc("GET /api/chat/history/{sessionId}", m.HandleHistory)
	mux.HandleFunc("GET /api/chat/sessions", m.HandleSessions)

	port := cfg.Port
	if port == "" {
		port = "3001"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	if err := closeStore(); err != nil {
		logger.Error("Failed to close store", slog.String("err", err.Error()))
	}
}
