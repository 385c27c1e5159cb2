package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rus-connect/filterbench/pkg/config"
	"github.com/rus-connect/filterbench/pkg/logger"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, _, _ := logger.New(logger.Options{Service: "websocket-server", Level: cfg.LogLevel})
	log.Info().Msg("Starting WebSocket Server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := newHub(log)
	go hub.run(ctx)

	var reader *kafka.Reader
	if len(cfg.KafkaBrokers) > 0 {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: "websocket-server-group",
		})
		defer reader.Close()
		go relay(ctx, reader, hub, log)
	} else {
		log.Warn().Msg("KAFKA_BROKERS empty, no reports will be relayed")
	}

	upgrader := &websocket.Upgrader{CheckOrigin: originChecker(cfg.WSAllowedOrigins)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, upgrader, w, r)
	})
	mux.HandleFunc("/health", healthzHandler)
	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/readyz", readyzHandler(reader, hub))

	srv := &http.Server{
		Addr:        ":" + cfg.WSPort,
		Handler:     mux,
		ReadTimeout: cfg.HTTPReadTimeout,
		IdleTimeout: cfg.HTTPIdleTimeout,
	}
	go func() {
		log.Info().Str("port", cfg.WSPort).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("WebSocket Server stopped")
}

// relay forwards each report published on the Kafka topic to the hub.
// Messages that are not JSON objects are dropped.
func relay(ctx context.Context, r *kafka.Reader, hub *Hub, log zerolog.Logger) {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("error reading kafka message")
			continue
		}
		if !sonic.Valid(m.Value) {
			log.Warn().Str("key", string(m.Key)).Msg("dropping malformed report")
			continue
		}
		select {
		case hub.broadcast <- m.Value:
		case <-ctx.Done():
			return
		}
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func readyzHandler(reader *kafka.Reader, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if reader == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "not_ready",
				"reason": "no kafka reader",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ready",
			"clients": hub.clientCount(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}
