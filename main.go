package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sgarate/canvaslive/api"
	"github.com/sgarate/canvaslive/pubsub"
	"github.com/sgarate/canvaslive/pubsub/memory"
	"github.com/sgarate/canvaslive/pubsub/redis"
)

func main() {
	ctx := context.Background()
	devMode := os.Getenv("DEV_MODE") == "true"

	// With no redis endpoint the broker is in-process and broadcasts stay on
	// this instance; with one, room broadcasts reach every instance.
	var broker pubsub.Broker
	if redisEndpoint := os.Getenv("REDIS_ENDPOINT"); redisEndpoint != "" {
		redisBroker, err := redis.NewRedisBroker(ctx, devMode, redisEndpoint)
		if err != nil {
			log.Fatalf("Failed to create redis broker: %v", err)
		}
		broker = redisBroker
	} else {
		broker = memory.NewMemoryBroker()
	}

	sessionSecret, err := loadSessionSecret(devMode)
	if err != nil {
		log.Fatalf("Failed to load session secret: %v", err)
	}

	appOrigin := os.Getenv("APP_ORIGIN")
	if appOrigin == "" {
		appOrigin = "http://localhost:3000"
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	canvasAPI, err := api.NewCanvasAPI(broker, sessionSecret, appOrigin, shutdownCtx)
	if err != nil {
		log.Fatalf("Failed to create canvas api: %v", err)
	}

	mux := http.NewServeMux()
	canvasAPI.RegisterRoutes(mux, appOrigin)

	hostPort := "3002"
	if p := os.Getenv("HOST_PORT"); p != "" {
		hostPort = p
	}
	log.Printf("Starting server on host port: %s\n", hostPort)
	log.Fatal(http.ListenAndServe(":"+hostPort, mux))
}

// loadSessionSecret reads the base64 SESSION_SECRET. Session tokens are
// signed with it; restarting with a new secret invalidates outstanding
// tokens, which is consistent with rooms not surviving restarts anyway. In
// dev mode a random per-process secret is generated when none is set.
func loadSessionSecret(devMode bool) ([]byte, error) {
	if encoded := os.Getenv("SESSION_SECRET"); encoded != "" {
		return base64.StdEncoding.DecodeString(encoded)
	}
	if !devMode {
		log.Fatalf("SESSION_SECRET is required outside dev mode")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	log.Printf("SESSION_SECRET not set, generated a per-process secret")
	return secret, nil
}
