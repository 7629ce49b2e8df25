package api

import (
	"context"
	"net/http"

	"github.com/sgarate/canvaslive/api/rest"
	"github.com/sgarate/canvaslive/api/ws"
	"github.com/sgarate/canvaslive/pubsub"
	"github.com/sgarate/canvaslive/service"
	"github.com/sgarate/canvaslive/worker"
)

type CanvasAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewCanvasAPI(
	broker pubsub.Broker,
	sessionSecret []byte,
	appOrigin string,
	shutdownCtx context.Context,
) (*CanvasAPI, error) {
	svc, err := service.NewService(broker, sessionSecret, appOrigin)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(svc, broker)
	go hub.Run()

	statsReporter := worker.NewStatsReporter(svc, 60000)
	go statsReporter.Run(shutdownCtx)

	restHandler := rest.NewHandler(svc)
	wsHandler := ws.NewHandler(svc, hub)

	return &CanvasAPI{
		restHandler: restHandler,
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}, nil
}

func (canvasAPI *CanvasAPI) RegisterRoutes(mux *http.ServeMux, allowedOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// The SPA runs on a separate origin, so the REST endpoints answer CORS
	// preflights for it.
	mux.HandleFunc("/api/rooms/create", withCORS(allowedOrigin, canvasAPI.restHandler.HandleCreateRoom))
	mux.HandleFunc("/api/rooms/", withCORS(allowedOrigin, canvasAPI.restHandler.HandleRooms))

	wsUpgrader := canvasAPI.wsHandler.NewWsUpgrader(allowedOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		canvasAPI.wsHandler.ServeWS(wsUpgrader, w, r, canvasAPI.shutdownCtx)
	})
}

func withCORS(allowedOrigin string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}
