package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"qerplunk/ride-share/api"
	"qerplunk/ride-share/auth"
	"qerplunk/ride-share/envconfig"
	"qerplunk/ride-share/middleware"
	"qerplunk/ride-share/mirror"
	"qerplunk/ride-share/presence"
	"qerplunk/ride-share/rooms"
	"qerplunk/ride-share/store"
	wsserver "qerplunk/ride-share/ws_server"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	if envConfig := envconfig.InitEnvConfig(); !envConfig {
		os.Exit(1)
	}
	config := envconfig.EnvConfig

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDatabase(ctx, config.DBPath)
	if err != nil {
		slog.Error("error opening database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.CreateTables(ctx); err != nil {
		slog.Error("error creating tables", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Redis is optional, without it locations only live in memory
	var presenceOpts []presence.Option
	var locations api.LocationReader
	if config.RedisURL != "" {
		client, err := mirror.Dial(ctx, config.RedisURL)
		if err != nil {
			slog.Error("error connecting to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer client.Close()

		redisMirror := mirror.NewRedisMirror(client)
		defer redisMirror.Close()

		presenceOpts = append(presenceOpts, presence.WithMirror(redisMirror))
		locations = redisMirror
		slog.Info("mirroring locations to redis")
	}

	broadcaster := presence.NewBroadcaster(rooms.NewRegistry(), presenceOpts...)
	wsServer := wsserver.NewServer(broadcaster, config.WsMaxMessages, config.WsWindow)
	tokens := auth.NewTokenManager(config.JwtSecret, config.JwtExpire)

	router := mux.NewRouter()
	api.NewServer(db, tokens, broadcaster, locations).RegisterRoutes(router)

	wsStack := middleware.CreateStack(middleware.OriginCheck(config.AllowedOrigins))
	router.HandleFunc("/ws", wsStack(wsServer.HandleWebSocket))

	if config.StaticDir != "" {
		router.PathPrefix("/").HandlerFunc(staticHandler(config.StaticDir))
	}

	server := &http.Server{
		Addr:    ":" + config.Port,
		Handler: withMiddleware(router, config.Production(), config.ClientURL),
	}

	go func() {
		slog.Info("server running", slog.String("port", config.Port), slog.String("env", config.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("error starting server", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down server", slog.String("error", err.Error()))
	}
}

// Wraps the router with CORS, panic recovery and access logging
func withMiddleware(router http.Handler, production bool, clientURL string) http.Handler {
	allowedOrigins := []string{"*"}
	if production && clientURL != "" {
		allowedOrigins = []string{clientURL}
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: production,
	})

	handler := corsHandler.Handler(router)
	handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(handler)
	return handlers.CombinedLoggingHandler(os.Stdout, handler)
}

// Serves static assets, falling back to index.html for client side routing
func staticHandler(dir string) http.HandlerFunc {
	fs := http.FileServer(http.Dir(dir))

	return func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fs.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}
