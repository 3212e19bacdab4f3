package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pongarena/match-system/handlers"
)

func SetupRoutes(
	router *chi.Mux,
	roomHandler *handlers.RoomHandler,
	webSocketHandler *handlers.WebSocketHandler,
	allowedOrigins []string,
) {
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	router.Route("/rooms", func(r chi.Router) {
		r.Post("/", roomHandler.CreateRoom)
		r.Post("/ai", roomHandler.CreateAIRoom)
		r.Get("/{name}", roomHandler.GetRoomState)
		r.Delete("/{name}", roomHandler.DeleteRoom)
	})

	router.Get("/ws/game", webSocketHandler.ServeGame)
}
