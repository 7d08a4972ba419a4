package routes

import (
	"campuslink_server/controllers"

	"github.com/gorilla/mux"
)

// RegisterSessionRoutes sets up routes for the match session under /api/session
func RegisterSessionRoutes(r *mux.Router, factory controllers.SessionFactory) {
	controller := controllers.NewSessionController(factory)

	sessionRouter := r.PathPrefix("/api/session").Subrouter()

	sessionRouter.HandleFunc("/start", controller.StartSession).Methods("POST")
	sessionRouter.HandleFunc("/next", controller.NextMatch).Methods("POST")
	sessionRouter.HandleFunc("/stop", controller.StopSession).Methods("POST")
	sessionRouter.HandleFunc("/status", controller.GetStatus).Methods("GET")
}
