package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"campuslink_server/controllers"
	"campuslink_server/routes"
	"campuslink_server/rtc"
	"campuslink_server/services"
	"campuslink_server/socket"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	// Select the registry/relay backend. "memory" runs without AWS
	// credentials for local development.
	var registry services.SeekerRegistry
	var relay services.SignalRelay
	if os.Getenv("STORE_BACKEND") == "memory" {
		log.Println("Using in-memory registry and relay (local mode)...")
		registry = services.NewMemoryRegistry()
		relay = services.NewMemoryRelay()
	} else {
		log.Println("Initializing DynamoDB client...")
		dynamoClient := services.InitializeDynamoDBClient()
		dynamoService := &services.DynamoService{Client: dynamoClient}
		registry = &services.DynamoRegistry{Dynamo: dynamoService}
		relay = &services.DynamoRelay{Dynamo: dynamoService}
		log.Println("DynamoDB client initialized.")
	}

	// Acquire the local camera/microphone once; it is shared across skips and
	// released only when a session stops. Capture failure degrades to
	// receive-only rather than blocking matching entirely.
	var source rtc.MediaSource
	camera, err := rtc.NewCameraSource()
	if err != nil {
		log.Printf("⚠️ Local media unavailable, running receive-only: %v", err)
		source = rtc.NewNullSource()
	} else {
		source = camera
	}

	iceURLs := []string{"stun:stun.l.google.com:19302"}
	if urls := os.Getenv("STUN_URLS"); urls != "" {
		iceURLs = strings.Split(urls, ",")
	}

	factory := func() (services.MediaTransport, error) {
		return rtc.NewPeerTransport(source, iceURLs)
	}

	// Socket.IO gateway pushes session lifecycle events to the UI
	gateway := socket.NewGateway()
	go func() {
		if err := gateway.Server().Serve(); err != nil {
			log.Printf("❌ Socket server error: %v", err)
		}
	}()
	defer gateway.Server().Close()

	sessionFactory := func(identity services.SessionIdentity) *services.SessionService {
		return services.NewSessionService(registry, relay, factory, source, gateway, identity, services.SessionConfig{})
	}

	// Set up the server port
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Using server port: %s\n", port)

	// Initialize the router
	r := mux.NewRouter()

	// Register a welcome route
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Welcome to CampusLink")
	}).Methods("GET")

	// Register a health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		response := map[string]string{"status": "healthy"}
		json.NewEncoder(w).Encode(response)
	}).Methods("GET")

	// Register routes
	routes.RegisterSessionRoutes(r, controllers.SessionFactory(sessionFactory))
	r.Handle("/socket.io/", gateway.Server())

	// Add CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Adjust for specific domains if needed
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	// Start the HTTP server
	log.Printf("Starting server on port %s...\n", port)
	log.Fatal(http.ListenAndServe(":"+port, corsHandler))
}
