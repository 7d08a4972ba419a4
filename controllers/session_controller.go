package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"campuslink_server/services"
)

// SessionFactory builds a fresh SessionService for an identity. ENDED is
// terminal per session instance, so every start constructs a new one.
type SessionFactory func(identity services.SessionIdentity) *services.SessionService

// SessionController handles HTTP requests for the match session lifecycle
type SessionController struct {
	factory SessionFactory

	mu      sync.Mutex
	current *services.SessionService
}

// NewSessionController creates a new SessionController instance
func NewSessionController(factory SessionFactory) *SessionController {
	return &SessionController{factory: factory}
}

// StartSession begins searching with the identity supplied in the request body
func (sc *SessionController) StartSession(w http.ResponseWriter, r *http.Request) {
	var identity services.SessionIdentity
	if err := json.NewDecoder(r.Body).Decode(&identity); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := identity.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if identity.Attributes.Banned {
		http.Error(w, "This account is not eligible for matching", http.StatusForbidden)
		return
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.current != nil && sc.current.State() != services.SessionEnded {
		http.Error(w, "A session is already running", http.StatusConflict)
		return
	}

	session := sc.factory(identity)
	// The session outlives the request; its lifetime ends with Stop.
	if err := session.Start(context.Background()); err != nil {
		http.Error(w, fmt.Sprintf("Failed to start session: %v", err), http.StatusServiceUnavailable)
		return
	}
	sc.current = session

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Session started",
		"status":  session.Status(),
	})
}

// NextMatch skips the current peer and resumes searching
func (sc *SessionController) NextMatch(w http.ResponseWriter, r *http.Request) {
	session := sc.activeSession()
	if session == nil {
		http.Error(w, "No active session", http.StatusNotFound)
		return
	}

	if err := session.Next(); err != nil {
		http.Error(w, fmt.Sprintf("Failed to skip: %v", err), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Searching for the next match",
		"status":  session.Status(),
	})
}

// StopSession tears everything down and releases local media
func (sc *SessionController) StopSession(w http.ResponseWriter, r *http.Request) {
	session := sc.activeSession()
	if session == nil {
		http.Error(w, "No active session", http.StatusNotFound)
		return
	}

	if err := session.Stop(); err != nil {
		http.Error(w, fmt.Sprintf("Failed to stop session: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Session ended"})
}

// GetStatus reports the current session snapshot
func (sc *SessionController) GetStatus(w http.ResponseWriter, r *http.Request) {
	session := sc.activeSession()
	w.Header().Set("Content-Type", "application/json")
	if session == nil {
		json.NewEncoder(w).Encode(map[string]string{"state": "NONE"})
		return
	}
	json.NewEncoder(w).Encode(session.Status())
}

func (sc *SessionController) activeSession() *services.SessionService {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}
