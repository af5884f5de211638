package devserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const matchHistoryLimit = 50

func Routes(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", healthz)
	r.Get("/matches", s.recentMatches)
	r.Get("/ws/games", s.Handler(nsGames))
	r.Get("/ws/chat", s.Handler(nsChat))
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// recentMatches serves the match history when the store is enabled.
func (s *Server) recentMatches(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		http.Error(w, "match history disabled", http.StatusNotFound)
		return
	}
	recs, err := s.store.RecentMatches(matchHistoryLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recs)
}
