package coord

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
)

type barrierState struct {
	generation int
	waiting    int
}

// Server tracks named barriers. A barrier releases a generation once world_size
// ranks have arrived for it; the state then resets so the same name can be reused.
type Server struct {
	m        sync.Mutex
	barriers map[string]*barrierState
}

// NewServer returns an empty coordinator.
func NewServer() *Server {
	return &Server{barriers: make(map[string]*barrierState)}
}

// SetupRoutes registers the coordinator's handlers.
func (s *Server) SetupRoutes(r *mux.Router) {
	r.HandleFunc(EndpointArrive, s.handleArrive).Methods("POST")
	r.HandleFunc(EndpointStatus, s.handleStatus).Methods("GET")
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req ArriveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("error decoding arrive request: %v", err), http.StatusBadRequest)
		return
	}
	if req.WorldSize <= 0 || req.Rank < 0 || req.Rank >= req.WorldSize {
		http.Error(w, fmt.Sprintf("rank %d invalid for world size %d", req.Rank, req.WorldSize), http.StatusBadRequest)
		return
	}

	s.m.Lock()
	b := s.barriers[name]
	if b == nil {
		b = &barrierState{}
		s.barriers[name] = b
	}
	target := b.generation + 1
	b.waiting++
	if b.waiting >= req.WorldSize {
		b.generation++
		b.waiting = 0
	}
	s.m.Unlock()

	if err := json.NewEncoder(w).Encode(ArriveResponse{Generation: target}); err != nil {
		http.Error(w, fmt.Sprintf("error encoding arrive response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	gen, err := strconv.Atoi(r.URL.Query().Get("generation"))
	if err != nil {
		http.Error(w, fmt.Sprintf("error parsing generation: %v", err), http.StatusBadRequest)
		return
	}

	s.m.Lock()
	var released bool
	if b := s.barriers[name]; b != nil {
		released = b.generation >= gen
	}
	s.m.Unlock()

	if err := json.NewEncoder(w).Encode(StatusResponse{Released: released}); err != nil {
		http.Error(w, fmt.Sprintf("error encoding status response: %v", err), http.StatusInternalServerError)
	}
}
