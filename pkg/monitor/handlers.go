package monitor

import (
	"encoding/json"
	"net/http"
)

// statusResponse mirrors the dispatcher's ModemState plus the number of
// registered clients, for a single-call snapshot of "what is the modem
// doing right now".
type statusResponse struct {
	Echo          bool `json:"echo"`
	PinReady      bool `json:"pin_ready"`
	Cfun          int  `json:"cfun"`
	ActiveClients int  `json:"active_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.dispatcher.State()
	resp := statusResponse{
		Echo:          state.Echo,
		PinReady:      state.PinReady,
		Cfun:          state.Cfun,
		ActiveClients: len(s.clients.List()),
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.clients.List())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
