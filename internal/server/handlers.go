package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"wevote/internal/api"
	"wevote/internal/config"
	"wevote/internal/db"
	"wevote/internal/rooms"
)

const historyLimit = 20

type Server struct {
	Rooms *rooms.Store
	DB    *db.DB // nil if no database configured

	corsOrigins []string
	votes       *voteLimiter
}

func NewServer(store *rooms.Store, cfg config.Config) *Server {
	return &Server{
		Rooms:       store,
		corsOrigins: cfg.CORSOrigins,
		votes:       newVoteLimiter(cfg.VoteRate, cfg.VoteBurst),
	}
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	room, err := s.Rooms.Create(req.HostName)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, api.CreateRoomResponse{RoomID: room.Code})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req api.JoinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	code := normalizeCode(req.RoomID)
	if _, err := s.Rooms.Join(code, req.Name); err != nil {
		log.Debug().Err(err).Str("room_id", code).Str("name", req.Name).Msg("join rejected")
		writeError(w, err)
		return
	}

	log.Info().Str("room_id", code).Str("name", req.Name).Msg("participant joined")
	writeJSON(w, http.StatusOK, api.MessageResponse{
		Message: fmt.Sprintf("welcome %s, you joined room %s", strings.TrimSpace(req.Name), code),
	})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req api.VoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	code := normalizeCode(req.RoomID)
	room, err := s.Rooms.Lookup(code)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.votes.Allow(code, req.Name) {
		writeJSON(w, http.StatusTooManyRequests, api.ErrorResponse{Error: "too many votes, slow down"})
		return
	}
	if err := room.Vote(req.Name, req.Score); err != nil {
		writeError(w, err)
		return
	}

	msg := fmt.Sprintf("%s cleared their vote", req.Name)
	if req.Score != nil {
		msg = fmt.Sprintf("%s voted %g", req.Name, *req.Score)
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: msg})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req api.LockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	code := normalizeCode(req.RoomID)
	room, err := s.Rooms.Lookup(code)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := room.Lock(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("room_id", code).Msg("voting locked")

	// Persist round history
	if s.DB != nil {
		if _, err := s.DB.RecordRound(r.Context(), roundRecord(snap)); err != nil {
			log.Error().Err(err).Str("room_id", code).Msg("recording round")
		}
	}

	writeJSON(w, http.StatusOK, api.MessageResponse{Message: fmt.Sprintf("room %s locked", code)})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req api.RestartRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	code := normalizeCode(req.RoomID)
	room, err := s.Rooms.Lookup(code)
	if err != nil {
		writeError(w, err)
		return
	}
	room.Restart()
	log.Info().Str("room_id", code).Msg("room restarted")

	writeJSON(w, http.StatusOK, api.MessageResponse{Message: fmt.Sprintf("room %s restarted, vote again", code)})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	room, err := s.Rooms.Lookup(normalizeCode(r.URL.Query().Get("roomId")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse(room.Snapshot()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "round history is not enabled"})
		return
	}
	code := normalizeCode(r.URL.Query().Get("roomId"))
	rounds, err := s.DB.ListRounds(r.Context(), code, historyLimit)
	if err != nil {
		log.Error().Err(err).Str("room_id", code).Msg("listing rounds")
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load history"})
		return
	}

	resp := api.HistoryResponse{Rounds: make([]api.RoundSummary, 0, len(rounds))}
	for _, rd := range rounds {
		sum := api.RoundSummary{
			ID:       rd.ID,
			LockedAt: rd.LockedAt.UTC().Format(time.RFC3339),
			Average:  rd.Average,
			Votes:    make([]api.PlayerResult, 0, len(rd.Votes)),
		}
		for _, v := range rd.Votes {
			sum.Votes = append(sum.Votes, api.PlayerResult{Name: v.Name, Score: v.Score})
		}
		resp.Rounds = append(resp.Rounds, sum)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.DB != nil {
		if err := s.DB.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_error", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func resultsResponse(snap rooms.Snapshot) api.ResultsResponse {
	resp := api.ResultsResponse{
		Locked:  snap.Locked(),
		Results: make([]api.PlayerResult, 0, len(snap.Players)),
		Average: snap.Average,
	}
	for _, p := range snap.Players {
		resp.Results = append(resp.Results, api.PlayerResult{Name: p.Name, Score: p.Score})
	}
	return resp
}

func roundRecord(snap rooms.Snapshot) db.RoundRecord {
	rec := db.RoundRecord{
		RoomCode: snap.Code,
		Host:     snap.Host,
		Average:  snap.Average,
	}
	for _, p := range snap.Players {
		rec.Votes = append(rec.Votes, db.VoteRecord{Name: p.Name, Score: p.Score})
	}
	return rec
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, rooms.ErrPlayerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rooms.ErrNameTaken), errors.Is(err, rooms.ErrLocked):
		status = http.StatusConflict
	case errors.Is(err, rooms.ErrNotHost):
		status = http.StatusForbidden
	case errors.Is(err, rooms.ErrInvalidName):
		status = http.StatusBadRequest
	default:
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}
