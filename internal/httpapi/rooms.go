package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/park285/cheese-relay/internal/board"
	"github.com/park285/cheese-relay/internal/room"
	"github.com/park285/cheese-relay/pkg/relaydto"
	"go.uber.org/zap"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, relaydto.StatusResponse{
		Status:  "online",
		Message: s.text("health.online", nil, "Chess relay server is running"),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n := s.rooms.Len()
	writeJSON(w, http.StatusOK, relaydto.StatusResponse{
		Status:      "healthy",
		Message:     s.text("health.healthy", map[string]any{"Rooms": n}, ""),
		ActiveRooms: &n,
	})
}

func (s *Server) playerID(r *http.Request) string {
	if pid := strings.TrimSpace(r.URL.Query().Get("player_id")); pid != "" {
		return pid
	}
	return s.newPlayerID()
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	pid := s.playerID(r)
	sess := s.rooms.Create(pid)
	writeJSON(w, http.StatusOK, relaydto.CreateRoomResponse{
		RoomID:   sess.Code,
		PlayerID: pid,
		Message:  s.text("room.created", map[string]any{"Code": sess.Code}, "Room created"),
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.PathValue("code"))
	if !s.rooms.ValidCode(code) {
		writeError(w, http.StatusNotFound, relaydto.CodeNotFound, s.text("room.invalid_code", nil, room.ReasonNotFound))
		return
	}
	pid := s.playerID(r)
	sess, reason, err := s.rooms.Join(code, pid)
	switch {
	case errors.Is(err, room.ErrNotFound):
		writeError(w, http.StatusNotFound, relaydto.CodeNotFound, s.text("join.not_found", nil, reason))
		return
	case errors.Is(err, room.ErrFull):
		writeError(w, http.StatusConflict, relaydto.CodeFull, s.text("join.full", nil, reason))
		return
	case err != nil:
		s.logger.Error("http_join_error", zap.String("code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, relaydto.CodeInternal, err.Error())
		return
	}

	key := "join.joined"
	if reason == room.ReasonAlready {
		key = "join.already"
	}
	resp := relaydto.JoinRoomResponse{
		Success:  true,
		RoomID:   sess.Code,
		PlayerID: pid,
		Message:  s.text(key, nil, reason),
	}
	if p, ok := sess.Participant(pid); ok {
		resp.Color = string(p.Color)
	}
	writeJSON(w, http.StatusOK, resp)
}

// session resolves the {code} path value, writing a 404 for malformed or
// unknown codes.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*room.Session, bool) {
	code := strings.TrimSpace(r.PathValue("code"))
	if !s.rooms.ValidCode(code) {
		writeError(w, http.StatusNotFound, relaydto.CodeNotFound, s.text("room.invalid_code", nil, room.ReasonNotFound))
		return nil, false
	}
	sess, ok := s.rooms.Get(code)
	if !ok {
		writeError(w, http.StatusNotFound, relaydto.CodeNotFound, s.text("room.not_found", nil, room.ReasonNotFound))
		return nil, false
	}
	return sess, true
}

func (s *Server) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeRoomInfo(w, sess)
}

// handlePlayerRoom lets a client that knows its own player ID recover the
// room it most recently created or joined.
func (s *Server) handlePlayerRoom(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.rooms.RoomOf(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, relaydto.CodeNotFound, s.text("room.not_found", nil, room.ReasonNotFound))
		return
	}
	writeRoomInfo(w, sess)
}

func writeRoomInfo(w http.ResponseWriter, sess *room.Session) {
	writeJSON(w, http.StatusOK, relaydto.RoomInfoResponse{
		RoomID:      sess.Code,
		PlayerCount: len(sess.Participants),
		Status:      string(sess.Status()),
		GameState:   sess.Game.DTO(),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !s.rooms.Remove(code) {
		writeError(w, http.StatusNotFound, relaydto.CodeNotFound, s.text("room.not_found", nil, room.ReasonNotFound))
		return
	}
	closed := s.hub.CloseRoom(code, s.text("ws.room_closed", nil, "Room closed"))
	s.logger.Info("room_delete", zap.String("code", code), zap.Int("channels", closed))
	writeJSON(w, http.StatusOK, relaydto.MessageResponse{
		Message: s.text("room.deleted", map[string]any{"Code": code}, "Room deleted"),
	})
}

// handleHistory lists the finished games of the room's current session only.
// A reused code never shows games of an earlier room.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	limit := s.historyLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, relaydto.CodeBadRequest, s.text("history.invalid_limit", nil, "invalid limit"))
			return
		}
		limit = min(n, s.historyLimit)
	}
	items, err := s.history.History(r.Context(), sess.ID, limit)
	if err != nil {
		s.logger.Warn("http_history_error", zap.String("code", sess.Code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, relaydto.CodeInternal, "history unavailable")
		return
	}
	resp := relaydto.HistoryResponse{RoomID: sess.Code, Games: make([]*relaydto.GameRecord, 0, len(items))}
	for _, it := range items {
		resp.Games = append(resp.Games, it.Record())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	code := sess.Code
	if sess.Game == nil {
		writeError(w, http.StatusNotFound, relaydto.CodeNotFound, s.text("board.no_game", map[string]any{"Code": sess.Code}, "no game"))
		return
	}
	perspective := room.White
	if v := strings.TrimSpace(r.URL.Query().Get("perspective")); v != "" {
		c, err := room.ParseColor(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, relaydto.CodeBadRequest, s.text("board.invalid_perspective", nil, err.Error()))
			return
		}
		perspective = c
	}
	png, err := s.board.RenderFEN(r.Context(), sess.Game.FEN, perspective)
	if err != nil {
		if errors.Is(err, board.ErrInvalidFEN) {
			writeError(w, http.StatusUnprocessableEntity, relaydto.CodeBadRequest, err.Error())
			return
		}
		s.logger.Warn("http_board_error", zap.String("code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, relaydto.CodeInternal, "render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
