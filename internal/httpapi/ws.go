package httpapi

import (
	"net/http"
	"strings"

	"github.com/park285/cheese-relay/internal/wsconn"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// handleWS upgrades first and reports admission failures as close codes:
// 4000 missing player_id, 4004 unknown room, 4003 not a participant.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.PathValue("code"))
	pid := strings.TrimSpace(r.URL.Query().Get("player_id"))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.patterns})
	if err != nil {
		s.logger.Warn("ws_accept_error", zap.String("code", code), zap.Error(err))
		return
	}
	conn := wsconn.New(ws, r.RemoteAddr)
	conn.SetReadLimit(s.readLimit)

	if pid == "" {
		_ = conn.CloseWith(wsconn.StatusBadRequest, s.text("ws.missing_player", nil, "player_id is required"))
		return
	}
	if !s.rooms.ValidCode(code) {
		_ = conn.CloseWith(wsconn.StatusNotFound, s.text("ws.room_not_found", nil, "Room not found"))
		return
	}
	if _, ok := s.rooms.Get(code); !ok {
		_ = conn.CloseWith(wsconn.StatusNotFound, s.text("ws.room_not_found", nil, "Room not found"))
		return
	}
	if _, ok := s.rooms.Color(code, pid); !ok {
		_ = conn.CloseWith(wsconn.StatusForbidden, s.text("ws.not_member", nil, "Player not in room"))
		return
	}

	if err := s.disp.Serve(r.Context(), code, pid, conn); err != nil {
		s.logger.Info("ws_closed_with_error", zap.String("code", code), zap.String("player_id", pid), zap.Error(err))
	}
}
