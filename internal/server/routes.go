package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/verify-host-password", s.verifyHostPasswordHandler)
	mux.HandleFunc("/join-qr", s.joinQRHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.log.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, map[string]string{"service": "reflex-royale-server"})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, HealthResponse{
		Status:      "ok",
		Rooms:       s.registry.Count(),
		Connections: s.connections.Count(),
	})
}

// verifyHostPasswordHandler gates the host-mode UI behind a shared secret.
// It answers yes or no; no session or token is issued.
func (s *Server) verifyHostPasswordHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req VerifyPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	success := s.cfg.HostPassword != "" && req.Password == s.cfg.HostPassword
	s.writeJSON(w, VerifyPasswordResponse{Success: success})
}

// joinQRHandler renders a QR code of the join URL for a live room, for the
// host screen to display.
func (s *Server) joinQRHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if err := ValidateRoomCode(code); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.registry.Get(code); err != nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	joinURL := fmt.Sprintf("%s/?room=%s", s.cfg.PublicURL, code)
	png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "Failed to render QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		s.log.Debug().Err(err).Msg("failed to write QR response")
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	addr := remoteAddr(r.RemoteAddr)
	if !s.connLimiter.Allow(addr) {
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()
	connectionID := uuid.New().String()
	s.log.Info().Str("conn", connectionID).Str("addr", addr).Msg("connection opened")
	s.connections.Add(connectionID, socket)
	defer s.handleDisconnect(connectionID)

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.ToConnection(connectionID, "error", ErrorMessage{
				Message: "Message must be valid JSON", Code: "INVALID_JSON",
			})
			continue
		}
		s.dispatch(connectionID, msg)
	}
}
