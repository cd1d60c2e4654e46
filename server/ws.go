package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maastricht-university/viva-pipeline/orchestrator"
	"github.com/maastricht-university/viva-pipeline/scoring"
)

// CloseSessionNotFound is sent when the websocket names an unknown session.
const CloseSessionNotFound = 4004

// message is a JSON control frame. Reply audio follows a "reply" frame as
// AudioChunks binary frames.
type message struct {
	Type        string                   `json:"type"` // system, processing, reply, error
	Message     string                   `json:"message,omitempty"`
	SessionID   string                   `json:"session_id,omitempty"`
	Code        string                   `json:"code,omitempty"`
	Turn        *int                     `json:"turn,omitempty"`
	Transcript  string                   `json:"transcript,omitempty"`
	Reply       string                   `json:"reply,omitempty"`
	Score       *scoring.EvaluationScore `json:"score,omitempty"`
	AudioChunks int                      `json:"audio_chunks,omitempty"`
}

func (s *Server) interview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := s.log.WithField("session_id", id)
	if _, err := s.sessions.GetSession(id); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseSessionNotFound, "Session not found"),
			time.Now().Add(2*time.Second))
		return
	}
	if s.opts.MaxAudioBytes > 0 {
		conn.SetReadLimit(s.opts.MaxAudioBytes)
	}

	if err := s.send(conn, message{Type: "system", Message: "Connected to interview session", SessionID: id}); err != nil {
		return
	}
	s.metrics.ConnectionsOpen.Inc()
	defer s.metrics.ConnectionsOpen.Dec()
	log.Info("client connected")

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			_ = s.sessions.Disconnect(id)
			log.WithError(err).Info("client disconnected")
			return
		}
		if mt != websocket.BinaryMessage {
			if s.send(conn, message{Type: "error", Code: "bad_request", Message: "expected binary audio"}) != nil {
				return
			}
			continue
		}
		if err := s.send(conn, message{Type: "processing", Message: "Audio received, processing..."}); err != nil {
			return
		}

		began := time.Now()
		u, err := s.sessions.HandleAudioUnit(r.Context(), id, data)
		if err != nil {
			_, code := classify(err)
			s.metrics.observeUnit(code, time.Since(began), len(data), 0)
			log.WithError(err).Warn("audio unit failed")
			if s.send(conn, message{Type: "error", Code: code, Message: err.Error()}) != nil {
				return
			}
			continue
		}
		if u.Skipped {
			s.metrics.observeUnit("skipped", time.Since(began), len(data), 0)
			if s.send(conn, message{Type: "system", Message: "No speech detected"}) != nil {
				return
			}
			continue
		}
		out := 0
		for _, chunk := range u.Audio {
			out += len(chunk)
		}
		s.metrics.observeUnit("reply", time.Since(began), len(data), out)
		if err := s.reply(conn, u); err != nil {
			return
		}
	}
}

func (s *Server) reply(conn *websocket.Conn, u *orchestrator.Unit) error {
	turn := u.Turn.Index
	err := s.send(conn, message{
		Type:        "reply",
		Turn:        &turn,
		Transcript:  u.Transcript,
		Reply:       u.Turn.Reply,
		Score:       u.Turn.Score,
		AudioChunks: len(u.Audio),
	})
	if err != nil {
		return err
	}
	for _, chunk := range u.Audio {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) send(conn *websocket.Conn, m message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.WriteJSON(m)
}
