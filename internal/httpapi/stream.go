package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ytget/fetchd/internal/model"
)

// wsWriteTimeout bounds a single frame write so one stuck client cannot pin
// the handler goroutine.
const wsWriteTimeout = 10 * time.Second

var errStreamingUnsupported = errors.New("response writer does not support streaming")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStreamLogs streams the job's log events as Server-Sent Events.
// Buffered history replays first, then live events follow. Every event is a
// `data:` line carrying the event JSON; the stream always terminates with a
// named `end` event whose data is the terminal payload.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	ch, cancel, err := s.Jobs.SubscribeLogs(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(frameSSE(event)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// frameSSE renders one log event as an SSE frame. The end event is named so
// EventSource clients can bind a dedicated listener; its message body is
// already the terminal payload JSON.
func frameSSE(event model.LogEvent) []byte {
	if event.Kind == model.EventEnd {
		return []byte("event: end\ndata: " + event.Message + "\n\n")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	return append(append([]byte("data: "), body...), '\n', '\n')
}

// handleStreamLogsWS is the WebSocket variant of the log stream: one JSON
// text frame per event, closed with a normal-closure frame after the end
// event.
func (s *Server) handleStreamLogsWS(w http.ResponseWriter, r *http.Request) {
	ch, cancel, err := s.Jobs.SubscribeLogs(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	// Drain reads so client close frames are processed; any read error means
	// the client went away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case event, open := <-ch:
			if !open {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			body, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		}
	}
}
