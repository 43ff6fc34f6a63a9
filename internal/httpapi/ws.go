package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ErDashrath/EchoLearn-sub001/internal/protocol"
	"github.com/ErDashrath/EchoLearn-sub001/internal/voice"
)

// handleStateWS pushes a state snapshot on connect and on every pipeline
// transition, and accepts client_control frames that drive the controller.
// All websocket writes go through a single outbound queue.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.Event("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep writes single-threaded; drop if the queue is saturated.
			s.metrics.Event("ws_drop_full")
		}
	}

	unsubscribe := s.ctrl.Subscribe(func(state voice.State) {
		send(protocol.StateUpdate{
			Type:  protocol.TypeStateUpdate,
			State: state,
			TSMs:  time.Now().UnixMilli(),
		})
	})
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		ctl, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		// Controls run off the read loop: initialize and speak block on
		// engine work, and a stalled read loop would miss the next frame.
		go s.runControl(ctx, ctl, send)
	}

	cancel()
	<-writerDone
	s.metrics.Event("ws_disconnected")
}

func (s *Server) runControl(ctx context.Context, ctl protocol.ClientControl, send func(any)) {
	switch ctl.Action {
	case protocol.ActionInitialize:
		s.ctrl.Initialize(ctx)
	case protocol.ActionStartListening:
		s.ctrl.StartListening(ctx)
	case protocol.ActionStopListening:
		text, err := s.ctrl.StopListening(ctx)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "transcription_failed",
				Retryable: true,
				Detail:    err.Error(),
			})
			return
		}
		send(protocol.Transcript{
			Type: protocol.TypeTranscript,
			Text: text,
			TSMs: time.Now().UnixMilli(),
		})
	case protocol.ActionSpeak:
		if err := s.ctrl.Speak(ctx, voice.SpeakOptions{Text: ctl.Text}); err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "speak_failed",
				Retryable: true,
				Detail:    err.Error(),
			})
		}
	case protocol.ActionStopSpeaking:
		s.ctrl.StopSpeaking()
	case protocol.ActionReset:
		s.ctrl.Reset()
	}
}
