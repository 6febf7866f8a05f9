package websocket

import "github.com/yegors/handsfree/internal/pipeline"

// Feed subscribes the server to every pipeline stream and returns a func
// that detaches it
func (s *Server) Feed(p *pipeline.Pipeline) func() {
	offs := []func(){
		p.OnTranscript(func(r pipeline.TranscriptResult) {
			s.Broadcast(&Message{Type: MessageTypeTranscript, Data: r})
		}),
		p.OnLifecycle(func(e pipeline.LifecycleEvent) {
			s.Broadcast(&Message{Type: MessageTypeLifecycle, Data: e})
			s.Broadcast(&Message{Type: MessageTypeStatus, Data: p.Status()})
		}),
		p.OnError(func(e pipeline.ErrorEvent) {
			s.Broadcast(&Message{Type: MessageTypeError, Data: e})
		}),
		p.OnWarning(func(w pipeline.Warning) {
			s.Broadcast(&Message{Type: MessageTypeWarning, Data: w})
		}),
		p.OnLevel(func(l pipeline.LevelEvent) {
			s.Broadcast(&Message{Type: MessageTypeLevel, Data: l})
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
