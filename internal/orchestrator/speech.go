package orchestrator

import "context"

// SpeechToText is the Voice agent's transcription collaborator. Kept as
// a small interface, the same way gate.AuditEmitter and
// tooldispatch.AllowlistSource are, so the orchestrator doesn't import a
// concrete speech provider package directly.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// TextToSpeech synthesizes the assistant's final response back to audio
// for a voice session.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
