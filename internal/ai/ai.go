// Package ai holds the contracts for the model vendors the feature
// endpoints call. Handlers depend on these interfaces; the concrete
// gateway client lives in client.go.
package ai

import "context"

// Completion is the result of a text or vision completion.
type Completion struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
}

// CompleteRequest describes a single keyboard action. ImageB64 is set for
// vision-assisted actions and empty otherwise.
type CompleteRequest struct {
	Action   string
	Text     string
	Tone     string
	ImageB64 string
}

type Completer interface {
	Complete(ctx context.Context, req CompleteRequest) (*Completion, error)
}

// Transcript is the result of an audio transcription.
type Transcript struct {
	Text     string
	Language string
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (*Transcript, error)
}

// Synthesizer turns text into speech with a given voice profile.
type Synthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) ([]byte, error)
}

// VoiceCloner builds a reusable voice profile from a sample recording.
type VoiceCloner interface {
	CloneVoice(ctx context.Context, name string, sample []byte) (voiceID string, err error)
}
