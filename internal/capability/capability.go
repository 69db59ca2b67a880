// Package capability defines the external-collaborator interfaces the
// core consumes (spec.md §6.4): ASR, Reasoner, Diarizer, Embedder. Real
// implementations live behind HTTP clients elsewhere; this package also
// ships fakes for tests, following the teacher's pattern of a small
// named interface per external capability with swappable real/fake
// implementations (spec.md §9 "Polymorphism").
package capability

import "context"

// ASR transcribes bytes of audio into text (spec.md §6.4).
type ASR interface {
	Transcribe(ctx context.Context, wavBytes []byte) (string, error)
}

// ReasonerUsage reports token usage for billing (spec.md §4.4 gpt_price).
type ReasonerUsage struct {
	InputTokens  int
	OutputTokens int
}

// ReasonerResponse is the Reasoner's completion plus usage metering.
// ReasoningSummary is populated only when Complete was called with
// reasoningSummary=true.
type ReasonerResponse struct {
	Text             string
	Usage            ReasonerUsage
	ReasoningSummary string
}

// Reasoner calls a reasoning model with a prompt and optional effort
// hint, returning text and token usage (spec.md §6.4).
type Reasoner interface {
	Complete(ctx context.Context, prompt string, effort string, reasoningSummary bool) (ReasonerResponse, error)
}

// Utterance is one diarized speech span (spec.md §6.4).
type Utterance struct {
	SpeakerTag string
	StartMs    int64
	EndMs      int64
	Text       string
}

// DiarizeResult is the Diarizer's output for one clip.
type DiarizeResult struct {
	Utterances []Utterance
}

// Diarizer labels speech in an audio file with anonymous speaker tags
// (spec.md §6.4).
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) (DiarizeResult, error)
}

// EmbeddingDimension is the fixed dimensionality of a voice embedding
// (spec.md §4.5: "192-dimensional unit embedding").
const EmbeddingDimension = 192

// Embedder produces a fixed-dimension unit-norm vector for a wav file
// (spec.md §6.4).
type Embedder interface {
	Embed(ctx context.Context, wavPath string) ([]float32, error)
}
