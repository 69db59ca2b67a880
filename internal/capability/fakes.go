package capability

import (
	"context"
	"math"
	"sync"
)

// FakeASR returns a scripted transcript per call, cycling if exhausted,
// for use in orchestrator/unit tests.
type FakeASR struct {
	mu         sync.Mutex
	Transcripts []string
	calls       int
	Err         error
}

func (f *FakeASR) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Transcripts) == 0 {
		return "", nil
	}
	t := f.Transcripts[f.calls%len(f.Transcripts)]
	f.calls++
	return t, nil
}

// FakeReasoner returns scripted responses keyed by call order.
type FakeReasoner struct {
	mu        sync.Mutex
	Responses []ReasonerResponse
	calls     int
	Err       error
}

func (f *FakeReasoner) Complete(ctx context.Context, prompt string, effort string, reasoningSummary bool) (ReasonerResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return ReasonerResponse{}, f.Err
	}
	if len(f.Responses) == 0 {
		return ReasonerResponse{}, nil
	}
	r := f.Responses[f.calls%len(f.Responses)]
	f.calls++
	return r, nil
}

// FakeDiarizer returns a scripted DiarizeResult for every clip.
type FakeDiarizer struct {
	Result DiarizeResult
	Err    error
}

func (f *FakeDiarizer) Diarize(ctx context.Context, audioPath string) (DiarizeResult, error) {
	if f.Err != nil {
		return DiarizeResult{}, f.Err
	}
	return f.Result, nil
}

// FakeEmbedder maps a wav path to a pre-registered embedding, falling
// back to a deterministic hash-derived vector so every distinct path
// still gets a stable, distinguishable embedding.
type FakeEmbedder struct {
	mu         sync.Mutex
	Embeddings map[string][]float32
	Err        error
}

func (f *FakeEmbedder) Embed(ctx context.Context, wavPath string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if v, ok := f.Embeddings[wavPath]; ok {
		return v, nil
	}
	return deterministicUnitVector(wavPath), nil
}

func deterministicUnitVector(seed string) []float32 {
	v := make([]float32, EmbeddingDimension)
	h := uint32(2166136261)
	for i := range v {
		for _, c := range seed {
			h ^= uint32(c)
			h *= 16777619
		}
		v[i] = float32(int32(h%2000)-1000) / 1000.0
	}
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		v[0] = 1
		return v
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	for i := range v {
		v[i] /= norm
	}
	return v
}
