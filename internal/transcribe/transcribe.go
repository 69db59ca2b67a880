// Package transcribe implements the Transcriber (spec.md §4.2):
// extract each active span the splitter identified and call the ASR
// on it, producing ordered (start, end, text) segments.
package transcribe

import (
	"context"
	"fmt"
	"os"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/retry"
	"github.com/hoptix/pipeline/internal/splitter"
)

// Segment is one active span with its ASR transcript (spec.md §4.2).
type Segment struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// Transcriber is the transcribe.Transcriber capability.
type Transcriber struct {
	Settings *conf.Settings
	ASR      capability.ASR
}

func New(settings *conf.Settings, asr capability.ASR) *Transcriber {
	return &Transcriber{Settings: settings, ASR: asr}
}

// extractAudioFunc abstracts the sub-audio extraction step so tests
// can substitute a no-op; production wiring passes the splitter's
// range-extraction helper transitively via the chunk file on disk.
type extractAudioFunc func(chunkPath string, r splitter.TimeRange, workDir string) (string, error)

// Transcribe calls the ASR once per active span, in order, retaining
// empty-text spans rather than dropping them (spec.md §4.2 contract).
func (t *Transcriber) Transcribe(ctx context.Context, chunkPath string, spans []splitter.TimeRange, extract extractAudioFunc, workDir string) ([]Segment, error) {
	segments := make([]Segment, 0, len(spans))
	for i, span := range spans {
		select {
		case <-ctx.Done():
			return nil, errors.New(ctx.Err()).Category(errors.CategoryTranscription).Kind(errors.KindCancelled).Build()
		default:
		}

		spanPath, err := extract(chunkPath, span, workDir)
		if err != nil {
			return nil, errors.New(err).Category(errors.CategoryTranscription).
				Context("span_index", i).Build()
		}

		data, err := os.ReadFile(spanPath)
		if err != nil {
			return nil, errors.New(err).Category(errors.CategoryTranscription).Build()
		}

		var text string
		callErr := retry.Do(ctx, t.Settings.ASR.Retry, func(callCtx context.Context) error {
			out, asrErr := t.ASR.Transcribe(callCtx, data)
			if asrErr != nil {
				return errors.Transient(asrErr, errors.CategoryASR)
			}
			text = out
			return nil
		})
		if callErr != nil {
			return nil, fmt.Errorf("transcribing span %d: %w", i, callErr)
		}

		segments = append(segments, Segment{StartSec: span.StartSec, EndSec: span.EndSec, Text: text})
	}
	return segments, nil
}
