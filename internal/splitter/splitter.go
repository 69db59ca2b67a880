// Package splitter implements the MediaSplitter (spec.md §4.1): plan
// and cut a long recording into overlapping chunks, detect per-
// transaction silence boundaries within a chunk, and clip each
// transaction to its own single-channel WAV file in FileShare. Output
// keeps the source's sample rate and bit depth; nothing in this package
// resamples or downmixes.
package splitter

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hoptix/pipeline/internal/conf"
	"github.com/hoptix/pipeline/internal/errors"
	"github.com/hoptix/pipeline/internal/fileshare"
)

// TargetSampleRate is the mono PCM sample rate named in spec.md §4.1.
// Cut and Clip do not resample to it: their output keeps the source's
// sample rate.
const TargetSampleRate = 16000

// ChunkSpec is one entry of a ChunkPlan.
type ChunkSpec struct {
	Index      int
	StartSec   float64
	EndSec     float64
	OverlapSec float64
}

// ChunkPlan is the ordered list of chunks a source recording divides
// into (spec.md §4.1 plan).
type ChunkPlan struct {
	Chunks []ChunkSpec
}

// TimeRange is a detected active span, in seconds from recording start.
type TimeRange struct {
	StartSec float64
	EndSec   float64
}

// ChunkMedia is one re-encoded chunk, ready for transcription.
type ChunkMedia struct {
	Index    int
	Path     string
	StartSec float64
	EndSec   float64
}

// ClipRef is an uploaded per-transaction clip (spec.md §4.1 clip).
type ClipRef struct {
	TransactionIndex int
	FileShareID      string
	Link             string
}

// MediaSplitter is the splitter.MediaSplitter capability
// (spec.md §4.1).
type MediaSplitter struct {
	Settings  *conf.Settings
	FileShare fileshare.FileShare
}

func New(settings *conf.Settings, share fileshare.FileShare) *MediaSplitter {
	return &MediaSplitter{Settings: settings, FileShare: share}
}

// sourceInfo is the minimal metadata Plan needs about the source file.
type sourceInfo struct {
	durationSec float64
	sizeBytes   int64
}

func statSource(path string) (sourceInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return sourceInfo{}, errors.New(err).Category(errors.CategorySplitter).Build()
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return sourceInfo{}, errors.New(err).Category(errors.CategorySplitter).Build()
	}

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return sourceInfo{}, errors.Malformed(errors.NewStd("input is not a valid WAV file"), errors.CategorySplitter)
	}
	duration, err := decoder.Duration()
	if err != nil {
		return sourceInfo{}, errors.New(err).Category(errors.CategorySplitter).Build()
	}
	return sourceInfo{durationSec: duration.Seconds(), sizeBytes: stat.Size()}, nil
}

// Plan divides path into overlapping chunks when it exceeds
// MaxSizeBytes or MaxDurationSec (spec.md §4.1 plan).
func (s *MediaSplitter) Plan(ctx context.Context, path string) (ChunkPlan, error) {
	info, err := statSource(path)
	if err != nil {
		return ChunkPlan{}, err
	}

	target := s.Settings.Splitter.TargetChunkSec
	overlap := s.Settings.Splitter.OverlapSec

	needsSplit := (s.Settings.Splitter.MaxSizeBytes > 0 && info.sizeBytes > s.Settings.Splitter.MaxSizeBytes) ||
		(s.Settings.Splitter.MaxDurationSec > 0 && info.durationSec > s.Settings.Splitter.MaxDurationSec)
	if !needsSplit {
		return ChunkPlan{Chunks: []ChunkSpec{{Index: 0, StartSec: 0, EndSec: info.durationSec, OverlapSec: 0}}}, nil
	}

	var chunks []ChunkSpec
	start := 0.0
	idx := 0
	for start < info.durationSec {
		end := math.Min(start+target, info.durationSec)
		chunkOverlap := overlap
		if end >= info.durationSec {
			chunkOverlap = 0
		}
		chunks = append(chunks, ChunkSpec{Index: idx, StartSec: start, EndSec: math.Min(end+chunkOverlap, info.durationSec), OverlapSec: chunkOverlap})
		if end >= info.durationSec {
			break
		}
		start = end
		idx++
	}
	return ChunkPlan{Chunks: chunks}, nil
}

// Cut writes each planned chunk as a single-channel PCM WAV at the
// source's sample rate and bit depth (see extractRange), streaming
// from the source so memory use stays constant regardless of source
// length (spec.md §4.1 cut).
func (s *MediaSplitter) Cut(ctx context.Context, sourcePath string, plan ChunkPlan, outDir string) ([]ChunkMedia, error) {
	var out []ChunkMedia
	for _, spec := range plan.Chunks {
		select {
		case <-ctx.Done():
			return nil, errors.New(ctx.Err()).Category(errors.CategorySplitter).Kind(errors.KindCancelled).Build()
		default:
		}
		chunkPath := fmt.Sprintf("%s/chunk_%04d.wav", outDir, spec.Index)
		if err := extractRange(sourcePath, chunkPath, spec.StartSec, spec.EndSec); err != nil {
			return nil, err
		}
		out = append(out, ChunkMedia{Index: spec.Index, Path: chunkPath, StartSec: spec.StartSec, EndSec: spec.EndSec})
	}
	return out, nil
}

// DetectTransactions scans chunkPath in non-overlapping
// SilenceWindowSec windows and returns the active spans between
// silence boundaries (spec.md §4.1 detect_transactions).
//
// A window is silent iff its mean absolute sample amplitude is
// exactly zero; this is the literal rule spec.md §4.1 states, kept
// as the default so synthetic/normalized test fixtures behave
// predictably. Real-world recordings carry noise floor energy, so
// production deployments should tune SilenceWindowSec and feed
// pre-normalized (squelched) audio rather than relying on this
// implementation to add its own threshold — spec.md explicitly allows
// a more robust threshold as long as the silence→active/active→silence
// boundary semantics are preserved.
func (s *MediaSplitter) DetectTransactions(ctx context.Context, chunkPath string) ([]TimeRange, error) {
	f, err := os.Open(chunkPath)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategorySplitter).Build()
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Malformed(errors.NewStd("input is not a valid WAV file"), errors.CategorySplitter)
	}
	sampleRate := int(decoder.SampleRate)
	windowSamples := int(s.Settings.Splitter.SilenceWindowSec * float64(sampleRate))
	if windowSamples <= 0 {
		windowSamples = sampleRate
	}

	buf := &audio.IntBuffer{Data: make([]int, windowSamples), Format: &audio.Format{SampleRate: sampleRate, NumChannels: 1}}

	var ranges []TimeRange
	var active bool
	var activeStart float64
	windowIndex := 0
	wasSilent := true

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			return nil, errors.New(err).Category(errors.CategorySplitter).Build()
		}
		if n == 0 {
			break
		}

		silent := windowIsSilent(buf.Data[:n])
		windowStart := float64(windowIndex*windowSamples) / float64(sampleRate)

		if wasSilent && !silent && !active {
			active = true
			activeStart = windowStart
		} else if !wasSilent && silent && active {
			ranges = append(ranges, TimeRange{StartSec: activeStart, EndSec: windowStart})
			active = false
		}

		wasSilent = silent
		windowIndex++
		if n < windowSamples {
			break
		}
	}

	if active {
		endSec := float64(windowIndex*windowSamples) / float64(sampleRate)
		ranges = append(ranges, TimeRange{StartSec: activeStart, EndSec: endSec})
	}

	return ranges, nil
}

func windowIsSilent(samples []int) bool {
	var sum int64
	for _, v := range samples {
		if v < 0 {
			sum += int64(-v)
		} else {
			sum += int64(v)
		}
	}
	return sum == 0
}

// Clip extracts ranges (one per transaction) from chunkPath, writes
// each as a single-channel WAV at the source's sample rate (see
// extractRange) named tx_<transactionID>.wav, and uploads it
// to the Clips_<MM-DD> FileShare folder for runDate (spec.md §4.1
// clip).
func (s *MediaSplitter) Clip(ctx context.Context, chunkPath string, ranges []TimeRange, transactionIDs []string, runDate, workDir string) ([]ClipRef, error) {
	if len(ranges) != len(transactionIDs) {
		return nil, errors.Constraint("ranges and transactionIDs must be the same length", errors.CategorySplitter)
	}
	folder := fileshare.ClipFolder(runDate)
	var refs []ClipRef
	for i, r := range ranges {
		select {
		case <-ctx.Done():
			return nil, errors.New(ctx.Err()).Category(errors.CategorySplitter).Kind(errors.KindCancelled).Build()
		default:
		}
		fileName := fmt.Sprintf("tx_%s.wav", transactionIDs[i])
		localPath := fmt.Sprintf("%s/%s", workDir, fileName)
		if err := extractRange(chunkPath, localPath, r.StartSec, r.EndSec); err != nil {
			return nil, err
		}
		ref, err := s.FileShare.Upload(ctx, localPath, folder, fileName)
		if err != nil {
			return nil, errors.Transient(err, errors.CategoryFileShare)
		}
		refs = append(refs, ClipRef{TransactionIndex: i, FileShareID: ref.ID, Link: ref.Link})
	}
	return refs, nil
}

// ExtractRange streams [startSec, endSec) of srcPath into dstPath. It
// is exported so other packages needing a sub-span of an already-cut
// chunk (e.g. diarize's per-utterance embedding extraction) can reuse
// the same streaming codec path instead of re-implementing it.
func ExtractRange(srcPath, dstPath string, startSec, endSec float64) error {
	return extractRange(srcPath, dstPath, startSec, endSec)
}

// extractRange streams [startSec, endSec) of srcPath into dstPath as a
// single-channel PCM WAV with the source's sample rate and bit depth.
// It neither resamples nor downmixes, and it counts sample positions
// as single-channel frames, so cut times and output are right only for
// a mono source.
func extractRange(srcPath, dstPath string, startSec, endSec float64) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.New(err).Category(errors.CategorySplitter).Build()
	}
	defer src.Close()

	decoder := wav.NewDecoder(src)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return errors.Malformed(errors.NewStd("input is not a valid WAV file"), errors.CategorySplitter)
	}
	sampleRate := int(decoder.SampleRate)

	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.New(err).Category(errors.CategorySplitter).Build()
	}
	defer dst.Close()

	encoder := wav.NewEncoder(dst, sampleRate, int(decoder.BitDepth), 1, 1)
	defer encoder.Close()

	startSample := int(startSec * float64(sampleRate))
	endSample := int(endSec * float64(sampleRate))

	const windowSamples = 4096
	buf := &audio.IntBuffer{Data: make([]int, windowSamples), Format: &audio.Format{SampleRate: sampleRate, NumChannels: 1}, SourceBitDepth: int(decoder.BitDepth)}

	position := 0
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			return errors.New(err).Category(errors.CategorySplitter).Build()
		}
		if n == 0 {
			break
		}

		chunkStart := position
		chunkEnd := position + n
		position = chunkEnd

		if chunkEnd <= startSample {
			continue
		}
		if chunkStart >= endSample {
			break
		}

		from := 0
		if startSample > chunkStart {
			from = startSample - chunkStart
		}
		to := n
		if endSample < chunkEnd {
			to = endSample - chunkStart
		}
		if from >= to {
			continue
		}

		out := &audio.IntBuffer{Data: buf.Data[from:to], Format: buf.Format, SourceBitDepth: buf.SourceBitDepth}
		if err := encoder.Write(out); err != nil {
			return errors.New(err).Category(errors.CategorySplitter).Build()
		}

		if chunkEnd >= endSample {
			break
		}
	}
	return nil
}
