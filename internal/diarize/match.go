package diarize

import (
	"math"
	"sort"

	"github.com/hoptix/pipeline/internal/capability"
	"github.com/hoptix/pipeline/internal/conf"
)

// speakerGroup collects every utterance for one diarized speaker tag
// within a clip, in chronological order.
type speakerGroup struct {
	tag        string
	utterances []capability.Utterance
}

func groupBySpeaker(utterances []capability.Utterance) []speakerGroup {
	order := []string{}
	byTag := map[string][]capability.Utterance{}
	for _, u := range utterances {
		if _, ok := byTag[u.SpeakerTag]; !ok {
			order = append(order, u.SpeakerTag)
		}
		byTag[u.SpeakerTag] = append(byTag[u.SpeakerTag], u)
	}
	groups := make([]speakerGroup, 0, len(order))
	for _, tag := range order {
		us := byTag[tag]
		sort.Slice(us, func(i, j int) bool { return us[i].StartMs < us[j].StartMs })
		groups = append(groups, speakerGroup{tag: tag, utterances: us})
	}
	return groups
}

func durationMs(u capability.Utterance) int64 { return u.EndMs - u.StartMs }

// referenceStrategy names which of the three fallback strategies
// produced a speaker's reference embedding (spec.md §4.5 Phase 2 step 4).
type referenceStrategy string

const (
	strategyTopThreeAvg       referenceStrategy = "top3_avg"
	strategyConcatChronologic referenceStrategy = "concat_chronological"
	strategyLongestSingle     referenceStrategy = "longest_single"
)

// speakerReferenceEmbedding builds one embedding representing a
// diarized speaker tag, applying the three-strategy fallback in
// order (spec.md §4.5 Phase 2 step 4):
//
//	(a) average the embeddings of the top-3 longest utterances
//	(b) embed one contiguous span from the first utterance's start to
//	    the end of the last utterance taken, taking utterances
//	    chronologically until the span reaches TargetConcatMs or
//	    MaxConcatUtts are taken; the span also holds whatever audio
//	    lies between those utterances, other speakers included
//	(c) the single longest utterance, if it meets MinUtteranceMs
//
// extractSpan is called with a millisecond span and must
// return a local wav path for it; embed turns that path into a vector.
func speakerReferenceEmbedding(settings *conf.Settings, group speakerGroup, extractSpan func(startMs, endMs int64) (string, error), embed func(path string) ([]float32, error)) ([]float32, referenceStrategy, bool) {
	sorted := append([]capability.Utterance(nil), group.utterances...)
	sort.Slice(sorted, func(i, j int) bool { return durationMs(sorted[i]) > durationMs(sorted[j]) })

	topN := sorted
	if len(topN) > 3 {
		topN = topN[:3]
	}
	if vecs := embedEach(topN, extractSpan, embed); len(vecs) > 0 {
		return averageVectors(vecs), strategyTopThreeAvg, true
	}

	var concatStart, concatEnd int64
	uttsUsed := 0
	for _, u := range group.utterances {
		if uttsUsed == 0 {
			concatStart = u.StartMs
		}
		concatEnd = u.EndMs
		uttsUsed++
		if concatEnd-concatStart >= int64(settings.Voice.TargetConcatMs) || uttsUsed >= settings.Voice.MaxConcatUtts {
			break
		}
	}
	if uttsUsed > 0 {
		if path, err := extractSpan(concatStart, concatEnd); err == nil {
			if vec, err := embed(path); err == nil {
				return vec, strategyConcatChronologic, true
			}
		}
	}

	if len(sorted) > 0 && durationMs(sorted[0]) >= int64(settings.Voice.MinUtteranceMs) {
		longest := sorted[0]
		if path, err := extractSpan(longest.StartMs, longest.EndMs); err == nil {
			if vec, err := embed(path); err == nil {
				return vec, strategyLongestSingle, true
			}
		}
	}

	return nil, "", false
}

func embedEach(utts []capability.Utterance, extractSpan func(startMs, endMs int64) (string, error), embed func(path string) ([]float32, error)) [][]float32 {
	var out [][]float32
	for _, u := range utts {
		path, err := extractSpan(u.StartMs, u.EndMs)
		if err != nil {
			continue
		}
		vec, err := embed(path)
		if err != nil {
			continue
		}
		out = append(out, vec)
	}
	return out
}

func averageVectors(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vecs)))
	}
	return out
}

// cosineSimilarity reports the cosine similarity of two equal-dimension
// vectors, or 0 if either is empty or zero-length.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// occurrence is one label's similarity reading for one speaker tag,
// contributing to that label's averaged confidence across the clip.
type occurrence struct {
	label      string
	similarity float64
}

// matchResult is the outcome of matching one speaker tag's reference
// embedding against every label in the reference set.
type matchResult struct {
	speakerTag string
	label      string
	confidence float64 // average cosine similarity across that label's occurrences, per spec.md §9
	matched    bool
}

// matchSpeakers scores every speaker tag against every reference label
// and resolves the best transaction-wide match per spec.md §4.5 Phase
// 2 step 6: the winning label is the one with the highest *averaged*
// similarity across all its occurrences in the clip (the "average
// cosine similarity over occurrences" reading of spec.md §9's open
// question, not a one-shot `threshold+0.5` heuristic — see DESIGN.md).
func matchSpeakers(settings *conf.Settings, speakerEmbeddings map[string][]float32, refSet ReferenceSet) []matchResult {
	// occurrences[label] accumulates every tag's similarity against
	// that label so the final confidence is an average, not a single sample.
	occurrences := map[string][]occurrence{}
	bestPerTag := map[string]string{}
	bestSimPerTag := map[string]float64{}

	for tag, vec := range speakerEmbeddings {
		bestLabel := ""
		bestSim := -1.0
		for label, ref := range refSet.Embeddings {
			sim := cosineSimilarity(vec, ref)
			occurrences[label] = append(occurrences[label], occurrence{label: label, similarity: sim})
			if sim > bestSim {
				bestSim = sim
				bestLabel = label
			}
		}
		bestPerTag[tag] = bestLabel
		bestSimPerTag[tag] = bestSim
	}

	// Average confidence per label across every speaker tag it was
	// compared against in this clip.
	avgConfidence := map[string]float64{}
	for label, occs := range occurrences {
		sum := 0.0
		for _, o := range occs {
			sum += o.similarity
		}
		avgConfidence[label] = sum / float64(len(occs))
	}

	results := make([]matchResult, 0, len(speakerEmbeddings))
	for tag, label := range bestPerTag {
		if label == "" {
			results = append(results, matchResult{speakerTag: tag, matched: false})
			continue
		}
		confidence := avgConfidence[label]
		matched := confidence >= settings.Voice.MatchThreshold
		results = append(results, matchResult{speakerTag: tag, label: label, confidence: confidence, matched: matched})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].speakerTag < results[j].speakerTag })
	return results
}

// bestMatch returns the highest-confidence matched result, or false if
// none of the speaker tags cleared MatchThreshold.
func bestMatch(results []matchResult) (matchResult, bool) {
	best := matchResult{}
	found := false
	for _, r := range results {
		if !r.matched {
			continue
		}
		if !found || r.confidence > best.confidence {
			best = r
			found = true
		}
	}
	return best, found
}
