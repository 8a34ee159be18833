package controller

import "sort"

// SpeakerStats is a per-identity summary of emitted segments.
type SpeakerStats struct {
	Speaker        int    `json:"speaker"`
	SpeakingTimeMS int64  `json:"speaking_time_ms"`
	Segments       int    `json:"segments"`
	LastText       string `json:"last_text"`
}

// buildStats recomputes per-speaker summaries from a segment history.
// Unknown speakers are excluded.
func buildStats(segments []Segment) map[int]SpeakerStats {
	out := make(map[int]SpeakerStats)
	for _, seg := range segments {
		if seg.Speaker < 0 {
			continue
		}
		s := out[seg.Speaker]
		s.Speaker = seg.Speaker
		s.SpeakingTimeMS += seg.End - seg.Start
		s.Segments++
		s.LastText = seg.Text
		out[seg.Speaker] = s
	}
	return out
}

// sortedStats flattens a stats map into identity order.
func sortedStats(m map[int]SpeakerStats) []SpeakerStats {
	out := make([]SpeakerStats, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Speaker < out[j].Speaker })
	return out
}
