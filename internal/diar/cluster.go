package diar

import "math"

// SpeakerUnknown marks a frame or segment whose speaker could not be
// resolved. Never coerced to identity 0.
const SpeakerUnknown = -1

// ClustererConfig holds the hysteresis tuning. The margins and counts
// were tuned empirically against two-speaker recordings.
type ClustererConfig struct {
	MaxSpeakers     int
	Threshold       float32 // base cosine similarity to stay with a speaker
	SwitchMargin    float32 // extra similarity required to switch
	StabilityFrames int     // frames that must pass before another switch
	EMAWeight       float32 // centroid update weight for the active speaker
}

func (c ClustererConfig) withDefaults() ClustererConfig {
	if c.MaxSpeakers <= 0 {
		c.MaxSpeakers = 2
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.65
	}
	if c.SwitchMargin <= 0 {
		c.SwitchMargin = 0.15
	}
	if c.StabilityFrames <= 0 {
		c.StabilityFrames = 3
	}
	if c.EMAWeight <= 0 {
		c.EMAWeight = 0.05
	}
	return c
}

// Clusterer assigns embeddings to stable speaker identities. It is
// biased toward continuity: staying with the active speaker needs only
// the base threshold, switching needs a clear margin plus a stability
// streak. Not safe for concurrent use; it lives on the processing loop.
type Clusterer struct {
	cfg         ClustererConfig
	centroids   [][]float32
	counts      []int
	active      int
	sinceSwitch int
}

// NewClusterer creates an online clusterer.
func NewClusterer(cfg ClustererConfig) *Clusterer {
	return &Clusterer{cfg: cfg.withDefaults(), active: SpeakerUnknown}
}

// Count returns the number of minted identities.
func (c *Clusterer) Count() int { return len(c.centroids) }

// Active returns the identity of whoever spoke last.
func (c *Clusterer) Active() int { return c.active }

// Reset drops all identities.
func (c *Clusterer) Reset() {
	c.centroids = nil
	c.counts = nil
	c.active = SpeakerUnknown
	c.sinceSwitch = 0
}

// Assign resolves an embedding to a speaker identity, minting a new one
// when the evidence allows and max_speakers permits.
func (c *Clusterer) Assign(emb []float32) int {
	if len(emb) == 0 {
		return c.active
	}

	// First frame seeds identity 0.
	if len(c.centroids) == 0 {
		c.mint(emb)
		return 0
	}

	sims := make([]float32, len(c.centroids))
	best, bestSim := 0, float32(-1)
	for i, centroid := range c.centroids {
		sims[i] = Cosine(emb, centroid)
		if sims[i] > bestSim {
			best, bestSim = i, sims[i]
		}
	}

	if c.active >= 0 && c.active < len(sims) {
		activeSim := sims[c.active]

		// Good enough match: stay put and drift the centroid slowly.
		if activeSim >= c.cfg.Threshold {
			c.ema(c.active, emb)
			c.sinceSwitch++
			return c.active
		}

		canSwitch := c.sinceSwitch >= c.cfg.StabilityFrames

		// Someone else is clearly a better fit and we've been stable
		// long enough that this isn't a single noisy frame.
		if best != c.active && bestSim > activeSim+c.cfg.SwitchMargin && canSwitch {
			c.active = best
			c.sinceSwitch = 0
			return best
		}

		// Nobody matches well: mint a new speaker if there's room.
		if len(c.centroids) < c.cfg.MaxSpeakers &&
			bestSim < c.cfg.Threshold+c.cfg.SwitchMargin && canSwitch {
			c.mint(emb)
			return c.active
		}

		// Ambiguous evidence: continuity wins.
		c.sinceSwitch++
		return c.active
	}

	// No active speaker (fresh after Reset with centroids restored).
	if bestSim >= c.cfg.Threshold {
		c.active = best
		c.sinceSwitch = 0
		return best
	}
	if len(c.centroids) < c.cfg.MaxSpeakers {
		c.mint(emb)
		return c.active
	}
	c.active = best
	c.sinceSwitch = 0
	return best
}

func (c *Clusterer) mint(emb []float32) {
	c.centroids = append(c.centroids, append([]float32(nil), emb...))
	c.counts = append(c.counts, 1)
	c.active = len(c.centroids) - 1
	c.sinceSwitch = 0
}

// ema drifts the active centroid toward the new embedding.
func (c *Clusterer) ema(id int, emb []float32) {
	centroid := c.centroids[id]
	w := c.cfg.EMAWeight
	for i := range centroid {
		centroid[i] = (1-w)*centroid[i] + w*emb[i]
	}
	c.counts[id]++
}

// ClusterFrames is the offline refinement pass: one greedy
// nearest-centroid sweep over the whole frame history with running-mean
// centroid updates, rebuilding identities from scratch. Frames are
// relabeled in place. Used once at session end.
func (c *Clusterer) ClusterFrames(frames []Frame) {
	c.Reset()

	var centroids [][]float32
	var counts []int

	for i := range frames {
		emb := frames[i].Embedding
		if len(emb) == 0 {
			frames[i].Speaker = SpeakerUnknown
			continue
		}

		best, bestSim := -1, float32(-1)
		for j, centroid := range centroids {
			if sim := Cosine(emb, centroid); sim > bestSim {
				best, bestSim = j, sim
			}
		}

		switch {
		case best >= 0 && bestSim >= c.cfg.Threshold:
			// Running mean update.
			n := float32(counts[best])
			for k := range centroids[best] {
				centroids[best][k] = (centroids[best][k]*n + emb[k]) / (n + 1)
			}
			counts[best]++
			frames[i].Speaker = best
		case len(centroids) < c.cfg.MaxSpeakers:
			centroids = append(centroids, append([]float32(nil), emb...))
			counts = append(counts, 1)
			frames[i].Speaker = len(centroids) - 1
		case best >= 0:
			counts[best]++
			frames[i].Speaker = best
		default:
			frames[i].Speaker = SpeakerUnknown
		}
	}

	c.centroids = centroids
	c.counts = counts
	if len(centroids) > 0 {
		c.active = len(centroids) - 1
	}
}

// Vote picks the plurality speaker among the frames overlapping a text
// span. Ties go to the most recent frame's label: whoever was talking
// at the end of the span is the best guess for who continues. Returns
// SpeakerUnknown when no frame carries a resolved identity.
func Vote(frames []Frame) int {
	votes := make(map[int]int)
	lastSeen := make(map[int]int)
	for i, f := range frames {
		if f.Speaker == SpeakerUnknown {
			continue
		}
		votes[f.Speaker]++
		lastSeen[f.Speaker] = i
	}
	if len(votes) == 0 {
		return SpeakerUnknown
	}

	winner, winnerVotes := SpeakerUnknown, 0
	for id, n := range votes {
		if n > winnerVotes || (n == winnerVotes && lastSeen[id] > lastSeen[winner]) {
			winner, winnerVotes = id, n
		}
	}
	return winner
}

// Cosine computes cosine similarity between two vectors, 0 on mismatch.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na <= 0 || nb <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na)*math.Sqrt(nb) + 1e-8))
}
