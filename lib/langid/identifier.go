// Package langid implements byte-level language identification. A precompiled
// automaton walks input bytes and counts recognized sub-sequences, a naive
// bayes scorer turns the counts into per-language log-probabilities. Models
// are loaded from serialized files with Load, assembled with BuildModel or
// taken from the compiled-in Default set.
package langid

import (
	"fmt"
	"sync"

	"github.com/langtools/langid/lib/sparse"
)

// NotFound is returned by LangIndex for names the model doesn't know.
const NotFound = -1

// Likely is a single prediction. LogProb is the raw unnormalized joint
// log-likelihood of the winning language, callers compare it across languages
// of the same call, not across calls or models.
type Likely struct {
	Lang    string  `json:"lang"`
	Index   int     `json:"index"`
	LogProb float64 `json:"logprob"`
}

// Identifier classifies text against one immutable Model. Per-call scratch
// space comes from an internal pool, the same Identifier is safe for
// concurrent use from multiple goroutines.
type Identifier struct {
	model   *Model
	scratch sync.Pool    // of *scratch
	release func() error // frees loader-owned backing, nil for built models
	closed  sync.Once
}

// scratch is the mutable state of a single classification call.
type scratch struct {
	states *sparse.Accumulator // visits per automaton state
	feats  *sparse.Accumulator // occurrences per feature
	probs  []float64           // per-language log-probability buffer
}

// New creates an Identifier over a caller-built model. The model is validated
// once here and must not be mutated afterwards.
func New(m *Model) (*Identifier, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	res := &Identifier{model: m}
	res.scratch.New = func() any {
		return &scratch{
			states: sparse.New(m.NumStates),
			feats:  sparse.New(m.NumFeats),
			probs:  make([]float64, m.NumLangs),
		}
	}
	return res, nil
}

// Close releases resources of a loaded model, i.e. its mapped file. Safe to
// call multiple times and a no-op for Default and caller-built models. The
// Identifier must not be used after Close.
func (id *Identifier) Close() error {
	var err error
	id.closed.Do(func() {
		if id.release != nil {
			err = id.release()
		}
	})
	return err
}

// Identify returns the name of the most likely language of text. Empty input
// is decided on priors alone.
func (id *Identifier) Identify(text []byte) string {
	return id.IdentifyLikely(text).Lang
}

// IdentifyLikely classifies text and returns the winning language together
// with its raw log-probability.
func (id *Identifier) IdentifyLikely(text []byte) Likely {
	sc := id.scratch.Get().(*scratch)
	defer id.scratch.Put(sc)
	id.extract(text, sc)
	id.score(sc, sc.probs)
	return id.Likeliest(sc.probs)
}

// LogProbs classifies text and returns the per-language joint log-likelihoods,
// priors plus accumulated evidence, indexed like Langs. The result is written
// into dst when it has exactly NumLangs entries, otherwise a fresh slice is
// allocated. Values are unnormalized, see Normalize.
func (id *Identifier) LogProbs(text []byte, dst []float64) []float64 {
	if len(dst) != id.model.NumLangs {
		dst = make([]float64, id.model.NumLangs)
	}
	sc := id.scratch.Get().(*scratch)
	defer id.scratch.Put(sc)
	id.extract(text, sc)
	id.score(sc, dst)
	return dst
}

// Likeliest picks the winning language from a vector produced by LogProbs.
func (id *Identifier) Likeliest(logprobs []float64) Likely {
	i := ArgMax(logprobs)
	return Likely{Lang: id.model.Classes[i], Index: i, LogProb: logprobs[i]}
}

// LangIndex resolves a language name to its model index, NotFound if absent.
// Matching is exact and case-sensitive.
func (id *Identifier) LangIndex(name string) int {
	for i, c := range id.model.Classes {
		if c == name {
			return i
		}
	}
	return NotFound
}

// LangName returns the name of the language at index i.
func (id *Identifier) LangName(i int) string { return id.model.Classes[i] }

// Langs returns language names in index order. The slice is shared with the
// model, callers must not modify it.
func (id *Identifier) Langs() []string { return id.model.Classes }

// NumLangs returns the number of languages the model distinguishes.
func (id *Identifier) NumLangs() int { return id.model.NumLangs }

// extract walks the automaton over text and accumulates feature counts in sc.
// Only resulting states count, the implicit start in state 0 does not.
func (id *Identifier) extract(text []byte, sc *scratch) {
	sc.states.Clear()
	sc.feats.Clear()

	m := id.model
	s := uint32(0)
	for _, b := range text {
		s = m.Transitions[int(s)<<8|int(b)]
		sc.states.Add(s, 1)
	}

	for st, cnt := range sc.states.All() {
		off := m.EmitOffsets[st]
		for _, f := range m.Emissions[off : off+m.EmitCounts[st]] {
			sc.feats.Add(f, cnt)
		}
	}
}

// score fills probs with priors plus the evidence accumulated in sc.
func (id *Identifier) score(sc *scratch, probs []float64) {
	m := id.model
	copy(probs, m.Priors)
	for f, cnt := range sc.feats.All() {
		row := m.Likelihoods[int(f)*m.NumLangs : (int(f)+1)*m.NumLangs]
		c := float64(cnt)
		for j, w := range row {
			probs[j] += c * w
		}
	}
}

// ArgMax returns the index of the maximum value, the first maximum wins ties.
func ArgMax(logprobs []float64) int {
	best := 0
	for i := 1; i < len(logprobs); i++ {
		if logprobs[i] > logprobs[best] {
			best = i
		}
	}
	return best
}

// Normalize shifts logprobs in place so the best entry becomes 0 and the rest
// hold the log of their ratio to it. Applying it twice changes nothing.
func Normalize(logprobs []float64) {
	if len(logprobs) == 0 {
		return
	}
	max := logprobs[0]
	for _, p := range logprobs[1:] {
		if p > max {
			max = p
		}
	}
	for i := range logprobs {
		logprobs[i] -= max
	}
}
