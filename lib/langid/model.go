package langid

import "fmt"

// Model holds the parameters of a trained identifier: the tokenizer automaton,
// per-state feature emissions and the naive bayes tables. All slices are
// treated as immutable after construction, one Model can back any number of
// concurrent classifications.
type Model struct {
	NumFeats  int // recognized sub-sequences
	NumLangs  int // languages, i.e. classes
	NumStates int // automaton states

	// Transitions is the flattened automaton, state*256+b holds the state
	// reached from state on input byte b.
	Transitions []uint32

	// states emit features: entering state s completes the EmitCounts[s]
	// features listed at Emissions[EmitOffsets[s]:EmitOffsets[s]+EmitCounts[s]]
	EmitCounts  []uint32
	EmitOffsets []uint32
	Emissions   []uint32

	Priors      []float64 // log prior per language
	Likelihoods []float64 // log likelihood per feature and language, row-major NumFeats x NumLangs
	Classes     []string  // language names in index order, unique
}

// Validate checks dimensions against every table so classification can index
// them without bounds surprises. A model coming from disk must pass Validate
// before use, Load and New do it on behalf of the caller.
func (m *Model) Validate() error {
	if m.NumStates <= 0 || m.NumFeats <= 0 || m.NumLangs <= 0 {
		return fmt.Errorf("non-positive dimensions, states:%d feats:%d langs:%d", m.NumStates, m.NumFeats, m.NumLangs)
	}
	if len(m.Transitions) != m.NumStates*256 {
		return fmt.Errorf("transition table has %d entries, want %d", len(m.Transitions), m.NumStates*256)
	}
	if len(m.EmitCounts) != m.NumStates {
		return fmt.Errorf("emission counts table has %d entries, want %d", len(m.EmitCounts), m.NumStates)
	}
	if len(m.EmitOffsets) != m.NumStates {
		return fmt.Errorf("emission offsets table has %d entries, want %d", len(m.EmitOffsets), m.NumStates)
	}
	if len(m.Priors) != m.NumLangs {
		return fmt.Errorf("priors table has %d entries, want %d", len(m.Priors), m.NumLangs)
	}
	if len(m.Likelihoods) != m.NumFeats*m.NumLangs {
		return fmt.Errorf("likelihoods table has %d entries, want %d", len(m.Likelihoods), m.NumFeats*m.NumLangs)
	}
	if len(m.Classes) != m.NumLangs {
		return fmt.Errorf("got %d class names for %d languages", len(m.Classes), m.NumLangs)
	}

	for i, s := range m.Transitions {
		if int(s) >= m.NumStates {
			return fmt.Errorf("transition %d targets state %d, model has %d states", i, s, m.NumStates)
		}
	}
	for s := 0; s < m.NumStates; s++ {
		off, cnt := int(m.EmitOffsets[s]), int(m.EmitCounts[s])
		if off+cnt > len(m.Emissions) {
			return fmt.Errorf("state %d emissions [%d:%d] exceed emission list of %d", s, off, off+cnt, len(m.Emissions))
		}
	}
	for i, f := range m.Emissions {
		if int(f) >= m.NumFeats {
			return fmt.Errorf("emission %d names feature %d, model has %d features", i, f, m.NumFeats)
		}
	}

	seen := make(map[string]int, m.NumLangs)
	for i, name := range m.Classes {
		if name == "" {
			return fmt.Errorf("empty class name at index %d", i)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("duplicate class name %q at indexes %d and %d", name, prev, i)
		}
		seen[name] = i
	}
	return nil
}
