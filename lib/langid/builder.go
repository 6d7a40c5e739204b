package langid

import (
	"errors"
	"fmt"
)

// Feature is one dictionary entry for BuildModel, a byte sub-sequence with its
// per-language log-likelihood weights.
type Feature struct {
	Seq     string    // recognized byte sequence, not empty
	Weights []float64 // log-likelihood contribution per language, one entry per class
}

// BuildModel assembles classifier tables from precomputed parameters, class
// names with their log priors and a weighted feature dictionary. The feature
// sequences are compiled into a dense byte automaton via the Aho-Corasick
// construction, so a single pass over input counts every dictionary
// occurrence, overlapping ones included. This is model assembly, not
// training, all numbers are taken as given.
func BuildModel(classes []string, priors []float64, feats []Feature) (*Model, error) {
	if len(classes) == 0 {
		return nil, errors.New("no classes")
	}
	if len(priors) != len(classes) {
		return nil, fmt.Errorf("got %d priors for %d classes", len(priors), len(classes))
	}
	if len(feats) == 0 {
		return nil, errors.New("no features")
	}

	numLangs := len(classes)
	likelihoods := make([]float64, 0, len(feats)*numLangs)
	for i, f := range feats {
		if f.Seq == "" {
			return nil, fmt.Errorf("feature %d has an empty sequence", i)
		}
		if len(f.Weights) != numLangs {
			return nil, fmt.Errorf("feature %d (%q) has %d weights for %d classes", i, f.Seq, len(f.Weights), numLangs)
		}
		likelihoods = append(likelihoods, f.Weights...)
	}

	// trie over the feature sequences, node 0 is the root. a child link of 0
	// means absent because the root is never anyone's child.
	type trieNode struct {
		children [256]uint32
		emits    []uint32 // features completed at this node
		fail     uint32
	}
	nodes := []*trieNode{{}}
	for fi, f := range feats {
		cur := uint32(0)
		for i := 0; i < len(f.Seq); i++ {
			b := f.Seq[i]
			next := nodes[cur].children[b]
			if next == 0 {
				next = uint32(len(nodes))
				nodes = append(nodes, &trieNode{})
				nodes[cur].children[b] = next
			}
			cur = next
		}
		nodes[cur].emits = append(nodes[cur].emits, uint32(fi))
	}

	// one breadth-first pass computes dense transition rows, failure links and
	// inherited emissions. a node's failure target is strictly shallower, so
	// its row and emission list are always finished first.
	numStates := len(nodes)
	transitions := make([]uint32, numStates*256)
	queue := make([]uint32, 0, numStates)
	for b := 0; b < 256; b++ {
		if child := nodes[0].children[b]; child != 0 {
			transitions[b] = child
			queue = append(queue, child) // fail stays at root
		}
	}
	for qi := 0; qi < len(queue); qi++ {
		cur := queue[qi]
		node := nodes[cur]
		node.emits = append(node.emits, nodes[node.fail].emits...)
		row := transitions[int(cur)*256 : int(cur)*256+256]
		failRow := transitions[int(node.fail)*256 : int(node.fail)*256+256]
		for b := 0; b < 256; b++ {
			if child := node.children[b]; child != 0 {
				row[b] = child
				nodes[child].fail = failRow[b]
				queue = append(queue, child)
				continue
			}
			row[b] = failRow[b]
		}
	}

	emitCounts := make([]uint32, numStates)
	emitOffsets := make([]uint32, numStates)
	emissions := make([]uint32, 0, len(feats))
	for s, node := range nodes {
		emitOffsets[s] = uint32(len(emissions))
		emitCounts[s] = uint32(len(node.emits))
		emissions = append(emissions, node.emits...)
	}

	m := &Model{
		NumFeats:    len(feats),
		NumLangs:    numLangs,
		NumStates:   numStates,
		Transitions: transitions,
		EmitCounts:  emitCounts,
		EmitOffsets: emitOffsets,
		Emissions:   emissions,
		Priors:      append([]float64(nil), priors...),
		Likelihoods: likelihoods,
		Classes:     append([]string(nil), classes...),
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("assembled model is invalid: %w", err)
	}
	return m, nil
}
