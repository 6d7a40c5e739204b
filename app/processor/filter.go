package processor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	log "github.com/go-pkgz/lgr"

	"github.com/langtools/langid/lib/langid"
)

// FilterConfig sets up filter mode, keeping lines identified as the target
// language and optionally co-filtering a paired stream in lockstep.
type FilterConfig struct {
	Lang       string    // target language for the primary stream
	PairedLang string    // target language for the paired stream, empty keeps all paired lines
	MinLogProb float64   // per-byte normalized log-probability floor for runner-up lines
	Tolerant   bool      // keep runner-up lines scoring at or above MinLogProb
	Paired     io.Reader // optional paired stream consumed line by line with the primary
	PairedOut  io.Writer // kept paired lines, required when Paired is set
	Reject     io.Writer // rejected lines with diagnostics, optional
}

// FilterStats reports filter mode counters for the primary stream
type FilterStats struct {
	Total    int `json:"total"`
	Kept     int `json:"kept"`
	Rejected int `json:"rejected"`
}

// verdict is the outcome of judging one line
type verdict struct {
	keep    bool
	scored  bool // false when the target is unknown and no scoring happened
	likely  langid.Likely
	perByte float64 // normalized log-probability of the target per text byte
	text    []byte  // classification view of the line, detokenized when enabled
}

// Filter copies lines of in identified as cfg.Lang to out. A line passes when
// the target wins the classification or, in tolerant mode, when the target's
// per-byte normalized log-probability clears the floor. An unknown target
// language keeps everything. When a paired stream is configured it is
// consumed in lockstep and its kept lines, judged against PairedLang, go to
// PairedOut.
func (p *Processor) Filter(ctx context.Context, in io.Reader, out io.Writer, cfg FilterConfig) (FilterStats, error) {
	var stats FilterStats
	if cfg.Paired != nil && cfg.PairedOut == nil {
		return stats, errors.New("paired output required when a paired stream is set")
	}

	target := p.ident.LangIndex(cfg.Lang)
	if target == langid.NotFound {
		log.Printf("[WARN] target language %q not in the model, keeping all lines", cfg.Lang)
	}
	pairedTarget := langid.NotFound
	if cfg.PairedLang != "" {
		if pairedTarget = p.ident.LangIndex(cfg.PairedLang); pairedTarget == langid.NotFound {
			log.Printf("[WARN] paired target language %q not in the model, keeping all paired lines", cfg.PairedLang)
		}
	}

	scanner := p.newScanner(in)
	var paired *bufio.Scanner
	if cfg.Paired != nil {
		paired = p.newScanner(cfg.Paired)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Total++
		line := scanner.Bytes()

		v := p.judge(line, target, cfg.Tolerant, cfg.MinLogProb)
		if v.scored {
			p.journal(ctx, p.Source, "filter", len(v.text), v.likely)
		}

		if !v.keep {
			stats.Rejected++
			p.reject(cfg.Reject, v, cfg.Lang)
			log.Printf("[DEBUG] line %d rejected: %s, margin %.4f, %.2f%% filtered so far",
				stats.Total, v.likely.Lang, v.perByte, 100*float64(stats.Rejected)/float64(stats.Total))
			if paired != nil && !paired.Scan() {
				return stats, errors.New("paired stream ended before the primary")
			}
			continue
		}

		stats.Kept++
		if _, err := fmt.Fprintf(out, "%s\n", line); err != nil {
			return stats, fmt.Errorf("can't write kept line: %w", err)
		}

		if paired == nil {
			continue
		}
		if !paired.Scan() {
			return stats, errors.New("paired stream ended before the primary")
		}
		pv := p.judge(paired.Bytes(), pairedTarget, cfg.Tolerant, cfg.MinLogProb)
		if !pv.keep {
			p.reject(cfg.Reject, pv, cfg.PairedLang)
			continue
		}
		if _, err := fmt.Fprintf(cfg.PairedOut, "%s\n", paired.Bytes()); err != nil {
			return stats, fmt.Errorf("can't write kept paired line: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("can't read input: %w", err)
	}
	if paired != nil {
		if err := paired.Err(); err != nil {
			return stats, fmt.Errorf("can't read paired input: %w", err)
		}
	}
	log.Printf("[INFO] filter kept %d of %d lines, rejected %d", stats.Kept, stats.Total, stats.Rejected)
	return stats, nil
}

// judge scores one line against the target language. Unknown targets keep the
// line without scoring, empty lines never pass.
func (p *Processor) judge(line []byte, target int, tolerant bool, minLogProb float64) verdict {
	v := verdict{text: p.prepare(line)}
	if target == langid.NotFound {
		v.keep = true
		return v
	}
	if len(v.text) == 0 {
		return v
	}

	p.probs = p.ident.LogProbs(v.text, p.probs)
	v.scored = true
	v.likely = p.ident.Likeliest(p.probs)
	langid.Normalize(p.probs)
	v.perByte = p.probs[target] / float64(len(v.text))
	v.keep = v.likely.Index == target || (tolerant && v.perByte >= minLogProb)
	return v
}

// reject reports one dropped line to the reject sink as
// "got!=want margin text"
func (p *Processor) reject(w io.Writer, v verdict, want string) {
	if w == nil {
		return
	}
	if _, err := fmt.Fprintf(w, "%s!=%s %f %s\n", v.likely.Lang, want, v.perByte, v.text); err != nil {
		log.Printf("[WARN] can't write rejected line: %v", err)
	}
}
