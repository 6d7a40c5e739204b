// Package processor implements the operating modes of the langid command:
// interactive prompt, per-line, batch over file paths, whole-input and the
// filter mode keeping lines of a target language.
package processor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-pkgz/fileutils"
	log "github.com/go-pkgz/lgr"
	"golang.org/x/sys/unix"

	"github.com/langtools/langid/app/storage"
	"github.com/langtools/langid/lib/langid"
)

// Identifier is the subset of the classification engine the processor needs
type Identifier interface {
	IdentifyLikely(text []byte) langid.Likely
	LogProbs(text []byte, dst []float64) []float64
	Likeliest(logprobs []float64) langid.Likely
	LangIndex(name string) int
	NumLangs() int
}

// Journal receives every classification the processor makes. Failures are
// logged and never interrupt processing.
type Journal interface {
	Write(ctx context.Context, det storage.Detection) error
}

// line scanning limits, the initial buffer grows up to the cap for very long
// single-line inputs
const (
	scanBufSize  = 64 * 1024
	scanBufLimit = 16 * 1024 * 1024
)

// sentinel languages reported in batch mode for paths that can't be classified
const (
	langNoFile  = "NOSUCHFILE"
	langNotFile = "NOTAFILE"
)

// Processor runs classification over input streams. All modes share the
// detokenization and scoring buffers, a Processor is not safe for concurrent
// use.
type Processor struct {
	Config
	ident Identifier
	detok *Detokenizer // nil when marker stripping is disabled
	probs []float64    // reusable log-probability buffer
}

// Config is a set of parameters for Processor
type Config struct {
	Source      string  // origin label for journaled results, defaults to stdin
	DetokMarker string  // detokenization marker to strip before classification, empty disables
	Journal     Journal // optional sink for per-item results
}

// New makes a Processor for the given engine and config
func New(ident Identifier, cfg Config) *Processor {
	if cfg.Source == "" {
		cfg.Source = "stdin"
	}
	res := &Processor{Config: cfg, ident: ident, probs: make([]float64, ident.NumLangs())}
	if cfg.DetokMarker != "" {
		res.detok = NewDetokenizer(cfg.DetokMarker)
	}
	return res
}

// Interactive prompts on out and classifies each line typed into in, an empty
// line or EOF ends the session.
func (p *Processor) Interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := p.newScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, ">>> ")
		if !scanner.Scan() || len(scanner.Bytes()) == 0 {
			break
		}
		text := p.prepare(scanner.Bytes())
		likely := p.ident.IdentifyLikely(text)
		fmt.Fprintf(out, "%s,%d\n", likely.Lang, len(text))
		p.journal(ctx, "prompt", "interactive", len(text), likely)
	}
	fmt.Fprintln(out, "Bye!")
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("can't read input: %w", err)
	}
	return nil
}

// Lines classifies each line of in on its own and prints "lang,len" per line
func (p *Processor) Lines(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := p.newScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		text := p.prepare(scanner.Bytes())
		likely := p.ident.IdentifyLikely(text)
		fmt.Fprintf(out, "%s,%d\n", likely.Lang, len(text))
		p.journal(ctx, p.Source, "line", len(text), likely)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("can't read input: %w", err)
	}
	return nil
}

// File reads all of in and classifies it as a single document
func (p *Processor) File(ctx context.Context, in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("can't read input: %w", err)
	}
	text := p.prepare(data)
	likely := p.ident.IdentifyLikely(text)
	fmt.Fprintf(out, "%s,%d\n", likely.Lang, len(text))
	p.journal(ctx, p.Source, "file", len(text), likely)
	return nil
}

// Batch treats each line of in as a path, classifies the file content and
// prints "path,len,lang". Missing paths report NOSUCHFILE, paths that are not
// regular files report NOTAFILE, neither stops the batch.
func (p *Processor) Batch(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := p.newScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := strings.TrimSpace(scanner.Text())
		if path == "" {
			continue
		}
		lang, size := p.classifyFile(ctx, path)
		fmt.Fprintf(out, "%s,%d,%s\n", path, size, lang)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("can't read batch list: %w", err)
	}
	return nil
}

// classifyFile maps the file into memory and classifies it without copying.
// Returned size is the length of the classified text.
func (p *Processor) classifyFile(ctx context.Context, path string) (lang string, size int) {
	if _, err := os.Stat(path); err != nil {
		return langNoFile, 0
	}
	if !fileutils.IsFile(path) {
		return langNotFile, 0
	}

	fh, err := os.Open(path)
	if err != nil {
		log.Printf("[WARN] can't open %s: %v", path, err)
		return langNoFile, 0
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil || st.Size() != int64(int(st.Size())) {
		return langNoFile, 0
	}
	if st.Size() == 0 {
		likely := p.ident.IdentifyLikely(nil)
		p.journal(ctx, path, "batch", 0, likely)
		return likely.Lang, 0
	}

	buf, err := unix.Mmap(int(fh.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		log.Printf("[WARN] can't mmap %s: %v", path, err)
		return langNoFile, 0
	}
	defer func() {
		if merr := unix.Munmap(buf); merr != nil {
			log.Printf("[WARN] can't unmap %s: %v", path, merr)
		}
	}()

	text := p.prepare(buf)
	likely := p.ident.IdentifyLikely(text)
	p.journal(ctx, path, "batch", len(text), likely)
	return likely.Lang, len(text)
}

// prepare returns the classification view of line, detokenized when enabled
func (p *Processor) prepare(line []byte) []byte {
	if p.detok == nil {
		return line
	}
	return p.detok.Strip(line)
}

// journal passes one result to the configured sink, if any
func (p *Processor) journal(ctx context.Context, source, mode string, textLen int, likely langid.Likely) {
	if p.Journal == nil {
		return
	}
	det := storage.Detection{Source: source, Mode: mode, TextLen: textLen, Lang: likely.Lang, LogProb: likely.LogProb}
	if err := p.Journal.Write(ctx, det); err != nil {
		log.Printf("[WARN] can't journal %s result for %s: %v", mode, source, err)
	}
}

func (p *Processor) newScanner(in io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, scanBufSize), scanBufLimit)
	return scanner
}
