package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/jessevdk/go-flags"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/langtools/langid/app/processor"
	"github.com/langtools/langid/app/server"
	"github.com/langtools/langid/app/storage"
	"github.com/langtools/langid/app/storage/engine"
	"github.com/langtools/langid/lib/langid"
)

type options struct {
	Model  string `short:"m" long:"model" env:"MODEL" description:"binary model file, builtin model when not set"`
	Input  string `short:"f" long:"input" env:"INPUT" description:"read input from file instead of stdin"`
	Output string `short:"F" long:"output" env:"OUTPUT" description:"write results to file instead of stdout"`

	LineMode  bool `short:"l" long:"line" env:"LINE" description:"classify each input line separately"`
	BatchMode bool `short:"b" long:"batch" env:"BATCH" description:"treat each input line as a file path and classify its content"`

	Filter struct {
		Enabled    bool    `short:"g" long:"enabled" env:"ENABLED" description:"keep input lines identified as the target language"`
		Lang       string  `short:"e" long:"lang" env:"LANG" default:"en" description:"target language to keep"`
		Paired     string  `short:"i" long:"paired" env:"PAIRED" description:"paired file filtered in lockstep with the input"`
		PairedOut  string  `short:"o" long:"paired-out" env:"PAIRED_OUT" description:"output for kept paired lines, required with paired"`
		PairedLang string  `short:"I" long:"paired-lang" env:"PAIRED_LANG" description:"target language for the paired file, keeps all paired lines if not set"`
		MinLogProb float64 `short:"L" long:"min-logprob" env:"MIN_LOGPROB" default:"-0.1" description:"per-byte logprob floor for runner-up lines"`
		Tolerant   bool    `short:"p" long:"tolerant" env:"TOLERANT" description:"also keep runner-up lines clearing the min-logprob floor"`
		Reject     string  `short:"j" long:"reject" env:"REJECT" description:"write rejected lines with diagnostics to this file"`
	} `group:"filter" namespace:"filter" env-namespace:"FILTER"`

	Detok struct {
		Enabled bool   `short:"d" long:"enabled" env:"ENABLED" description:"strip the detokenization marker before classification"`
		Marker  string `short:"D" long:"marker" env:"MARKER" default:"__LW_AT__" description:"detokenization marker"`
	} `group:"detok" namespace:"detok" env-namespace:"DETOK"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated detections log"`
		FileName   string `long:"file" env:"FILE" default:"langid.log" description:"location of detections log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"100M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	Server struct {
		Enabled    bool          `long:"enabled" env:"ENABLED" description:"run the identification API server"`
		ListenAddr string        `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
		AuthPasswd string        `long:"auth" env:"AUTH" description:"basic auth password for user langid, auth disabled if empty"`
		Reload     bool          `long:"reload" env:"RELOAD" description:"reload the model when its file changes"`
		CacheTTL   time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"1m" description:"ttl for memoized identify responses, 0 disables the cache"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	DB string `long:"db" env:"DB" description:"sqlite file for the detections journal, disabled if empty"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Fprintf(os.Stderr, "langid %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}
	applyImplied(p, &opts)

	var secrets []string
	if opts.Server.AuthPasswd != "" {
		secrets = append(secrets, opts.Server.AuthPasswd)
	}
	setupLog(opts.Dbg, secrets...)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// applyImplied turns the narrower flags into their modes: any filter sub-flag
// activates filter mode, an explicit marker activates detok, an explicit
// floor activates tolerant matching.
func applyImplied(p *flags.Parser, opts *options) {
	explicit := func(name string) bool {
		opt := p.FindOptionByLongName(name)
		return opt != nil && opt.IsSet() && !opt.IsSetDefault()
	}
	if explicit("filter.lang") {
		opts.Filter.Enabled = true
	}
	if explicit("filter.min-logprob") {
		opts.Filter.Enabled = true
		opts.Filter.Tolerant = true
	}
	if explicit("detok.marker") {
		opts.Detok.Enabled = true
	}
	if opts.Filter.Paired != "" || opts.Filter.Reject != "" || opts.Filter.Tolerant {
		opts.Filter.Enabled = true
	}
}

func execute(ctx context.Context, opts options) error {
	if opts.LineMode && opts.BatchMode {
		return errors.New("can't use line and batch modes together")
	}
	if (opts.Filter.Paired == "") != (opts.Filter.PairedOut == "") {
		return errors.New("filter paired input and paired output must be used together")
	}
	if opts.Filter.PairedLang != "" && opts.Filter.Paired == "" {
		return errors.New("filter paired language requires a paired input")
	}

	ident, err := makeIdentifier(opts.Model)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ident.Close(); cerr != nil {
			log.Printf("[WARN] can't close identifier: %v", cerr)
		}
	}()

	journal, closeJournal, err := makeJournal(ctx, opts)
	if err != nil {
		return err
	}
	defer closeJournal()

	if opts.Server.Enabled && opts.Filter.Enabled {
		log.Printf("[WARN] filter mode takes precedence over the server flag")
	}
	if opts.Server.Enabled && !opts.Filter.Enabled {
		srvCfg := server.Config{
			Version:    revision,
			ListenAddr: opts.Server.ListenAddr,
			AuthPasswd: opts.Server.AuthPasswd,
			CacheTTL:   opts.Server.CacheTTL,
		}
		if opts.Server.Reload {
			if opts.Model == "" {
				log.Printf("[WARN] model reload needs a model file, disabled")
			} else {
				srvCfg.ModelPath = opts.Model
			}
		}
		if journal != nil {
			srvCfg.Journal = journal
			if journal.store != nil {
				srvCfg.Stats = journal.store
			}
		}
		return server.NewServer(srvCfg, ident).Run(ctx)
	}

	pcfg := processor.Config{Source: opts.Input}
	if opts.Detok.Enabled {
		pcfg.DetokMarker = opts.Detok.Marker
	}
	if journal != nil {
		pcfg.Journal = journal
	}
	proc := processor.New(ident, pcfg)

	// a terminal session without redirected input is interactive and wins
	// over the line and batch flags
	interactive := !opts.Filter.Enabled && opts.Input == "" && isatty.IsTerminal(os.Stdin.Fd())

	in, out, closeStreams, err := openStreams(opts, interactive)
	if err != nil {
		return err
	}

	var runErr error
	switch {
	case opts.Filter.Enabled:
		runErr = runFilter(ctx, proc, in, out, opts)
	case interactive:
		runErr = proc.Interactive(ctx, in, out)
	case opts.LineMode:
		runErr = proc.Lines(ctx, in, out)
	case opts.BatchMode:
		runErr = proc.Batch(ctx, in, out)
	default:
		runErr = proc.File(ctx, in, out)
	}

	errs := multierror.Append(new(multierror.Error), runErr)
	errs = multierror.Append(errs, closeStreams())
	return errs.ErrorOrNil()
}

// runFilter opens the paired and reject files and runs filter mode over them
func runFilter(ctx context.Context, proc *processor.Processor, in io.Reader, out io.Writer, opts options) error {
	cfg := processor.FilterConfig{
		Lang:       opts.Filter.Lang,
		PairedLang: opts.Filter.PairedLang,
		MinLogProb: opts.Filter.MinLogProb,
		Tolerant:   opts.Filter.Tolerant,
	}

	var flushers []*bufio.Writer
	var closers []io.Closer
	teardown := func() error {
		errs := new(multierror.Error)
		for _, fl := range flushers {
			errs = multierror.Append(errs, fl.Flush())
		}
		for _, cl := range closers {
			errs = multierror.Append(errs, cl.Close())
		}
		return errs.ErrorOrNil()
	}

	if opts.Filter.Paired != "" {
		pairedIn, err := os.Open(opts.Filter.Paired)
		if err != nil {
			return fmt.Errorf("can't open paired input: %w", err)
		}
		closers = append(closers, pairedIn)
		cfg.Paired = pairedIn

		pairedOut, err := os.Create(opts.Filter.PairedOut)
		if err != nil {
			errs := multierror.Append(new(multierror.Error), fmt.Errorf("can't create paired output: %w", err), teardown())
			return errs.ErrorOrNil()
		}
		bw := bufio.NewWriter(pairedOut)
		flushers, closers = append(flushers, bw), append(closers, pairedOut)
		cfg.PairedOut = bw
	}

	if opts.Filter.Reject != "" {
		reject, err := os.Create(opts.Filter.Reject)
		if err != nil {
			errs := multierror.Append(new(multierror.Error), fmt.Errorf("can't create reject output: %w", err), teardown())
			return errs.ErrorOrNil()
		}
		bw := bufio.NewWriter(reject)
		flushers, closers = append(flushers, bw), append(closers, reject)
		cfg.Reject = bw
	}

	stats, err := proc.Filter(ctx, in, out, cfg)
	log.Printf("[DEBUG] filter stats: %+v", stats)

	errs := multierror.Append(new(multierror.Error), err, teardown())
	return errs.ErrorOrNil()
}

// openStreams resolves input and output per options. The returned closer
// flushes and closes whatever was opened. Output stays unbuffered in
// interactive mode so the prompt shows up before the read.
func openStreams(opts options, interactive bool) (in io.Reader, out io.Writer, closer func() error, err error) {
	var flushers []*bufio.Writer
	var closers []io.Closer
	closer = func() error {
		errs := new(multierror.Error)
		for _, fl := range flushers {
			errs = multierror.Append(errs, fl.Flush())
		}
		for _, cl := range closers {
			errs = multierror.Append(errs, cl.Close())
		}
		return errs.ErrorOrNil()
	}

	in = os.Stdin
	if opts.Input != "" {
		fh, oerr := os.Open(opts.Input)
		if oerr != nil {
			return nil, nil, nil, fmt.Errorf("can't open input: %w", oerr)
		}
		closers = append(closers, fh)
		in = fh
	}

	out = io.Writer(os.Stdout)
	switch {
	case opts.Output != "":
		fh, oerr := os.Create(opts.Output)
		if oerr != nil {
			_ = closer()
			return nil, nil, nil, fmt.Errorf("can't create output: %w", oerr)
		}
		bw := bufio.NewWriter(fh)
		flushers, closers = append(flushers, bw), append(closers, fh)
		out = bw
	case !interactive:
		bw := bufio.NewWriter(os.Stdout)
		flushers = append(flushers, bw)
		out = bw
	}
	return in, out, closer, nil
}

// makeIdentifier loads the model file or falls back to the builtin model
func makeIdentifier(path string) (*langid.Identifier, error) {
	if path == "" {
		log.Printf("[INFO] using builtin model")
		return langid.Default(), nil
	}
	ident, err := langid.Load(path)
	if err != nil {
		return nil, fmt.Errorf("can't load model: %w", err)
	}
	log.Printf("[INFO] loaded model %s, %d languages", path, ident.NumLangs())
	return ident, nil
}

// detectionJournal fans out classification results to the sqlite store and
// the rotated JSONL log, whichever are configured.
type detectionJournal struct {
	store *storage.Detections
	wr    io.WriteCloser
}

// Write records one detection in every configured sink
func (j *detectionJournal) Write(ctx context.Context, det storage.Detection) error {
	if det.Timestamp.IsZero() {
		det.Timestamp = time.Now()
	}
	errs := new(multierror.Error)
	if j.store != nil {
		errs = multierror.Append(errs, j.store.Write(ctx, det))
	}
	if j.wr != nil {
		line, err := json.Marshal(det)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("can't marshal detection: %w", err))
		} else if _, werr := j.wr.Write(append(line, '\n')); werr != nil {
			errs = multierror.Append(errs, fmt.Errorf("can't write detection log: %w", werr))
		}
	}
	return errs.ErrorOrNil()
}

// makeJournal builds the detections journal from options, nil when neither
// the db nor the rotated log is enabled
func makeJournal(ctx context.Context, opts options) (jrnl *detectionJournal, closer func(), err error) {
	if opts.DB == "" && !opts.Logger.Enabled {
		return nil, func() {}, nil
	}

	res := &detectionJournal{}
	var db *engine.SQL
	if opts.DB != "" {
		if db, err = engine.NewSqlite(opts.DB); err != nil {
			return nil, nil, fmt.Errorf("can't open detections db: %w", err)
		}
		if res.store, err = storage.NewDetections(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("can't make detections store: %w", err)
		}
		log.Printf("[INFO] detections journal in %s", opts.DB)
	}

	if opts.Logger.Enabled {
		wr, lerr := makeLogWriter(opts)
		if lerr != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, nil, lerr
		}
		res.wr = wr
	}

	closer = func() {
		if res.wr != nil {
			if cerr := res.wr.Close(); cerr != nil {
				log.Printf("[WARN] can't close detections log: %v", cerr)
			}
		}
		if db != nil {
			if cerr := db.Close(); cerr != nil {
				log.Printf("[WARN] can't close detections db: %v", cerr)
			}
		}
	}
	return res, closer, nil
}

// makeLogWriter creates the detections log writer, a lumberjack logger with
// rotation when enabled
func makeLogWriter(opts options) (io.WriteCloser, error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	sizeParse := func(inp string) (uint64, error) {
		if inp == "" {
			return 0, errors.New("empty value")
		}
		for i, sfx := range []string{"k", "m", "g", "t"} {
			if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, strings.ToLower(sfx)) {
				val, err := strconv.Atoi(inp[:len(inp)-1])
				if err != nil {
					return 0, fmt.Errorf("can't parse %s: %w", inp, err)
				}
				return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
			}
		}
		return strconv.ParseUint(inp, 10, 64)
	}

	maxSize, perr := sizeParse(opts.Logger.MaxSize)
	if perr != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", perr)
	}

	maxSize /= 1048576

	log.Printf("[INFO] detections log enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), // in MB
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool, secrets ...string) {
	logOpts := []log.Option{log.Out(os.Stderr), log.Msec, log.LevelBraces, log.StackTraceOnError}
	if dbg {
		logOpts = []log.Option{log.Out(os.Stderr), log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces, log.StackTraceOnError}
	}

	colorizer := log.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, log.Map(colorizer))

	if len(secrets) > 0 {
		logOpts = append(logOpts, log.Secret(secrets...))
	}
	log.SetupStdLogger(logOpts...)
	log.Setup(logOpts...)
}
