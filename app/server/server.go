// Package server provides a REST API on top of the identification engine:
// POST /identify classifies a text, GET /languages lists the model classes,
// GET /stats reports journal counters. The model file can be watched for
// changes and hot-swapped without dropping requests.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/fsnotify/fsnotify"
	cache "github.com/go-pkgz/expirable-cache/v3"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"
	"github.com/hashicorp/go-multierror"

	"github.com/langtools/langid/app/storage"
	"github.com/langtools/langid/lib/langid"
)

const maxCachedTexts = 10000

// Server is a web API server for identification requests.
type Server struct {
	Config

	lock  sync.RWMutex // guards ident swaps on hot reload
	ident Identifier
	cache cache.Cache[string, identifyResp]
}

// Config defines server parameters
type Config struct {
	Version    string        // version reported by AppInfo middleware
	ListenAddr string        // listen address
	AuthPasswd string        // basic auth password for user "langid", disabled if empty
	ModelPath  string        // model file watched for hot reload, no reload if empty
	CacheTTL   time.Duration // ttl for memoized identify responses, cache disabled if zero
	Journal    Journal       // optional sink for served detections
	Stats      Stats         // optional journal counters, /stats not registered if nil
}

// Identifier is the subset of the classification engine the server needs.
type Identifier interface {
	IdentifyLikely(text []byte) langid.Likely
	LogProbs(text []byte, dst []float64) []float64
	Likeliest(logprobs []float64) langid.Likely
	Langs() []string
	Close() error
}

// Journal is a sink for served identification results.
type Journal interface {
	Write(ctx context.Context, det storage.Detection) error
}

// Stats exposes counters of the journaled detections.
type Stats interface {
	Count(ctx context.Context) (int, error)
	LangStats(ctx context.Context) ([]storage.LangStat, error)
}

// NewServer creates a new API server classifying with the given engine.
// The server takes ownership of the engine and closes it when Run returns.
func NewServer(cfg Config, ident Identifier) *Server {
	res := &Server{Config: cfg, ident: ident}
	if cfg.CacheTTL > 0 {
		res.cache = cache.NewCache[string, identifyResp]().WithMaxKeys(maxCachedTexts).WithTTL(cfg.CacheTTL)
	}
	return res
}

// Run starts the server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	if s.ModelPath != "" {
		go s.watchModel(ctx)
	}

	srv := &http.Server{Addr: s.ListenAddr, Handler: s.router(), ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown identification server: %v", err)
		} else {
			log.Printf("[INFO] identification server stopped")
		}
	}()

	log.Printf("[INFO] start identification server on %s", s.ListenAddr)
	errs := new(multierror.Error)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = multierror.Append(errs, fmt.Errorf("failed to run server: %w", err))
	}

	s.lock.Lock()
	if err := s.ident.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close engine: %w", err))
	}
	s.lock.Unlock()
	return errs.ErrorOrNil()
}

func (s *Server) router() http.Handler {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(log.Default()))
	router.Use(rest.AppInfo("langid", "langtools", s.Version), rest.Ping)
	router.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(50, nil)))
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size

	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for identification server")
		router.Use(rest.BasicAuthWithPrompt("langid", s.AuthPasswd))
	} else {
		log.Printf("[WARN] basic auth disabled, access to API is not protected")
	}

	router.HandleFunc("POST /identify", s.identifyHandler)
	router.HandleFunc("GET /languages", s.languagesHandler)
	if s.Stats != nil {
		router.HandleFunc("GET /stats", s.statsHandler)
	}
	return router
}

type identifyReq struct {
	Text     string `json:"text"`
	LogProbs bool   `json:"logprobs,omitempty"`
}

type identifyResp struct {
	Lang     string             `json:"lang"`
	Index    int                `json:"index"`
	LogProb  float64            `json:"logprob"`
	TextLen  int                `json:"text_len"`
	LogProbs map[string]float64 `json:"logprobs,omitempty"`
}

// identifyHandler handles POST /identify requests, body {"text": "...", "logprobs": bool}
func (s *Server) identifyHandler(w http.ResponseWriter, r *http.Request) {
	req := identifyReq{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}

	key := cacheKey(req)
	if s.cache != nil {
		if resp, ok := s.cache.Get(key); ok {
			rest.RenderJSON(w, resp)
			return
		}
	}

	resp := s.classify(req)
	if s.cache != nil {
		s.cache.Set(key, resp, 0)
	}
	s.journal(r.Context(), r.RemoteAddr, resp)
	rest.RenderJSON(w, resp)
}

// classify scores the text under the read lock so a hot reload can't swap
// the engine mid-request.
func (s *Server) classify(req identifyReq) identifyResp {
	s.lock.RLock()
	defer s.lock.RUnlock()

	text := []byte(req.Text)
	if !req.LogProbs {
		likely := s.ident.IdentifyLikely(text)
		return identifyResp{Lang: likely.Lang, Index: likely.Index, LogProb: likely.LogProb, TextLen: len(text)}
	}

	probs := s.ident.LogProbs(text, nil)
	likely := s.ident.Likeliest(probs)
	langid.Normalize(probs)
	resp := identifyResp{Lang: likely.Lang, Index: likely.Index, LogProb: likely.LogProb, TextLen: len(text),
		LogProbs: make(map[string]float64, len(probs))}
	for i, lang := range s.ident.Langs() {
		resp.LogProbs[lang] = probs[i]
	}
	return resp
}

// languagesHandler handles GET /languages requests
func (s *Server) languagesHandler(w http.ResponseWriter, _ *http.Request) {
	s.lock.RLock()
	langs := append([]string(nil), s.ident.Langs()...)
	s.lock.RUnlock()
	rest.RenderJSON(w, rest.JSON{"languages": langs, "count": len(langs)})
}

// statsHandler handles GET /stats requests, reporting journal counters
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.Stats.Count(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't get detections count", "details": err.Error()})
		return
	}
	byLang, err := s.Stats.LangStats(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't get per-language stats", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"detections": count, "languages": byLang})
}

func (s *Server) journal(ctx context.Context, source string, resp identifyResp) {
	if s.Journal == nil {
		return
	}
	det := storage.Detection{Source: source, Mode: "api", TextLen: resp.TextLen, Lang: resp.Lang, LogProb: resp.LogProb}
	if err := s.Journal.Write(ctx, det); err != nil {
		log.Printf("[WARN] failed to journal detection: %v", err)
	}
}

func cacheKey(req identifyReq) string {
	return fmt.Sprintf("%x:%v", sha256.Sum256([]byte(req.Text)), req.LogProbs)
}

// watchModel watches the model file and swaps the engine when it changes.
// Errors are logged and the previous engine stays active.
func (s *Server) watchModel(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[WARN] failed to create model watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err = watcher.Add(s.ModelPath); err != nil {
		log.Printf("[WARN] failed to watch model file %s: %v", s.ModelPath, err)
		return
	}

	log.Printf("[INFO] watching model file %s", s.ModelPath)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] stopping model watcher for %s, %v", s.ModelPath, ctx.Err())
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if e := s.reloadModel(); e != nil {
				log.Printf("[WARN] failed to reload model %s: %v", s.ModelPath, e)
			}
		case e, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[WARN] model watcher error: %v", e)
		}
	}
}

// reloadModel loads the model file, swaps the active engine and drops the
// memoized responses scored by the old one.
func (s *Server) reloadModel() error {
	ident, err := langid.Load(s.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	s.lock.Lock()
	old := s.ident
	s.ident = ident
	s.lock.Unlock()

	if s.cache != nil {
		s.cache.Purge()
	}
	if err := old.Close(); err != nil {
		log.Printf("[WARN] failed to close replaced engine: %v", err)
	}
	log.Printf("[INFO] reloaded model %s, %d languages", s.ModelPath, len(ident.Langs()))
	return nil
}
