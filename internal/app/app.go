// Package app wires all Lala subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run blocks until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithMemoryStore,
// WithNetChecker, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lalavoice/lala/internal/config"
	"github.com/lalavoice/lala/internal/health"
	"github.com/lalavoice/lala/internal/netcheck"
	"github.com/lalavoice/lala/internal/observe"
	"github.com/lalavoice/lala/internal/pipeline"
	"github.com/lalavoice/lala/internal/recognize"
	"github.com/lalavoice/lala/internal/session"
	"github.com/lalavoice/lala/internal/speaker"
	"github.com/lalavoice/lala/internal/wakeword"
	"github.com/lalavoice/lala/internal/weather"
	"github.com/lalavoice/lala/pkg/audio"
	"github.com/lalavoice/lala/pkg/memory"
	"github.com/lalavoice/lala/pkg/memory/postgres"
	"github.com/lalavoice/lala/pkg/memory/sqlite"
	"github.com/lalavoice/lala/pkg/provider/embeddings"
	"github.com/lalavoice/lala/pkg/provider/llm"
	"github.com/lalavoice/lala/pkg/provider/stt"
	"github.com/lalavoice/lala/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Device     audio.Device
	Sink       audio.Sink
	STTOffline stt.Provider
	STTOnline  stt.Provider
	TTS        tts.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and orchestrates the Lala voice loop.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store      memory.Store
	vectors    pipeline.VectorIndex
	net        *netcheck.Checker
	detector   *wakeword.Detector
	recognizer *recognize.Recognizer
	pipe       *pipeline.Pipeline
	voice      *speaker.Speaker
	session    *session.Session
	metrics    *observe.Metrics
	opsSrv     *http.Server

	// levelVar, when set, lets a config reload change log verbosity.
	levelVar *slog.LevelVar

	// turn stage timing, driven by session state changes.
	stageMu    sync.Mutex
	stage      session.State
	stageSince time.Time
	turnStart  time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMemoryStore injects a memory store instead of creating one from config.
func WithMemoryStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNetChecker injects a connectivity checker.
func WithNetChecker(c *netcheck.Checker) Option {
	return func(a *App) { a.net = c }
}

// WithMetrics injects a metrics instance instead of using the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar wires the logger's level variable so that configuration
// reloads can change verbosity at runtime.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		stage:     session.StateIdle,
	}
	for _, o := range opts {
		o(a)
	}

	if providers.Device == nil {
		return nil, fmt.Errorf("app: an audio capture device is required")
	}
	if providers.Sink == nil {
		return nil, fmt.Errorf("app: an audio playback sink is required")
	}
	if providers.STTOffline == nil {
		return nil, fmt.Errorf("app: the offline recognizer is required")
	}
	if providers.TTS == nil {
		return nil, fmt.Errorf("app: a speech synthesis provider is required")
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	log := slog.Default()
	if a.net == nil {
		a.net = netcheck.New(log)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.initPipeline(log)
	a.initVoiceLoop(log)
	a.initOpsServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory opens the configured memory backend unless a store was injected.
// With the Postgres backend and an embeddings provider, vector recall is
// enabled on top of keyword retrieval.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Memory.Backend {
	case config.BackendSQLite:
		store, err := sqlite.Open(a.cfg.Memory.SQLitePath)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)

	case config.BackendPostgres:
		store, err := postgres.New(ctx, a.cfg.Memory.PostgresDSN, a.embeddingDims())
		if err != nil {
			return err
		}
		a.store = store
		if a.providers.Embeddings != nil {
			a.vectors = store
		}
		a.closers = append(a.closers, store.Close)

	default:
		return fmt.Errorf("unknown memory backend %q", a.cfg.Memory.Backend)
	}
	return nil
}

// embeddingDims resolves the pgvector column dimension: the configured value,
// else the embeddings provider's, else 1536. The schema always carries the
// vector column and pgvector rejects a zero dimension.
func (a *App) embeddingDims() int {
	if dims := a.cfg.Memory.EmbeddingDimensions; dims > 0 {
		return dims
	}
	if a.providers.Embeddings != nil {
		if dims := a.providers.Embeddings.Dimensions(); dims > 0 {
			return dims
		}
	}
	return 1536
}

// initPipeline builds the command pipeline with whatever optional
// collaborators the config provides.
func (a *App) initPipeline(log *slog.Logger) {
	popts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if a.providers.LLM != nil {
		popts = append(popts, pipeline.WithLLM(a.providers.LLM))
	}
	if a.cfg.Weather.Latitude != 0 || a.cfg.Weather.Longitude != 0 {
		popts = append(popts, pipeline.WithWeather(
			weather.New(a.cfg.Weather.Latitude, a.cfg.Weather.Longitude)))
	}
	if a.vectors != nil {
		popts = append(popts, pipeline.WithSemantic(a.providers.Embeddings, a.vectors))
	}
	a.pipe = pipeline.New(a.store, a.net, log, popts...)
}

// initVoiceLoop builds detector, recognizer, speaker, and the session that
// drives them.
func (a *App) initVoiceLoop(log *slog.Logger) {
	a.detector = wakeword.New(
		a.providers.Device,
		a.providers.STTOffline,
		a.cfg.Assistant.WakePhrase,
		log,
	)

	a.recognizer = recognize.New(
		a.providers.Device,
		a.providers.STTOffline,
		a.providers.STTOnline,
		a.net,
		log,
		recognize.WithDeadline(time.Duration(a.cfg.Assistant.CaptureDeadlineSeconds)*time.Second),
		recognize.WithPreferOffline(a.cfg.Assistant.PreferOffline),
		recognize.WithLanguage(a.cfg.Assistant.Language),
		recognize.WithMetrics(a.metrics),
	)

	a.voice = speaker.New(a.providers.TTS, a.providers.Sink, log,
		speaker.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.voice.Close)

	a.session = session.New(a.detector, a.recognizer, a.pipe, a.voice, log,
		session.WithStateHandler(a.onStateChange),
	)
}

// initOpsServer builds the health + metrics HTTP endpoint. Disabled when the
// configured address is "-".
func (a *App) initOpsServer() {
	addr := a.cfg.Assistant.OpsListenAddr
	if addr == "-" {
		return
	}

	checkers := []health.Checker{
		{
			Name: "memory",
			Check: func(ctx context.Context) error {
				_, err := a.store.Query(ctx, memory.Query{Limit: 1})
				return err
			},
		},
	}
	h := health.New(checkers, health.WithStateFunc(func() string {
		return string(a.session.State())
	}))

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.opsSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the wake-word detector, the voice session, and the ops endpoint,
// then blocks until ctx is cancelled or a subsystem fails fatally.
func (a *App) Run(ctx context.Context) error {
	if err := a.session.Start(ctx); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.opsSrv != nil {
		g.Go(func() error {
			slog.Info("ops endpoint listening", "addr", a.opsSrv.Addr)
			if err := a.opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("ops endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.opsSrv.Shutdown(shutdownCtx)
		})
	}

	// Surface a detector failure instead of running deaf.
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-a.detector.Failed():
			return fmt.Errorf("app: wake-word detector failed: %w", a.detector.Err())
		}
	})

	slog.Info("lala running",
		"wake_phrase", a.cfg.Assistant.WakePhrase,
		"language", a.cfg.Assistant.Language,
	)
	return g.Wait()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between two configs.
// Intended as the callback for [config.NewWatcher]. Restart-only changes
// (providers, memory backend) are ignored with a log line.
func (a *App) ApplyConfig(old, updated *config.Config) {
	diff := config.Diff(old, updated)
	if diff.Empty() {
		slog.Debug("config change has no hot-reloadable differences")
		return
	}

	if diff.WakePhraseChanged {
		a.detector.Configure(diff.NewWakePhrase)
		slog.Info("wake phrase updated", "phrase", diff.NewWakePhrase)
	}
	if diff.LogLevelChanged {
		if a.levelVar != nil {
			a.levelVar.Set(diff.NewLogLevel.SlogLevel())
			slog.Info("log level updated", "level", diff.NewLogLevel)
		} else {
			slog.Warn("log level changed but no level variable is wired")
		}
	}
	if diff.PreferOfflineChanged {
		a.recognizer.SetPreferOffline(diff.NewPreferOffline)
		slog.Info("offline preference updated", "prefer_offline", diff.NewPreferOffline)
	}
	if diff.WeatherChanged {
		a.pipe.SetWeather(weather.New(diff.NewWeather.Latitude, diff.NewWeather.Longitude))
		slog.Info("weather location updated",
			"lat", diff.NewWeather.Latitude, "lon", diff.NewWeather.Longitude)
	}

	a.cfg = updated
}

// ─── Telemetry ───────────────────────────────────────────────────────────────

// onStateChange records per-stage durations as the session moves through a
// turn. The session serializes turns, so transitions arrive in order.
func (a *App) onStateChange(next session.State) {
	now := time.Now()
	ctx := context.Background()

	a.stageMu.Lock()
	prev, since := a.stage, a.stageSince
	a.stage, a.stageSince = next, now

	switch {
	case prev == session.StateIdle && next == session.StateCapturing:
		a.turnStart = now
		a.stageMu.Unlock()
		a.metrics.RecordWakeDetection(ctx, true)
		a.metrics.ActiveTurns.Add(ctx, 1)
		return
	case next == session.StateIdle && !a.turnStart.IsZero():
		turnStart := a.turnStart
		a.turnStart = time.Time{}
		a.stageMu.Unlock()
		a.recordStage(ctx, prev, now.Sub(since))
		a.metrics.TurnDuration.Record(ctx, now.Sub(turnStart).Seconds())
		a.metrics.ActiveTurns.Add(ctx, -1)
		return
	}
	a.stageMu.Unlock()
	a.recordStage(ctx, prev, now.Sub(since))
}

func (a *App) recordStage(ctx context.Context, stage session.State, d time.Duration) {
	switch stage {
	case session.StateCapturing:
		a.metrics.CaptureDuration.Record(ctx, d.Seconds())
	case session.StateProcessing:
		a.metrics.ProcessDuration.Record(ctx, d.Seconds())
	case session.StateSpeaking:
		a.metrics.SpeakDuration.Record(ctx, d.Seconds())
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the voice loop first so nothing touches the stores below.
		a.session.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Session exposes the voice session, for status reporting.
func (a *App) Session() *session.Session { return a.session }
