package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medport-labs/medvoice-core/internal/bus"
	"github.com/medport-labs/medvoice-core/internal/capture"
	"github.com/medport-labs/medvoice-core/internal/config"
	"github.com/medport-labs/medvoice-core/internal/dispatch"
	"github.com/medport-labs/medvoice-core/internal/eventstore"
	"github.com/medport-labs/medvoice-core/internal/identity"
	"github.com/medport-labs/medvoice-core/internal/intent"
	"github.com/medport-labs/medvoice-core/internal/natsserver"
	"github.com/medport-labs/medvoice-core/internal/orchestrator"
	"github.com/medport-labs/medvoice-core/internal/protocol"
	"github.com/medport-labs/medvoice-core/internal/speech"
	"github.com/medport-labs/medvoice-core/internal/transcribe"
)

// Runtime composes the voice pipeline and its operational surface.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	queue    *speech.Queue
	orch     *orchestrator.Orchestrator

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up telemetry, the bus, the event store, and the pipeline,
// then blocks until ctx is cancelled and shuts everything down in reverse
// order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect bus: %w", err)
	}
	r.bus = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		r.teardownTransport()
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	if err := r.buildPipeline(ctx); err != nil {
		r.store.Close()
		r.teardownTransport()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/voice/start", r.handleVoiceStart)
	mux.HandleFunc("/voice/stop", r.handleVoiceStop)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}

	r.orch.Close()
	r.queue.Close()
	if err := r.store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	r.teardownTransport()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) teardownTransport() {
	r.bus.Close()
	r.embedded.Shutdown()
}

func (r *Runtime) buildPipeline(ctx context.Context) error {
	transcriber, err := buildTranscriber(r.cfg.Transcriber)
	if err != nil {
		return fmt.Errorf("failed to build transcriber: %w", err)
	}

	synth, err := buildSynthesizer(r.cfg.Speech)
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}
	player, err := r.buildPlayer(r.cfg.Speech)
	if err != nil {
		return fmt.Errorf("failed to build player: %w", err)
	}
	r.queue = speech.NewQueue(r.cfg.Speech, synth, player, r.logger)

	provider, err := identity.FromConfig(r.cfg.Identity)
	if err != nil {
		return fmt.Errorf("failed to build identity provider: %w", err)
	}

	resolver := intent.NewResolver(r.cfg.Grammar.FallbackRoute)
	client := dispatch.NewActionClient(r.cfg.Actions)
	navigator := dispatch.NewBusNavigator(r.bus)
	dispatcher := dispatch.NewDispatcher(client, navigator, r.logger)

	deps := orchestrator.Deps{
		Resolver:    resolver,
		Dispatcher:  dispatcher,
		Queue:       r.queue,
		Store:       r.store,
		Identity:    provider,
		Transcriber: transcriber,
		NewSource: func(sessionID string) capture.Source {
			return capture.NewBusSource(r.bus, sessionID)
		},
		PublishTranscript: r.publishTranscript,
	}
	r.orch = orchestrator.New(ctx, r.cfg, deps, r.logger)
	return nil
}

// publishTranscript fans transcripts out to portal clients over the bus.
func (r *Runtime) publishTranscript(t protocol.Transcript) {
	if r.bus == nil || !r.bus.Healthy() {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if t.Final {
		subject = protocol.SubjectTranscriptFinal
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.bus.Conn().Publish(subject, data); err != nil {
		r.logger.Warn("failed to publish transcript", slog.String("error", err.Error()))
	}
}

func buildTranscriber(cfg config.TranscriberConfig) (transcribe.Transcriber, error) {
	switch cfg.Mode {
	case "exec":
		return transcribe.NewExecTranscriber(cfg)
	case "remote":
		return transcribe.NewRemoteTranscriber(cfg)
	default:
		return transcribe.NewMockTranscriber(), nil
	}
}

func buildSynthesizer(cfg config.SpeechConfig) (speech.Synthesizer, error) {
	switch cfg.SynthMode {
	case "exec":
		return speech.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "http":
		return speech.NewHTTPSynth(cfg)
	default:
		return speech.NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	}
}

func (r *Runtime) buildPlayer(cfg config.SpeechConfig) (speech.Player, error) {
	switch cfg.PlayerMode {
	case "exec":
		return speech.NewExecPlayer(cfg.PlayerCommand)
	case "bus":
		return speech.NewBusPlayer(r.bus, cfg.Target), nil
	default:
		return &speech.MockPlayer{Delay: 5 * time.Millisecond}, nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleVoiceStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	role := intent.ParseRole(req.URL.Query().Get("role"))
	if req.URL.Query().Get("role") == "" {
		role = intent.ParseRole(r.cfg.Grammar.DefaultRole)
	}
	sessionID, err := r.orch.Start(role)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"session_id": sessionID,
		"role":       string(role),
	})
}

func (r *Runtime) handleVoiceStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.orch.Stop()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("stopped"))
}
