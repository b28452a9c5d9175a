package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/reverb-labs/skald/internal/audio"
	"github.com/reverb-labs/skald/internal/config"
	"github.com/reverb-labs/skald/internal/fakebackend"
	"github.com/reverb-labs/skald/internal/observability"
	"github.com/reverb-labs/skald/internal/protocol"
	"github.com/reverb-labs/skald/internal/reliability"
	"github.com/reverb-labs/skald/internal/transcriptstore"
	"github.com/reverb-labs/skald/internal/voiceclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := transcriptstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer store.Close()

	g, ctx := errgroup.WithContext(ctx)

	endpoint := cfg.Endpoint
	if cfg.LocalBackend {
		backend := fakebackend.New(fakebackend.Behavior{
			AgentChunkBytes: 3200,
			AgentChunkCount: 6,
			ChunkDelay:      50 * time.Millisecond,
		}, log.Default())
		backendServer := &http.Server{Addr: cfg.LocalBindAddr, Handler: backend.Router()}
		endpoint = "ws://" + cfg.LocalBindAddr + "/v1/stream"
		g.Go(func() error { return serveUntilDone(ctx, backendServer, cfg.ShutdownTimeout) })
		log.Printf("local backend listening on %s", cfg.LocalBindAddr)
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsRouter.Handle("/metrics", observability.MetricsHandler())
	metricsServer := &http.Server{Addr: cfg.MetricsBindAddr, Handler: metricsRouter}
	g.Go(func() error { return serveUntilDone(ctx, metricsServer, cfg.ShutdownTimeout) })

	source, sampleRate, err := captureSource(cfg)
	if err != nil {
		log.Fatalf("capture source init failed: %v", err)
	}
	player := audio.NewQueuePlayer(source)

	client, err := voiceclient.New(voiceclient.Options{
		Adapter:           player,
		Metrics:           metrics,
		Debug:             cfg.Debug,
		SettingsAckGrace:  cfg.SettingsAckGrace,
		KeepaliveInterval: cfg.KeepaliveInterval,
	})
	if err != nil {
		log.Fatalf("client init failed: %v", err)
	}

	connCfg := connectionConfig(cfg, endpoint, sampleRate)
	if err := client.Start(ctx, connCfg); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	log.Printf("connected: mode=%s session=%s", client.Mode(), client.ServerSessionID())

	g.Go(func() error { return consumeEvents(ctx, client, store) })
	g.Go(func() error { return drainPlayback(ctx, player) })
	g.Go(func() error { return superviseConnection(ctx, client, connCfg) })
	// readCommands mutates its agent record on the stdin goroutine; a private
	// copy keeps those writes away from the supervisor's reads of connCfg.
	go readCommands(client, cloneAgent(connCfg.Agent))

	<-ctx.Done()
	log.Printf("shutdown signal received")
	if err := client.Stop(); err != nil {
		log.Printf("stop failed: %v", err)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("shutdown complete")
}

func captureSource(cfg config.Config) (audio.ChunkSource, int, error) {
	if cfg.InputWAVPath != "" {
		source, sampleRate, err := audio.NewFileSource(cfg.InputWAVPath, cfg.ChunkDuration, cfg.InputLoop)
		if err != nil {
			return nil, 0, err
		}
		log.Printf("replaying %s at %d Hz", cfg.InputWAVPath, sampleRate)
		return source, sampleRate, nil
	}
	return audio.NewSilenceSource(cfg.SampleRate, cfg.ChunkDuration), cfg.SampleRate, nil
}

func connectionConfig(cfg config.Config, endpoint string, sampleRate int) voiceclient.ConnectionConfig {
	out := voiceclient.ConnectionConfig{
		Endpoint: endpoint,
		APIKey:   cfg.APIKey,
		Debug:    cfg.Debug,
	}
	if cfg.EnableTranscription {
		out.Transcription = &protocol.TranscriptionSettings{
			Model:          cfg.TranscriptionModel,
			Language:       cfg.Language,
			SampleRate:     sampleRate,
			InterimResults: cfg.InterimResults,
			Keywords:       append([]string(nil), cfg.Keywords...),
		}
	}
	if cfg.EnableAgent {
		out.Agent = &protocol.AgentSettings{
			Voice:       cfg.AgentVoice,
			Model:       cfg.AgentModel,
			Greeting:    cfg.AgentGreeting,
			Temperature: cfg.AgentTemperature,
			VadEvents:   cfg.AgentVadEvents,
		}
	}
	return out
}

func cloneAgent(agent *protocol.AgentSettings) *protocol.AgentSettings {
	if agent == nil {
		return nil
	}
	next := *agent
	return &next
}

// consumeEvents logs the semantic stream and archives finalized utterances.
func consumeEvents(ctx context.Context, client *voiceclient.Client, store transcriptstore.Store) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-client.Events():
			switch e := ev.(type) {
			case voiceclient.TranscriptEvent:
				if !e.IsFinal {
					continue
				}
				log.Printf("caller: %s (%.2f)", e.Text, e.Confidence)
				saveRecord(ctx, store, client.ConnectionID(), transcriptstore.RoleCaller, e.Text, e.Confidence)
			case voiceclient.AgentTextEvent:
				if !e.IsFinal {
					continue
				}
				log.Printf("agent: %s", e.Text)
				saveRecord(ctx, store, client.ConnectionID(), transcriptstore.RoleAgent, e.Text, 0)
			case voiceclient.AgentSpeakingEvent:
				log.Printf("agent speaking: %s", e.State)
			case voiceclient.StateChangeEvent:
				log.Printf("connection: %s -> %s", e.Previous, e.Current)
			case voiceclient.VadEvent:
				log.Printf("vad: %s at %dms", e.Phase, e.TSMs)
			case voiceclient.ErrorEvent:
				if e.Fatal {
					log.Printf("fatal %s error: %s %s", e.Source, e.Code, e.Detail)
					continue
				}
				log.Printf("%s warning: %s %s", e.Source, e.Code, e.Detail)
			}
		}
	}
}

func saveRecord(ctx context.Context, store transcriptstore.Store, connID, role, text string, confidence float64) {
	err := store.Save(ctx, transcriptstore.Record{
		ConnectionID: connID,
		Role:         role,
		Text:         text,
		Confidence:   confidence,
	})
	if err != nil {
		log.Printf("archive transcript: %v", err)
	}
}

// superviseConnection restarts the client after a fatal error, backing off
// between attempts. The client never reconnects by itself.
func superviseConnection(ctx context.Context, client *voiceclient.Client, cfg voiceclient.ConnectionConfig) error {
	attempt := 0
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if client.State() != voiceclient.StateErrored {
			attempt = 0
			continue
		}
		delay := reliability.ExponentialBackoff(attempt, time.Second, 30*time.Second)
		attempt++
		log.Printf("connection errored; reconnecting in %s", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err := client.Stop(); err != nil {
			log.Printf("reset failed: %v", err)
			continue
		}
		if err := client.Start(ctx, cfg); err != nil {
			log.Printf("reconnect failed: %v", err)
			continue
		}
		log.Printf("reconnected: session=%s", client.ServerSessionID())
	}
}

// drainPlayback empties the playback queue the way a speaker device would.
func drainPlayback(ctx context.Context, player *audio.QueuePlayer) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				if _, ok := player.DequeuePlayback(); !ok {
					break
				}
			}
		}
	}
}

// readCommands turns stdin lines into client calls. It exits with the
// process; stdin has no clean cancellation.
func readCommands(client *voiceclient.Client, agent *protocol.AgentSettings) {
	fmt.Println("commands: interrupt | allow | voice <name> | status")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "interrupt":
			client.InterruptAgent()
			log.Printf("agent interrupted")
		case "allow":
			client.AllowAgent()
			log.Printf("agent allowed")
		case "voice":
			if len(fields) < 2 {
				log.Printf("usage: voice <name>")
				continue
			}
			if agent == nil {
				log.Printf("agent leg is not enabled")
				continue
			}
			next := *agent
			next.Voice = fields[1]
			err := client.UpdateAgentOptions(&next)
			if err != nil {
				log.Printf("update voice: %v", err)
				continue
			}
			*agent = next
			log.Printf("agent voice set to %s", fields[1])
		case "status":
			log.Printf("state=%s mode=%s speaking=%s gate_open=%v",
				client.State(), client.Mode(), client.AgentSpeaking(), client.AudioAllowed())
		default:
			log.Printf("unknown command %q", fields[0])
		}
	}
}

func serveUntilDone(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	return <-errCh
}
