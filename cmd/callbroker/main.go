// Command callbroker is the entry point for the live call broker server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/callbroker/internal/config"
	"github.com/MrWong99/callbroker/internal/dispatcher"
	"github.com/MrWong99/callbroker/internal/gateway"
	"github.com/MrWong99/callbroker/internal/health"
	"github.com/MrWong99/callbroker/internal/mcp"
	"github.com/MrWong99/callbroker/pkg/broker"
	"github.com/MrWong99/callbroker/pkg/provider/embeddings"
	embeddingsopenai "github.com/MrWong99/callbroker/pkg/provider/embeddings/openai"
	"github.com/MrWong99/callbroker/pkg/provider/llm"
	"github.com/MrWong99/callbroker/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/callbroker/pkg/provider/llm/openai"
	"github.com/MrWong99/callbroker/pkg/provider/persistence"
	"github.com/MrWong99/callbroker/pkg/provider/persistence/postgres"
	"github.com/MrWong99/callbroker/pkg/provider/stt"
	"github.com/MrWong99/callbroker/pkg/provider/stt/deepgram"
	"github.com/MrWong99/callbroker/pkg/provider/stt/whisper"
	"github.com/MrWong99/callbroker/pkg/provider/tts"
	"github.com/MrWong99/callbroker/pkg/provider/tts/coqui"
	ttsmock "github.com/MrWong99/callbroker/pkg/provider/tts/mock"
	"github.com/MrWong99/callbroker/pkg/provider/urlscan"
	"github.com/MrWong99/callbroker/pkg/provider/urlscan/mcptool"
	"github.com/MrWong99/callbroker/pkg/provider/vad"
	vadmock "github.com/MrWong99/callbroker/pkg/provider/vad/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callbroker: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callbroker: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("callbroker starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, providers)

	// ── Call broker + gateway wiring ──────────────────────────────────────────
	callRegistry := broker.NewRegistry(cfg.Broker.ReconnectGrace,
		broker.WithRegistryEgressQueueCapacity(cfg.Broker.EgressQueueCapacity),
	)
	gw := gateway.New(callRegistry)

	if providers.STT != nil && providers.VAD != nil && providers.LLM != nil {
		disp := dispatcher.New(dispatcher.Config{
			STT:              providers.STT,
			VAD:              providers.VAD,
			Coach:            providers.LLM,
			Extractor:        providers.LLM,
			TTS:              providers.TTS,
			URLScan:          providers.URLScan,
			Persistence:      providers.Persistence,
			IntelConcurrency: cfg.Broker.IntelConcurrency,
		})
		gw.OnLegAttached = disp.OnLegAttached
	} else {
		slog.Warn("stt, vad, and llm providers are all required for live analysis — running as a bare audio relay")
	}

	mux := http.NewServeMux()
	gw.Routes(mux)

	healthHandler := health.New(
		health.Checker{Name: "stt_provider", Check: func(context.Context) error {
			if providers.STT == nil {
				return errors.New("stt provider not configured")
			}
			return nil
		}},
	)
	healthHandler.Register(mux)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	STT         stt.Provider
	LLM         llm.Provider
	Embeddings  embeddings.Provider
	VAD         vad.Engine
	TTS         tts.Provider
	URLScan     urlscan.Provider
	Persistence persistence.Provider
}

// registerBuiltinProviders installs the factory functions for every provider
// this binary ships with. The urlscan factory dials its MCP server lazily,
// at create time, so a server config error surfaces during buildProviders
// rather than at startup-log time.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		return deepgram.New(e.APIKey)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(e.BaseURL)
	})

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return llmopenai.New(e.APIKey, e.Model)
	})
	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewOpenAI(e.Model)
	})

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsopenai.New(e.APIKey, e.Model)
	})

	// No production VAD backend ships with this binary yet (a real
	// implementation needs an on-device model runtime this module does not
	// depend on). "mock" wires the always-available in-tree test double so
	// the pipeline is runnable end-to-end during development.
	reg.RegisterVAD("mock", func(config.ProviderEntry) (vad.Engine, error) {
		return &vadmock.Engine{Session: &vadmock.Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}}, nil
	})

	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		if e.BaseURL == "" {
			return nil, errors.New("providers.tts.base_url is required for the coqui provider")
		}
		var opts []coqui.Option
		if lang, ok := e.Options["language"].(string); ok && lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker, ok := e.Options["speaker_id"].(string); ok && speaker != "" {
			opts = append(opts, coqui.WithSpeakerID(speaker))
		}
		return coqui.New(e.BaseURL, opts...)
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	reg.RegisterURLScan("mcptool", func(e config.ProviderEntry) (urlscan.Provider, error) {
		serverCfg, err := mcpServerConfigFrom(e)
		if err != nil {
			return nil, err
		}
		client, err := mcp.Dial(ctx, "callbroker", "dev", serverCfg)
		if err != nil {
			return nil, err
		}
		return mcptool.New(client), nil
	})

	reg.RegisterPersistence("postgres", func(e config.ProviderEntry) (persistence.Provider, error) {
		dsn, _ := e.Options["dsn"].(string)
		if dsn == "" {
			return nil, errors.New("providers.persistence.options.dsn is required for the postgres provider")
		}
		dims := 1536
		if v, ok := e.Options["embedding_dimensions"]; ok {
			if n, ok := toInt(v); ok {
				dims = n
			}
		}
		return postgres.NewStore(ctx, dsn, dims)
	})
}

// mcpServerConfigFrom builds an mcp.ServerConfig from a urlscan provider
// entry's Options map.
func mcpServerConfigFrom(e config.ProviderEntry) (mcp.ServerConfig, error) {
	transport := mcp.TransportStdio
	if v, ok := e.Options["transport"].(string); ok && v != "" {
		transport = mcp.Transport(v)
	}
	cfg := mcp.ServerConfig{
		Name:      "urlscan",
		Transport: transport,
	}
	if v, ok := e.Options["command"].(string); ok {
		cfg.Command = v
	}
	if v, ok := e.Options["url"].(string); ok {
		cfg.URL = v
	}
	if raw, ok := e.Options["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				cfg.Args = append(cfg.Args, s)
			}
		}
	}
	if !transport.IsValid() {
		return mcp.ServerConfig{}, fmt.Errorf("providers.urlscan.options.transport %q is invalid", transport)
	}
	return cfg, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// buildProviders instantiates every configured provider using reg. A
// provider name that isn't registered is logged and left nil, matching the
// registry's "skip unimplemented provider" behaviour during incremental
// rollout.
func buildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "embeddings", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "vad", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			ps.VAD = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.URLScan.Name; name != "" {
		p, err := reg.CreateURLScan(cfg.Providers.URLScan)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "urlscan", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create urlscan provider %q: %w", name, err)
		} else {
			ps.URLScan = p
			slog.Info("provider created", "kind", "urlscan", "name", name)
		}
	}

	if name := cfg.Providers.Persistence.Name; name != "" {
		p, err := reg.CreatePersistence(cfg.Providers.Persistence)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "persistence", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create persistence provider %q: %w", name, err)
		} else {
			ps.Persistence = p
			slog.Info("provider created", "kind", "persistence", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       callbroker — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("TTS", cfg.Providers.TTS.Name, "")
	printProvider("URLScan", cfg.Providers.URLScan.Name, "")
	printProvider("Persistence", cfg.Providers.Persistence.Name, "")
	fmt.Printf("║  Reconnect grace : %-19s ║\n", cfg.Broker.ReconnectGrace)
	fmt.Printf("║  Intel conc.     : %-19d ║\n", cfg.Broker.IntelConcurrency)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
