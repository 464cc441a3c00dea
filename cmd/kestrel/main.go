package main

// @title Kestrel Agent API
// @version 1.0
// @description Multi-agent conversational runtime: process tree, hybrid memory, LLM routing, and pluggable messaging adapters
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/kestrel-run/kestrel
// @contact.email support@kestrel.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /
// @schemes http https

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-run/kestrel/config"
	"github.com/kestrel-run/kestrel/pkg/adapter"
	"github.com/kestrel-run/kestrel/pkg/api"
	"github.com/kestrel-run/kestrel/pkg/api/handlers"
	"github.com/kestrel-run/kestrel/pkg/binding"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/llm"
	"github.com/kestrel-run/kestrel/pkg/llm/providers"
	"github.com/kestrel-run/kestrel/pkg/logger"
	"github.com/kestrel-run/kestrel/pkg/metrics"
	"github.com/kestrel-run/kestrel/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	// Print help
	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	// Print version
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	// Build CLI overrides map
	overrides := buildOverrides()

	// Load configuration
	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	// Initialize logger with configuration
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("starting kestrel",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Path = cfg.Metrics.Path
	metricsCfg.Port = cfg.Metrics.Port
	metricsMgr := metrics.NewManager(metricsCfg)

	router := buildRouter(cfg, log)
	router.SetMetrics(metricsMgr)

	agentConfigs := cfg.Agents
	if len(agentConfigs) == 0 {
		agentConfigs = []config.AgentConfig{{
			ID:           cfg.App.Name,
			Name:         cfg.App.Name,
			SystemPrompt: "You are a helpful assistant.",
			DataDir:      cfg.Memory.StoragePath,
		}}
		log.Warn("no agents configured, running a single default agent", "id", cfg.App.Name)
	}

	hosts := make(map[string]*AgentHost, len(agentConfigs))
	for _, ac := range agentConfigs {
		store, err := newStoreForAgent(cfg, ac)
		if err != nil {
			log.Error("failed to open agent store", "agent_id", ac.ID, "error", err)
			os.Exit(1)
		}
		host, err := NewAgentHost(ac, cfg, store, router, metricsMgr, log)
		if err != nil {
			log.Error("failed to build agent host", "agent_id", ac.ID, "error", err)
			os.Exit(1)
		}
		if err := host.Start(ctx); err != nil {
			log.Error("failed to start agent host", "agent_id", ac.ID, "error", err)
			os.Exit(1)
		}
		hosts[ac.ID] = host
		log.Info("agent host started", "agent_id", ac.ID)
	}

	bindings := cfg.Bindings
	if len(bindings) == 0 {
		bindings = []domain.Binding{{AgentID: agentConfigs[0].ID}} // wildcard: everything routes to the first agent
	}
	bindingTable, err := binding.NewTable(bindings...)
	if err != nil {
		log.Error("invalid binding table", "error", err)
		os.Exit(1)
	}

	// Initialize the messaging adapter and mount its transport.
	wsAdapter := adapter.NewWebSocketAdapter(adapter.WebSocketAdapterConfig{Logger: log})
	inbound, err := wsAdapter.Start(ctx)
	if err != nil {
		log.Error("failed to start websocket adapter", "error", err)
		os.Exit(1)
	}

	reporters := make([]handlers.StatusReporter, 0, len(hosts))
	memoryHandlers := make(map[string]*handlers.MemoryHandler, len(hosts))
	for id, host := range hosts {
		reporters = append(reporters, host)
		memoryHandlers[id] = handlers.NewMemoryHandler(host.Memory(), log)
	}
	apiRouter := api.NewRouter(cfg, log, &api.Handlers{
		Health: handlers.NewHealthHandler(reporters...),
		Memory: memoryHandlers,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", wsAdapter)
	mux.Handle(cfg.Metrics.Path, metricsMgr.Handler())
	mux.Handle("/", apiRouter)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go dispatchInbound(ctx, inbound, hosts, bindingTable, wsAdapter, log)

	if *configPath != "" {
		if watcher, err := config.NewWatcher(*configPath, config.NewLoader()); err != nil {
			log.Warn("config hot reload disabled", "error", err)
		} else {
			watcher.OnChange(func(newCfg *config.Config) {
				hot := config.ExtractHotReloadable(newCfg)
				log.SetLevel(logger.ParseLevel(hot.LogLevel))
				log.Info("config reloaded", "log_level", hot.LogLevel)
			})
			go func() {
				if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
					log.Warn("config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	// Start HTTP server in a separate goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("starting http server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	log.Info("kestrel is running", "http_addr", httpServer.Addr)
	log.Info("press Ctrl+C to stop")

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("http server error", "error", err)
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("shutting down http server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down http server", "error", err)
	}
	if err := wsAdapter.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down websocket adapter", "error", err)
	}

	for id, host := range hosts {
		log.Info("stopping agent host", "agent_id", id)
		host.Stop(shutdownCtx)
	}

	log.Info("kestrel stopped gracefully")
}

// dispatchInbound resolves each adapter-produced message to an agent via
// the binding table, then submits it to that agent's conversation Channel,
// spinning one up on first contact (spec.md §3 "Binding", §4.3 "Channel").
func dispatchInbound(ctx context.Context, inbound <-chan domain.InboundMessage, hosts map[string]*AgentHost, bindings *binding.Table, adp adapter.Adapter, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			agentID, err := bindings.Resolve(msg.Source, msg.ConversationID, msg.SenderID)
			if err != nil {
				log.Warn("no agent bound for inbound message", "source", msg.Source, "conversation_id", msg.ConversationID)
				continue
			}
			host, ok := hosts[agentID]
			if !ok {
				log.Warn("binding resolved to unknown agent", "agent_id", agentID)
				continue
			}
			ch := host.Channel(ctx, msg.ConversationID, adp)
			if !ch.Submit(msg) {
				log.Warn("channel inbound queue full, dropping message", "conversation_id", msg.ConversationID)
			}
		}
	}
}

// buildRouter constructs the shared LLM router. Every model id referenced
// anywhere in cfg.LLM is bound to the single configured provider; the
// retrieved pack carries only an OpenAI-compatible client, so a richer
// model->provider mapping has nothing else to dispatch to yet (see
// DESIGN.md).
func buildRouter(cfg *config.Config, log logger.Logger) *llm.Router {
	providerInstances := map[string]llm.Provider{}
	for name, pc := range cfg.LLM.Providers {
		switch name {
		case "openai":
			apiKey := os.Getenv(pc.APIKeyEnv)
			providerInstances[name] = providers.NewOpenAIProvider(apiKey, pc.BaseURL)
		default:
			log.Warn("unknown llm provider in config, skipping", "provider", name)
		}
	}

	modelProviders := map[string]llm.Provider{}
	var fallback llm.Provider
	for _, p := range providerInstances {
		fallback = p
		break
	}
	bind := func(model string) {
		if model == "" || fallback == nil {
			return
		}
		if _, ok := modelProviders[model]; !ok {
			modelProviders[model] = fallback
		}
	}
	bind(cfg.LLM.DefaultModel)
	for _, m := range cfg.LLM.ProcessDefaults {
		bind(m)
	}
	for _, m := range cfg.LLM.TaskTypeOverrides {
		bind(m)
	}
	for _, m := range cfg.LLM.FallbackChain {
		bind(m)
	}

	return llm.NewRouter(&cfg.LLM, modelProviders, nil, log)
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Kestrel - Multi-Agent Conversational Runtime\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Kestrel - multi-agent conversational runtime\n\n")
	fmt.Printf("Usage: kestrel [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  kestrel                                    # Run with default config\n")
	fmt.Printf("  kestrel -config config.yaml                # Use specific config file\n")
	fmt.Printf("  kestrel -port 9090 -log-level debug        # Override specific options\n")
	fmt.Printf("  kestrel -version                           # Print version info\n")
}
