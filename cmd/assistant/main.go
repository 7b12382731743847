// Command assistant runs the self-hosted personal assistant: channel
// adapters feed the orchestrator, which dispatches container turns
// through the group queue and warm pool, consults and writes the
// knowledge engine, and serves the knowledge-engine HTTP API and local
// liveness endpoints.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hearth-ai/assistant/pkg/api"
	"github.com/hearth-ai/assistant/pkg/channel/telegram"
	"github.com/hearth-ai/assistant/pkg/channel/whatsapp"
	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/container"
	"github.com/hearth-ai/assistant/pkg/events"
	"github.com/hearth-ai/assistant/pkg/groupqueue"
	"github.com/hearth-ai/assistant/pkg/health"
	"github.com/hearth-ai/assistant/pkg/knowledge/chunk"
	"github.com/hearth-ai/assistant/pkg/knowledge/embed"
	"github.com/hearth-ai/assistant/pkg/knowledge/indexer"
	"github.com/hearth-ai/assistant/pkg/knowledge/learn"
	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/knowledge/thai"
	"github.com/hearth-ai/assistant/pkg/knowledge/vectorstore"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/orchestrator"
	"github.com/hearth-ai/assistant/pkg/scheduler"
	"github.com/hearth-ai/assistant/pkg/store"
	"github.com/hearth-ai/assistant/pkg/version"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	httpAddr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "address the knowledge-engine API listens on")
	flag.Parse()

	log := slog.Default()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	log.Info("starting assistant", "name", cfg.Assistant.Name, "version", version.Full())

	st, err := store.Open(ctx, store.Options{
		Path:        cfg.Store.Path,
		BusyTimeout: cfg.Store.BusyTimeout,
		CacheSizeKB: cfg.Store.CacheSizeKB,
	}, log.With("component", "store"))
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := ensureMainGroup(ctx, st, cfg); err != nil {
		log.Error("failed to bootstrap main group", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus(events.DefaultPollInterval, log.With("component", "events"))
	bus.Start(ctx)
	defer bus.Stop()

	vsHost, vsPort := splitHostPort(cfg.Knowledge.VectorStoreURL, 6333)
	vs, err := vectorstore.Open(ctx, vectorstore.Config{
		Host:       vsHost,
		Port:       vsPort,
		APIKey:     cfg.Knowledge.VectorToken,
		Collection: "knowledge",
		VectorDim:  1536,
	})
	if err != nil {
		log.Error("failed to open vector store", "error", err)
		os.Exit(1)
	}

	embedder := embed.New(cfg.Knowledge.EmbeddingAPIURL, cfg.Knowledge.EmbeddingModel, cfg.Knowledge.VectorToken)
	thaiClient := thai.NewClient(thai.DefaultConfig(cfg.Knowledge.ThaiSidecarURL))
	splitter := &chunk.Splitter{Thai: thaiClient, Model: cfg.Knowledge.EmbeddingModel}

	searchEngine := &search.Engine{
		Store:       st,
		Embedder:    embedder,
		VectorStore: vs,
		Thai:        thaiClient,
		Log:         log.With("component", "search"),
	}
	learnService := &learn.Service{Store: st, VectorStore: vs, Splitter: splitter, Embedder: embedder}

	idx := indexer.New(cfg.Store.KnowledgeRoot, st, vs, splitter, embedder, log.With("component", "indexer"))
	go func() {
		if err := idx.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("knowledge indexer stopped", "error", err)
		}
	}()
	go runReconciler(ctx, idx)

	rt, err := container.Dial(getEnv("CONTAINERD_SOCKET", "/run/containerd/containerd.sock"))
	if err != nil {
		log.Error("failed to connect to container runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	dirsFor := func(group string) container.Dirs {
		return container.Dirs{
			Workspace: filepath.Join(cfg.Store.GroupsDir, group, "workspace"),
			IPC:       filepath.Join(cfg.Store.IPCDir, group),
			Session:   filepath.Join(cfg.Store.GroupsDir, group, "session"),
		}
	}
	specFor := func(group string) (string, []string) {
		return cfg.Container.Image, []string{"ASSISTANT_GROUP=" + group}
	}

	pool := container.New(rt, st, log.With("component", "pool"), cfg.Pool, cfg.Container, dirsFor, specFor)
	pool.Start(ctx)
	defer pool.Stop()

	orch := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Bus:       bus,
		Search:    searchEngine,
		Learn:     learnService,
		IPCSecret: []byte(cfg.IPC.Secret),
		IPCDirFor: dirsFor,
		Config:    cfg.Orchestrator,
		Log:       log.With("component", "orchestrator"),
	})

	queue := groupqueue.New(st, log.With("component", "queue"), cfg.Queue, orch.HandleQueueEntry, orch.Notify)
	orch.AttachQueue(queue)
	orch.AttachPool(pool)

	if err := queue.Start(ctx); err != nil {
		log.Error("failed to start group queue", "error", err)
		os.Exit(1)
	}
	defer queue.Stop()

	for _, name := range cfg.Channels.Enabled {
		switch name {
		case "telegram":
			adapter := telegram.New(cfg.Channels.Telegram.BotToken, orch, log.With("component", "telegram"))
			orch.RegisterChannel(adapter)
			go func() {
				if err := adapter.Start(ctx); err != nil && ctx.Err() == nil {
					log.Error("telegram adapter stopped", "error", err)
				}
			}()
		case "whatsapp":
			adapter := whatsapp.New(cfg.Channels.WhatsApp.SessionDBPath, orch, log.With("component", "whatsapp"))
			orch.RegisterChannel(adapter)
			go func() {
				if err := adapter.Start(ctx); err != nil && ctx.Err() == nil {
					log.Error("whatsapp adapter stopped", "error", err)
				}
			}()
		}
	}

	sched := scheduler.New(st, log.With("component", "scheduler"), cfg.Scheduler, orch, nil)
	go sched.Run(ctx)
	defer sched.Stop()

	checker := &health.Checker{Store: st, Pool: pool, Cfg: cfg.Health, Log: log.With("component", "health")}
	monitor := health.NewMonitor(checker, log.With("component", "health"))
	monitor.Start(ctx)
	defer monitor.Stop()

	srv := api.NewServer(cfg, st)
	srv.SetSearchEngine(searchEngine)
	srv.SetLearnService(learnService)
	srv.SetHealthMonitor(monitor)
	srv.SetContainerPool(pool)
	srv.SetQueue(queue)
	if err := srv.ValidateWiring(); err != nil {
		log.Error("api server wiring incomplete", "error", err)
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start(*httpAddr) }()
	log.Info("assistant ready", "http_addr", *httpAddr)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("api server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("api server shutdown error", "error", err)
	}
}

// reconcileInterval is how often the failed-document reconciler is given
// a chance to retry; each document still backs off on its own schedule
// (indexer.reconcileBackoff), so this only needs to be frequent enough to
// notice when a document's backoff has elapsed.
const reconcileInterval = 30 * time.Second

// runReconciler drives idx.Reconcile on a ticker until ctx is cancelled.
func runReconciler(ctx context.Context, idx *indexer.Indexer) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idx.Reconcile(ctx)
		}
	}
}

// ensureMainGroup makes sure exactly one group row is marked as main,
// creating it from configuration on first run (spec §3: every installation
// has one main group).
func ensureMainGroup(ctx context.Context, st *store.Store, cfg *config.Config) error {
	if _, err := st.MainGroup(ctx); err == nil {
		return nil
	}
	return st.UpsertGroup(ctx, models.Group{
		Name:          "main",
		IsMain:        true,
		WorkspacePath: filepath.Join(cfg.Store.GroupsDir, "main", "workspace"),
		IPCNamespace:  "main",
	})
}

// splitHostPort extracts the host and port vectorstore.Config wants from a
// URL like "http://localhost:6333", falling back to defaultPort when the
// URL carries none.
func splitHostPort(rawURL string, defaultPort int) (string, int) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "localhost", defaultPort
	}
	port := defaultPort
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return u.Hostname(), port
}
