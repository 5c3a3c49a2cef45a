// Package servecmder provides the serve command running the learning
// pipeline and the agent-facing MCP endpoint.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skillmesh/skillmesh/pkg/bus"
	"github.com/skillmesh/skillmesh/pkg/config"
	"github.com/skillmesh/skillmesh/pkg/embeddings"
	embeddingutils "github.com/skillmesh/skillmesh/pkg/embeddings/utils"
	"github.com/skillmesh/skillmesh/pkg/feedback"
	"github.com/skillmesh/skillmesh/pkg/inject"
	injectmcp "github.com/skillmesh/skillmesh/pkg/inject/mcp"
	"github.com/skillmesh/skillmesh/pkg/learning"
	"github.com/skillmesh/skillmesh/pkg/llm"
	"github.com/skillmesh/skillmesh/pkg/logger"
	"github.com/skillmesh/skillmesh/pkg/resources"
	resourcefs "github.com/skillmesh/skillmesh/pkg/resources/filesystem"
	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/skill/extractor"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/store/inmemory"
	"github.com/skillmesh/skillmesh/pkg/store/postgres"
	"github.com/skillmesh/skillmesh/pkg/store/sqlite"
	"github.com/skillmesh/skillmesh/pkg/trace"
	vecmem "github.com/skillmesh/skillmesh/pkg/vector/inmemory"
	"github.com/skillmesh/skillmesh/pkg/vector/sqlitevec"
)

type ServeCommander struct {
	configDir string
	debug     bool
	logger    *zap.Logger
	cfg       *config.Config
}

const serveLongDesc string = `Run the skillmesh service.

The server subscribes to learning nominations and feedback on the message
broker, runs the background learning worker, and serves skill search and
reads to agents over MCP.

Configuration comes from config.toml in the config directory, overridable
with SKILLMESH_ environment variables.`

const serveShortDesc string = "Run the skillmesh service"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %v", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}
	c.cfg = config.Load(v)

	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Skill store
	st, err := c.createStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	// Embeddings
	embedSvc, err := c.createEmbeddings()
	if err != nil {
		return err
	}

	// Static skills
	var static *skill.StaticLoader
	if c.cfg.Skills.StaticDir != "" {
		static = skill.NewStaticLoader(c.cfg.Skills.StaticDir, c.logger)
		if c.cfg.Skills.Watch {
			go func() {
				if err := static.Watch(ctx); err != nil {
					c.logger.Warn("static skill watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	// Resource bundles
	var res resources.Store
	if c.cfg.Skills.ResourceDir != "" {
		res, err = resourcefs.New(c.cfg.Skills.ResourceDir)
		if err != nil {
			return fmt.Errorf("creating resource store: %w", err)
		}
		defer res.Close()
	}

	svc := service.New(st, embedSvc, static, res, service.Config{
		InjectThreshold: c.cfg.Search.InjectThreshold,
	}, c.logger)

	// Optional vector index: ":memory:" selects the brute-force in-process
	// driver, any other path a sqlite-vec database.
	switch c.cfg.Storage.VectorPath {
	case "":
	case ":memory:":
		svc.UseIndex(vecmem.New())
		c.logger.Info("vector index enabled", zap.String("driver", "inmemory"))
	default:
		index, err := sqlitevec.New(sqlitevec.Config{
			DBPath:     c.cfg.Storage.VectorPath,
			Dimensions: c.cfg.Embedding.Dimensions,
		}, c.logger)
		if err != nil {
			return fmt.Errorf("creating vector index: %w", err)
		}
		defer index.Close()
		svc.UseIndex(index)
		c.logger.Info("vector index enabled", zap.String("path", c.cfg.Storage.VectorPath))
	}

	// Extraction LLM
	var llmCall llm.CallFunc
	if c.cfg.LLM.Provider != "" && c.cfg.LLM.Provider != "none" {
		llmCall, err = llm.NewCaller(llm.CallerConfig{
			Provider: c.cfg.LLM.Provider,
			Model:    c.cfg.LLM.Model,
			BaseURL:  c.cfg.LLM.Target,
		})
		if err != nil {
			return fmt.Errorf("creating LLM caller: %w", err)
		}
	} else {
		c.logger.Info("no LLM configured, extraction uses heuristics only")
	}
	ext := extractor.New(llmCall, extractor.Config{
		Retries: c.cfg.Learning.ExtractRetries,
	}, c.logger)

	analyzer := trace.NewAnalyzer(trace.Config{})
	fb := feedback.New(st, ext, svc, feedback.Config{
		CorrectionThreshold: c.cfg.Learning.CorrectionThreshold,
	}, c.logger)

	// Message broker
	pub, sub, err := c.createBus()
	if err != nil {
		return err
	}
	defer pub.Close()
	defer sub.Close()

	events := learning.NewMemoryEvents()
	handler := learning.NewHandler(st, analyzer, svc, fb, events, pub, learning.HandlerConfig{
		PassiveLearning: c.cfg.Learning.Passive,
	}, c.logger)
	worker := learning.NewWorker(st, analyzer, svc, ext, events, pub, learning.WorkerConfig{
		BatchSize:       c.cfg.Learning.BatchSize,
		Interval:        time.Duration(c.cfg.Learning.IntervalSeconds) * time.Second,
		MergeThreshold:  c.cfg.Learning.MergeThreshold,
		RefineThreshold: c.cfg.Learning.RefineThreshold,
	}, c.logger)

	if err := c.subscribeTopics(sub); err != nil {
		return err
	}
	if err := sub.Start(ctx); err != nil {
		return fmt.Errorf("starting subscriber: %w", err)
	}

	// MCP endpoint
	mcpServer, err := injectmcp.NewServer(injectmcp.Config{
		Service:  svc,
		Injector: inject.New(svc, c.logger),
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	httpServer := &http.Server{
		Addr:    c.cfg.MCP.Listen,
		Handler: mcpServer.Handler(),
	}

	errChan := make(chan error, 2)

	go func() {
		for msg := range sub.Messages() {
			if err := handler.HandleMessage(ctx, msg.Topic, msg.Value); err != nil {
				c.logger.Warn("message handling failed",
					zap.String("topic", msg.Topic), zap.Error(err))
			}
		}
	}()

	if c.cfg.Learning.Enabled {
		go worker.Run(ctx)
		c.logger.Info("learning worker started",
			zap.Int("batch_size", c.cfg.Learning.BatchSize),
			zap.Int("interval_seconds", c.cfg.Learning.IntervalSeconds),
		)
	}

	go func() {
		c.logger.Info("mcp endpoint listening", zap.String("addr", c.cfg.MCP.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("mcp server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("mcp server shutdown failed", zap.Error(err))
	}
	return nil
}

func (c *ServeCommander) createStore(ctx context.Context) (store.Store, error) {
	switch c.cfg.Storage.Provider {
	case "sqlite", "":
		st, err := sqlite.New(c.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		c.logger.Info("using sqlite storage", zap.String("path", c.cfg.Storage.SQLitePath))
		return st, nil
	case "postgres":
		st, err := postgres.New(ctx, c.cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		c.logger.Info("using postgres storage")
		return st, nil
	case "inmemory":
		c.logger.Info("using in-memory storage")
		return inmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %q", c.cfg.Storage.Provider)
	}
}

func (c *ServeCommander) createEmbeddings() (*embeddings.Service, error) {
	if c.cfg.Embedding.Provider == "" || c.cfg.Embedding.Provider == "none" {
		c.logger.Info("embeddings disabled, search uses text matching")
		return embeddings.NewService(nil, c.logger), nil
	}

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: c.cfg.Embedding.Provider,
		TargetURL:    c.cfg.Embedding.Target,
		APIKey:       os.Getenv("OPENAI_API_KEY"),
		Model:        c.cfg.Embedding.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	c.logger.Info("embeddings enabled",
		zap.String("provider", c.cfg.Embedding.Provider),
		zap.String("model", c.cfg.Embedding.Model),
	)
	return embeddings.NewService(embedder, c.logger), nil
}

func (c *ServeCommander) createBus() (bus.Publisher, bus.Subscriber, error) {
	switch c.cfg.Broker.Provider {
	case "inproc", "":
		b := bus.NewInproc()
		c.logger.Info("using in-process broker")
		return b, b, nil
	case "kafka":
		brokers := splitList(c.cfg.Broker.Brokers)
		if len(brokers) == 0 {
			return nil, nil, fmt.Errorf("broker.brokers is required for kafka")
		}
		sub := bus.NewKafkaSubscriber(brokers, c.cfg.Broker.GroupID, c.logger)
		pub := bus.NewKafkaPublisher(brokers)
		c.logger.Info("using kafka broker", zap.Strings("brokers", brokers))
		return pub, sub, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker provider: %q", c.cfg.Broker.Provider)
	}
}

// subscribeTopics registers the inbound topics: nominations (and completions
// when passive learning is on) per agent, feedback per gateway, and skill
// search requests. Feedback and search use per-task and per-request topic
// suffixes; the in-process broker matches those with a trailing wildcard,
// kafka deployments use the base topic and correlate through the payload.
func (c *ServeCommander) subscribeTopics(sub bus.Subscriber) error {
	wildcard := ""
	if c.cfg.Broker.Provider == "inproc" || c.cfg.Broker.Provider == "" {
		wildcard = "*"
	}

	var topics []string
	for _, agent := range splitList(c.cfg.Broker.Agents) {
		topics = append(topics, bus.NominateTopic(agent))
		if c.cfg.Learning.Passive {
			topics = append(topics, bus.TaskCompletedTopic(agent))
		}
	}
	for _, gateway := range splitList(c.cfg.Broker.Gateways) {
		topics = append(topics, "sam/"+gateway+bus.FragmentFeedback+wildcard)
	}
	topics = append(topics, bus.FragmentSearchRequest+wildcard)

	for _, topic := range topics {
		if err := sub.Subscribe(topic); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		c.logger.Debug("subscribed", zap.String("topic", topic))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
