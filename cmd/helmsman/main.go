package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"helmsman/internal/capability"
	"helmsman/internal/config"
	"helmsman/internal/datasource"
	"helmsman/internal/embedding"
	"helmsman/internal/engine"
	"helmsman/internal/llm"
	"helmsman/internal/logging"
	"helmsman/internal/memory"
	"helmsman/internal/resolve"
	"helmsman/internal/routing"
	"helmsman/internal/store"
)

var (
	verbose    bool
	configPath string
	threadID   string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "helmsman",
	Short: "helmsman - conversational turn engine for data queries",
	Long: `helmsman classifies each message, plans a task list, and executes it one
task at a time against Elasticsearch and GraphQL backends, pausing to ask
when something is ambiguous and remembering every step it took.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		logging.Initialize(wd)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

// buildEngine assembles the full stack from configuration.
func buildEngine(cfg *config.Config) (*engine.Engine, *store.LocalStore, error) {
	local, err := store.NewLocalStore(cfg.Engine.CheckpointPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local store: %w", err)
	}

	registry := capability.NewRegistry()
	registry.MustRegister(resolve.NewEntityResolution(local))
	registry.MustRegister(resolve.NewFieldMapping(local, cfg.Sources.Elasticsearch.Index))
	registry.MustRegister(datasource.NewESQueryBuilder())
	registry.MustRegister(datasource.NewGraphQLQueryBuilder())
	registry.MustRegister(datasource.NewESExecutor(datasource.NewESClient(
		cfg.Sources.Elasticsearch.BaseURL,
		cfg.Sources.Elasticsearch.Index,
		cfg.Sources.Elasticsearch.GetBackendTimeout())))
	registry.MustRegister(datasource.NewGraphQLExecutor(datasource.NewGraphQLClient(
		cfg.Sources.GraphQL.BaseURL,
		cfg.Sources.GraphQL.GetBackendTimeout())))
	registry.MustRegister(datasource.NewHybridExecutor(
		datasource.NewESClient(cfg.Sources.Elasticsearch.BaseURL,
			cfg.Sources.Elasticsearch.Index,
			cfg.Sources.Elasticsearch.GetBackendTimeout()),
		datasource.NewGraphQLClient(cfg.Sources.GraphQL.BaseURL,
			cfg.Sources.GraphQL.GetBackendTimeout())))
	registry.MustRegister(datasource.NewFormatResults())

	var client *llm.Client
	if cfg.LLM.APIKey != "" {
		client = llm.NewClient(cfg.LLM, cfg.GetLLMTimeout())
		logger.Info("llm collaborators enabled", zap.String("model", cfg.LLM.Model))
	} else {
		logger.Info("no llm api key, using heuristic collaborators")
	}
	collab := llm.NewCollaborators(client)

	var embedder memory.Embedder
	if cfg.Embedding.Enabled && cfg.Embedding.APIKey != "" {
		gen, err := embedding.NewGenAIEngine(context.Background(), cfg.Embedding.APIKey, cfg.Embedding.Model)
		if err != nil {
			logger.Warn("embedding engine unavailable", zap.Error(err))
		} else {
			embedder = gen
			logger.Info("embedding enabled", zap.String("engine", gen.Name()))
		}
	}

	eng, err := engine.New(engine.Options{
		Config:       cfg,
		Registry:     registry,
		Classifier:   collab,
		Rewriter:     collab,
		Planner:      collab,
		Responder:    collab,
		Checkpointer: local,
		LongTerm:     local,
		Embedder:     embedder,
	})
	if err != nil {
		local.Close()
		return nil, nil, err
	}
	return eng, local, nil
}

func runChat() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	eng, local, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer local.Close()
	defer eng.Close()

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		logger.Info("configuration changed; restart to apply engine settings")
	})
	if err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nbye")
		cancel()
	}()

	fmt.Printf("helmsman %s (thread: %s). Type a question, or /quit to exit.\n", cfg.Version, threadID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/plan":
			printPlan(eng)
			continue
		case "/clear":
			eng.ClearMemory(threadID)
			fmt.Println("short-term memory cleared")
			continue
		}

		start := time.Now()
		result, err := eng.RunTurn(ctx, threadID, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(result.Response)
		if verbose {
			fmt.Printf("  [%s, intent=%s, turn=%d, %v]\n",
				result.Phase, result.Intent, result.TurnID, time.Since(start).Round(time.Millisecond))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printPlan(eng *engine.Engine) {
	p := eng.ActivePlan(threadID)
	if p == nil {
		fmt.Println("no active plan")
		return
	}
	fmt.Printf("plan (%s, %s)\n", p.Strategy, p.Summary())
	for _, key := range p.Order {
		task := p.Tasks[key]
		marker := " "
		switch task.Status {
		case "completed":
			marker = "x"
		case "in_progress":
			marker = ">"
		}
		fmt.Printf("  [%s] %s (%s)\n", marker, key, task.Capability)
	}
}

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Run a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		eng, local, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer local.Close()
		defer eng.Close()

		result, err := eng.RunTurn(cmd.Context(), threadID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(result.Response)
		if result.Phase == routing.PhaseClarify {
			fmt.Println("(run again with your answer to continue)")
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the active plan for the thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		eng, local, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer local.Close()
		defer eng.Close()

		eng.WarmThread(cmd.Context(), threadID)
		printPlan(eng)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear-memory",
	Short: "Clear the thread's short-term memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		eng, local, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer local.Close()
		defer eng.Close()
		eng.ClearMemory(threadID)
		fmt.Println("short-term memory cleared")
		return nil
	},
}

// seedFile is the YAML shape the seed command loads.
type seedFile struct {
	Entities []struct {
		ID       string   `yaml:"id"`
		Category string   `yaml:"category"`
		Name     string   `yaml:"name"`
		Aliases  []string `yaml:"aliases"`
		Weight   float64  `yaml:"weight"`
	} `yaml:"entities"`
	Fields map[string]map[string]string `yaml:"fields"` // schema -> term -> field
}

var seedCmd = &cobra.Command{
	Use:   "seed [catalog.yaml]",
	Short: "Load entity catalog and field mappings from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		local, err := store.NewLocalStore(cfg.Engine.CheckpointPath)
		if err != nil {
			return err
		}
		defer local.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read catalog file: %w", err)
		}
		var seed seedFile
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("failed to parse catalog file: %w", err)
		}

		var entries []store.CatalogEntry
		for _, e := range seed.Entities {
			aliases := e.Aliases
			if len(aliases) == 0 {
				aliases = []string{e.Name}
			}
			for _, alias := range aliases {
				entries = append(entries, store.CatalogEntry{
					ID: e.ID, Category: e.Category, Name: e.Name,
					Alias: alias, Weight: e.Weight,
				})
			}
		}
		if err := local.UpsertCatalogEntries(cmd.Context(), entries); err != nil {
			return err
		}
		for schema, mappings := range seed.Fields {
			if err := local.UpsertFieldMappings(cmd.Context(), schema, mappings); err != nil {
				return err
			}
		}
		fmt.Printf("seeded %d catalog entries and %d field schemas\n", len(entries), len(seed.Fields))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "helmsman.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&threadID, "thread", "default", "conversation thread id")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
