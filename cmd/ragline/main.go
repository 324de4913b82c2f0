package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cairnwell/ragline/internal/logging"
	"github.com/cairnwell/ragline/pkg/chat"
	"github.com/cairnwell/ragline/pkg/convctx"
	"github.com/cairnwell/ragline/pkg/convlock"
	"github.com/cairnwell/ragline/pkg/convstore"
	"github.com/cairnwell/ragline/pkg/guardrail"
	"github.com/cairnwell/ragline/pkg/ingest"
	"github.com/cairnwell/ragline/pkg/providers"
	"github.com/cairnwell/ragline/pkg/providers/ollamaembed"
	"github.com/cairnwell/ragline/pkg/providers/openai"
	"github.com/cairnwell/ragline/pkg/retrieval"
	"github.com/cairnwell/ragline/pkg/vectorstore"
	"github.com/cairnwell/ragline/pkg/vectorstore/qdrantstore"
)

var rootCmd = &cobra.Command{
	Use:   "ragline",
	Short: "Retrieval-augmented chat over your own documents",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		logging.Init(viper.GetString("log-level"))
		return nil
	},
}

func initConfig(cmd *cobra.Command) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ragline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/ragline")
		}
	}
	viper.SetEnvPrefix("RAGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind flags")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "read config")
		}
	}
	return nil
}

// runtime is the wired-up stack shared by the chat and index commands.
type runtime struct {
	guard    *guardrail.Validator
	store    convstore.Store
	vectors  vectorstore.Store
	llm      providers.LLMProvider
	embedder providers.EmbeddingProvider
	locks    convlock.Locker
}

func buildRuntime(needLLM bool) (*runtime, error) {
	guard, err := buildGuard()
	if err != nil {
		return nil, err
	}
	store, err := buildStore()
	if err != nil {
		return nil, err
	}
	vectors, err := buildVectors()
	if err != nil {
		return nil, err
	}
	llm, embedder, err := buildProviders(needLLM)
	if err != nil {
		return nil, err
	}
	locks, err := buildLocks()
	if err != nil {
		return nil, err
	}
	return &runtime{
		guard:    guard,
		store:    store,
		vectors:  vectors,
		llm:      llm,
		embedder: embedder,
		locks:    locks,
	}, nil
}

func buildGuard() (*guardrail.Validator, error) {
	cfg := guardrail.Config{}
	if path := viper.GetString("guardrail.rules"); path != "" {
		loaded, err := guardrail.LoadRules(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return guardrail.NewValidator(cfg)
}

func buildStore() (convstore.Store, error) {
	switch driver := viper.GetString("store.driver"); driver {
	case "", "memory":
		return convstore.NewMemoryStore(), nil
	case "sqlite":
		path := viper.GetString("store.path")
		if path == "" {
			path = "ragline.db"
		}
		dsn, err := convstore.SQLiteDSNForFile(path)
		if err != nil {
			return nil, err
		}
		return convstore.NewSQLiteStore(dsn)
	default:
		return nil, errors.Errorf("unknown store driver %q", driver)
	}
}

func buildVectors() (vectorstore.Store, error) {
	switch driver := viper.GetString("vectors.driver"); driver {
	case "", "memory":
		return vectorstore.NewMemoryStore(), nil
	case "qdrant":
		return qdrantstore.New(qdrantstore.Config{
			Host:   viper.GetString("vectors.host"),
			Port:   viper.GetInt("vectors.port"),
			APIKey: viper.GetString("vectors.api-key"),
			UseTLS: viper.GetBool("vectors.tls"),
		})
	default:
		return nil, errors.Errorf("unknown vector store driver %q", driver)
	}
}

// buildProviders wires the chat model and the embedder. The chat model is
// only required when needLLM is set, so indexing with Ollama embeddings works
// without an OpenAI key.
func buildProviders(needLLM bool) (providers.LLMProvider, providers.EmbeddingProvider, error) {
	var llm providers.LLMProvider
	openaiProvider, err := openai.New(openai.Config{
		APIKey:         viper.GetString("openai.api-key"),
		BaseURL:        viper.GetString("openai.base-url"),
		Model:          viper.GetString("openai.model"),
		EmbeddingModel: viper.GetString("openai.embedding-model"),
	})
	if err == nil {
		llm = openaiProvider
	} else if needLLM {
		return nil, nil, err
	}
	switch ep := viper.GetString("embeddings.provider"); ep {
	case "", "openai":
		if openaiProvider == nil {
			return nil, nil, err
		}
		return llm, openaiProvider, nil
	case "ollama":
		embedder, err := ollamaembed.New(ollamaembed.Config{
			Host:  viper.GetString("ollama.host"),
			Model: viper.GetString("ollama.model"),
		})
		if err != nil {
			return nil, nil, err
		}
		return llm, embedder, nil
	default:
		return nil, nil, errors.Errorf("unknown embeddings provider %q", ep)
	}
}

func buildLocks() (convlock.Locker, error) {
	addr := viper.GetString("redis.addr")
	if addr == "" {
		return convlock.NewKeyedMutex(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	return convlock.NewRedisLocker(client)
}

func buildOrchestrator(rt *runtime) (*chat.Orchestrator, error) {
	contexts, err := convctx.NewManager(rt.store, rt.llm)
	if err != nil {
		return nil, err
	}
	merger, err := retrieval.NewMerger(rt.embedder, rt.vectors)
	if err != nil {
		return nil, err
	}
	opts := retrieval.DefaultOptions()
	if v := viper.GetInt("retrieval.top-k"); v > 0 {
		opts.TopK = v
	}
	if v := viper.GetFloat64("retrieval.score-threshold"); v > 0 {
		opts.ScoreThreshold = v
	}
	return chat.NewOrchestrator(chat.Config{
		Guard:        rt.guard,
		Store:        rt.store,
		Contexts:     contexts,
		Retriever:    merger,
		LLM:          rt.llm,
		Locks:        rt.locks,
		SystemPrompt: viper.GetString("system-prompt"),
		Retrieval:    &opts,
	})
}

func buildIndexer(rt *runtime) (*ingest.Indexer, error) {
	return ingest.NewIndexer(rt.guard, rt.embedder, rt.vectors, ingest.Config{
		Partition:    viper.GetString("ingest.partition"),
		ChunkSize:    viper.GetInt("ingest.chunk-size"),
		ChunkOverlap: viper.GetInt("ingest.chunk-overlap"),
	})
}

func main() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ragline.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newIndexCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
