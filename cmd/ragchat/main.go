// Command ragchat is a documentation chatbot: ingest crawls and indexes the
// docs, ask answers one question from the terminal, serve runs the HTTP chat
// server, and eval scores answer quality against a JSON test set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tmc/langchaingo/llms"

	ragchat "github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/eval"
	"github.com/langdocs/ragchat/llm"
	"github.com/langdocs/ragchat/loader"
	"github.com/langdocs/ragchat/log"
	"github.com/langdocs/ragchat/pipeline"
	"github.com/langdocs/ragchat/retriever"
	"github.com/langdocs/ragchat/server"
	"github.com/langdocs/ragchat/splitter"
	filestore "github.com/langdocs/ragchat/store/file"
	memorystore "github.com/langdocs/ragchat/store/memory"
	postgresstore "github.com/langdocs/ragchat/store/postgres"
	redisstore "github.com/langdocs/ragchat/store/redis"
	sqlitestore "github.com/langdocs/ragchat/store/sqlite"
)

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63"))

	answerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "ingest":
		err = runIngest(args)
	case "ask":
		err = runAsk(args)
	case "serve":
		err = runServe(args)
	case "eval":
		err = runEval(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ragchat <command> [flags]

Commands:
  ingest    Crawl the documentation (or load local files) and index it
  ask       Answer one question from the terminal
  serve     Run the HTTP chat server
  eval      Score answer quality against a JSON test set

Configuration comes from environment variables; OPENAI_API_KEY is always
required, VECTOR_STORE_TYPE selects the store backend (memory, file, redis,
sqlite or postgres).

Examples:
  ragchat ingest
  ragchat ingest -dir ./docs
  ragchat ask "How do I add memory to a chain?"
  ragchat serve -port 8080
  ragchat eval -questions data/test_questions.json
`)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfig() (ragchat.Config, error) {
	cfg := ragchat.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func buildEmbedder(cfg ragchat.Config) (ragchat.Embedder, error) {
	return llm.NewOpenAIEmbedder(cfg.APIKey, cfg.EmbeddingModel, cfg.BaseURL)
}

// buildStore opens the configured vector store backend. The embedder handles
// queries and documents arriving without vectors.
func buildStore(ctx context.Context, cfg ragchat.Config, embedder ragchat.Embedder) (ragchat.VectorStore, error) {
	switch cfg.StoreType {
	case "memory":
		return memorystore.NewMemoryStore(embedder), nil
	case "file":
		return filestore.NewFileStore(cfg.FileStoreDir, embedder)
	case "redis":
		return redisstore.NewRedisStore(redisstore.RedisOptions{Addr: cfg.RedisAddr}, embedder), nil
	case "sqlite":
		return sqlitestore.NewSqliteStore(sqlitestore.SqliteOptions{Path: cfg.SQLitePath}, embedder)
	case "postgres":
		return postgresstore.NewPostgresStore(ctx, postgresstore.PostgresOptions{ConnString: cfg.PostgresURL}, embedder)
	default:
		return nil, fmt.Errorf("unknown vector store type: %s", cfg.StoreType)
	}
}

func buildAnswerPipeline(cfg ragchat.Config, store ragchat.VectorStore, model llms.Model, mmr bool) (*pipeline.AnswerPipeline, error) {
	ret := retriever.NewVectorRetriever(store, retriever.Config{
		K:              cfg.TopK,
		ScoreThreshold: float32(cfg.ScoreThreshold),
		MMR:            mmr,
	})
	return pipeline.NewAnswerPipeline(ret, model)
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	dir := fs.String("dir", "", "Index markdown files from this directory instead of crawling")
	maxPages := fs.Int("max-pages", 0, "Override MAX_PAGES for the crawl")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *maxPages > 0 {
		cfg.MaxPages = *maxPages
	}

	ctx, stop := signalContext()
	defer stop()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	store, err := buildStore(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer store.Close()

	var docLoader ragchat.Loader
	if *dir != "" {
		docLoader = loader.NewFileLoader(*dir)
		fmt.Println(promptStyle.Render("Indexing " + *dir))
	} else {
		docLoader = loader.NewDocsLoader(cfg.DocsBaseURL,
			loader.WithMaxPages(cfg.MaxPages),
			loader.WithDelay(cfg.CrawlDelay),
		)
		fmt.Println(promptStyle.Render("Crawling " + cfg.DocsBaseURL))
	}

	split := splitter.NewStructuredSplitter(
		splitter.WithChunkSize(cfg.ChunkSize),
		splitter.WithChunkOverlap(cfg.ChunkOverlap),
		splitter.WithCodeBlockMaxSize(cfg.CodeBlockMaxSize),
	)

	ingest, err := pipeline.NewIngestPipeline(docLoader, split, embedder, store)
	if err != nil {
		return err
	}

	stats, err := ingest.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println(statsStyle.Render(fmt.Sprintf("  load   %5d documents %9s", stats.DocumentsLoaded, stats.LoadTime.Round(time.Millisecond))))
	fmt.Println(statsStyle.Render(fmt.Sprintf("  chunk  %5d chunks    %9s", stats.ChunksCreated, stats.ChunkTime.Round(time.Millisecond))))
	fmt.Println(statsStyle.Render(fmt.Sprintf("  embed                  %9s", stats.EmbedTime.Round(time.Millisecond))))
	fmt.Println(statsStyle.Render(fmt.Sprintf("  store  %5d chunks    %9s", stats.ChunksStored, stats.StoreTime.Round(time.Millisecond))))
	fmt.Println(statsStyle.Render(fmt.Sprintf("  total                  %9s", stats.TotalTime.Round(time.Millisecond))))
	return nil
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	topK := fs.Int("k", 0, "Override TOP_K retrieved chunks")
	mmr := fs.Bool("mmr", false, "Diversify retrieved chunks with maximal marginal relevance")
	if err := fs.Parse(args); err != nil {
		return err
	}

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: ragchat ask <question>")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *topK > 0 {
		cfg.TopK = *topK
	}

	ctx, stop := signalContext()
	defer stop()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	store, err := buildStore(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer store.Close()

	model, err := llm.NewChatModel(cfg)
	if err != nil {
		return err
	}
	p, err := buildAnswerPipeline(cfg, store, model, *mmr)
	if err != nil {
		return err
	}

	fmt.Println(promptStyle.Render("Question: ") + question)
	fmt.Println()

	answer, err := p.Ask(ctx, question)
	if err != nil {
		return err
	}

	fmt.Println(answerStyle.Render(answer.Answer))
	fmt.Println()
	if len(answer.Sources) > 0 {
		fmt.Println(sourceStyle.Render("Sources:"))
		for _, src := range answer.Sources {
			fmt.Println(sourceStyle.Render("  • " + src))
		}
		fmt.Println()
	}
	fmt.Println(sourceStyle.Render(fmt.Sprintf("Answered in %.2fs (confidence %.2f)", answer.Elapsed.Seconds(), answer.Confidence)))
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", "", "Override SERVER_PORT")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.ServerPort = *port
	}

	ctx, stop := signalContext()
	defer stop()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	store, err := buildStore(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer store.Close()

	model, err := llm.NewChatModel(cfg)
	if err != nil {
		return err
	}
	p, err := buildAnswerPipeline(cfg, store, model, false)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg, p, store)
	if cfg.RedisAddr != "" && cfg.AnswerCacheTTL > 0 {
		cache := server.NewAnswerCache(server.CacheOptions{
			Addr: cfg.RedisAddr,
			TTL:  cfg.AnswerCacheTTL,
		})
		srv.SetCache(cache)
		defer cache.Close()
	}

	logger := log.GetDefaultLogger()
	logger.Info("chat server listening on %s:%s (store %s, model %s)",
		cfg.ServerHost, cfg.ServerPort, cfg.StoreType, cfg.ChatModel)
	return srv.Start()
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	questionsPath := fs.String("questions", filepath.Join("data", "test_questions.json"), "Path to the JSON test set")
	outDir := fs.String("out", "data", "Directory for the results CSV")
	judgeModel := fs.String("judge", "", "Judge model name (defaults to OPENAI_MODEL)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	store, err := buildStore(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer store.Close()

	model, err := llm.NewChatModel(cfg)
	if err != nil {
		return err
	}
	p, err := buildAnswerPipeline(cfg, store, model, false)
	if err != nil {
		return err
	}

	judge := model
	if *judgeModel != "" {
		judgeCfg := cfg
		judgeCfg.ChatModel = *judgeModel
		if judge, err = llm.NewChatModel(judgeCfg); err != nil {
			return err
		}
	}

	questions, err := eval.LoadQuestions(*questionsPath)
	if err != nil {
		return err
	}

	evaluator, err := eval.NewEvaluator(p, judge)
	if err != nil {
		return err
	}

	fmt.Println(promptStyle.Render(fmt.Sprintf("Evaluating %d questions", len(questions))))
	report, err := evaluator.Run(ctx, questions)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(sourceStyle.Render(fmt.Sprintf("  %-48s %12s %10s %9s", "question", "faithfulness", "relevancy", "latency")))
	for _, r := range report.Results {
		fmt.Printf("  %-48s %12.2f %10.2f %7dms\n", truncate(r.Question, 48), r.Faithfulness, r.Relevancy, r.Latency.Milliseconds())
	}
	fmt.Println()
	fmt.Println(statsStyle.Render(fmt.Sprintf("  mean faithfulness %.3f   mean relevancy %.3f", report.MeanFaithfulness, report.MeanRelevancy)))

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outPath := filepath.Join(*outDir, fmt.Sprintf("evaluation_%s.csv", report.RunID))
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer f.Close()
	if err := report.WriteCSV(f); err != nil {
		return err
	}

	fmt.Println(statsStyle.Render("  results written to " + outPath))
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
