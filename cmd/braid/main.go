// Command braid is a terminal chat client for a braid agent. It loads a
// TOML config, resolves the configured provider, and runs a streaming
// read-eval-print loop. With a [rag] block it answers over a local
// sqlite knowledge base; -ingest loads a file into that knowledge base.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/braid-ai/braid"
	"github.com/braid-ai/braid/ingest"
	"github.com/braid-ai/braid/internal/config"
	"github.com/braid-ai/braid/provider/resolve"
	"github.com/braid-ai/braid/store/sqlite"
)

func main() {
	configPath := flag.String("config", "braid.toml", "path to TOML config")
	ingestPath := flag.String("ingest", "", "ingest a file into the knowledge base and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *configPath, *ingestPath); err != nil {
		logger.Error("braid exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, ingestPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// 2. Resolve the chat provider
	provider, err := resolve.Provider(cfg.Provider.ModelString(), cfg.Provider.Options())
	if err != nil {
		return err
	}

	// 3. Open the knowledge base when configured
	var kb *sqlite.Store
	if cfg.RAG.Path != "" {
		kb = sqlite.New(cfg.RAG.Path, sqlite.WithLogger(logger))
		defer kb.Close()
	}

	// 4. Chat history
	history, err := buildHistory(cfg, kb, logger)
	if err != nil {
		return err
	}

	// 5. Build the agent, wrapped in RAG when a knowledge base is open
	agentOpts := []braid.AgentOption{
		braid.WithChatHistory(history),
		braid.WithMaxIterations(cfg.Agent.MaxIterations),
		braid.WithLogger(logger),
	}
	if cfg.Agent.Instructions != "" {
		agentOpts = append(agentOpts, braid.WithInstructions(cfg.Agent.Instructions))
	}

	var rag *braid.RAG
	var stream func(context.Context, braid.Message, chan<- string) (braid.Message, error)
	if kb != nil {
		embedder, err := resolve.EmbeddingProvider(cfg.Embedding.ModelString(), cfg.Embedding.Dimensions, cfg.Embedding.Options())
		if err != nil {
			return err
		}
		rag = braid.NewRAG(cfg.Agent.Name, provider, embedder, kb,
			braid.WithTopK(cfg.RAG.TopK),
			braid.WithAgentOptions(agentOpts...),
		)
		stream = rag.StreamAnswer
	} else {
		agent := braid.NewAgent(cfg.Agent.Name, provider, agentOpts...)
		stream = agent.Stream
	}

	// 6. Ingest mode: load a file and exit
	if ingestPath != "" {
		if rag == nil {
			return fmt.Errorf("-ingest requires a [rag] path in %s", configPath)
		}
		docs, err := ingest.New(ingest.WithLogger(logger)).IngestFile(ctx, ingestPath)
		if err != nil {
			return err
		}
		if err := rag.AddDocuments(ctx, docs); err != nil {
			return err
		}
		fmt.Printf("ingested %d documents from %s\n", len(docs), ingestPath)
		return nil
	}

	// 7. REPL
	fmt.Printf("%s ready on %s. /reset clears history, /exit quits.\n",
		cfg.Agent.Name, cfg.Provider.ModelString())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := history.Clear(ctx); err != nil {
				logger.Error("clear history", "error", err)
			} else {
				fmt.Println("history cleared")
			}
			continue
		}

		if err := chatOnce(ctx, stream, line); err != nil {
			if ctx.Err() != nil {
				fmt.Println()
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// chatOnce streams one reply to stdout.
func chatOnce(ctx context.Context, stream func(context.Context, braid.Message, chan<- string) (braid.Message, error), line string) error {
	ch := make(chan string, 64)
	done := make(chan error, 1)

	go func() {
		_, err := stream(ctx, braid.UserMessage(line), ch)
		close(ch)
		done <- err
	}()

	for chunk := range ch {
		fmt.Print(chunk)
	}
	fmt.Println()
	return <-done
}

// buildHistory constructs the configured chat history backend. A sqlite
// history reuses the knowledge base connection when both point at the
// same file, keeping a single writer on it.
func buildHistory(cfg config.Config, kb *sqlite.Store, logger *slog.Logger) (braid.ChatHistory, error) {
	switch cfg.History.Backend {
	case "", "memory":
		return braid.NewMemoryHistory(cfg.History.Window), nil
	case "file":
		path := cfg.History.Path
		if path == "" {
			path = "braid-history.jsonl"
		}
		return braid.NewFileHistory(path, cfg.History.Window), nil
	case "sqlite":
		path := cfg.History.Path
		if path == "" {
			path = "braid.db"
		}
		store := kb
		if store == nil || path != cfg.RAG.Path {
			store = sqlite.New(path, sqlite.WithLogger(logger))
		}
		return sqlite.NewHistory(store.DB(), "cli", cfg.History.Window,
			sqlite.WithHistoryLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}
