// Package braid is a framework for building LLM agents in Go.
//
// It provides modular, interface-driven building blocks: chat providers,
// embedding providers, vector storage, a tool execution system, retrieval
// augmented generation, and a resumable workflow engine.
//
// # Quick Start
//
// Create an agent and talk to it:
//
//	llm := openaicompat.NewOpenAI(apiKey, "gpt-4o-mini")
//
//	agent := braid.NewAgent("assistant", llm,
//		braid.WithInstructions("You are a helpful assistant."),
//		braid.WithTools(httptool.New()),
//	)
//
//	resp, err := agent.Chat(ctx, braid.UserMessage("What's the weather like?"))
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] - LLM backend (chat, tool calling, streaming, structured output)
//   - [EmbeddingProvider] - text-to-vector embedding
//   - [VectorStore] - document storage with similarity search
//   - [ChatHistory] - conversation memory with a bounded context window
//   - [Tool] - pluggable capability for LLM function calling
//   - [Observer] - lifecycle event subscriber
//   - [Node], [WorkflowPersistence] - workflow units and interrupt snapshots
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI, Deepseek, Mistral, any
// OpenAI-compatible API), provider/anthropic, provider/gemini,
// provider/ollama. Storage: store/sqlite (local), store/postgres
// (pgvector-style search over pgx). Tools: tools/http, tools/file,
// tools/knowledge.
//
// See the cmd/braid directory for a complete reference application.
package braid
