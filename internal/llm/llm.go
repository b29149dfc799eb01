// Package llm declares the contract this core expects from a local
// inference runtime. The core never implements model loading or token
// generation itself (spec.md §1 out-of-scope list) — it only calls
// Runtime the way the AI persona layer needs to, e.g. to draft a reply
// before handing it to the Topic & Group Manager as an ordinary
// ChatMessage append.
package llm

import "context"

// Message is one turn of a chat-style prompt, independent of any
// particular model's wire format.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// ModelInfo describes one model the runtime can serve.
type ModelInfo struct {
	Name        string
	Description string
}

// Runtime is the collaborator contract a local LLM process implements.
// The core depends only on this interface; a real implementation lives
// outside this module entirely.
type Runtime interface {
	// Chat streams generated tokens for messages on model, writing each
	// token to the returned channel in order and closing it when done or
	// when ctx is cancelled.
	Chat(ctx context.Context, model string, messages []Message) (<-chan string, error)

	// ListModels returns the runtime's currently loaded/available models.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
