// Package contract defines the provider-neutral completion types the model
// router speaks. Agent runs and planning only need text completions and
// embeddings; tool execution happens upstream, so there is no function
// calling surface.
package contract

// Message roles follow the chat convention ("system", "user", "assistant");
// providers translate to their native shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"maxTokens,omitempty"`
}

type CompletionResponse struct {
	Content string `json:"content"`
}
