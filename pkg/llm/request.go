package llm

// ChatRequest represents a chat completion request (OpenAI-compatible).
type ChatRequest struct {
	Model    string    `json:"model"`    // Model name (e.g., "gpt-3.5-turbo")
	Messages []Message `json:"messages"` // System persona followed by user content
}
