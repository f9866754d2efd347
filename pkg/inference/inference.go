// Package inference is the model transport: an OpenAI-compatible chat
// client that either returns a whole completion or a stream of text deltas.
//
// Streaming replies feed the sentence emitter; one-shot completions back
// the turn-taking classifier. Credentials come from a KeyRing, which
// rotates to the next key when the API rejects or throttles the current one.
//
//	keys, _ := inference.NewKeyRing(os.Getenv("OPENAI_API_KEY"))
//	client, _ := inference.NewClient(
//	    inference.WithKeyRing(keys),
//	    inference.WithModel("gpt-4o-mini"),
//	)
//	defer client.Close()
//
//	stream, _ := client.Stream(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{inference.NewUserMessage("Hello!")},
//	    Stop:     []string{"\nYou:"},
//	})
//	defer stream.Close()
package inference

import "context"

// Provider is the transport interface for chat completions.
type Provider interface {
	// Chat generates a complete response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream generates a response as a sequence of text deltas.
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a streaming response.
type Stream interface {
	// Recv returns the next chunk. A chunk with Done set ends the stream.
	Recv() (*StreamChunk, error)

	// Close stops the stream and releases resources.
	Close() error
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	// Delta is the incremental text content.
	Delta string

	// FinishReason indicates why generation stopped (stop, length).
	FinishReason string

	// Done is true when the stream is complete.
	Done bool
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation so far.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// Stop sequences that halt generation server-side.
	Stop []string

	// JSON asks for a JSON object response.
	JSON bool

	// SingleAttempt disables transport-level retries. Callers that run
	// their own retry budget set it.
	SingleAttempt bool
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Collect drains a stream into a single string.
func Collect(s Stream) (string, error) {
	defer s.Close()

	var out []byte
	for {
		chunk, err := s.Recv()
		if err != nil {
			return string(out), err
		}
		out = append(out, chunk.Delta...)
		if chunk.Done {
			return string(out), nil
		}
	}
}
