package backend

import "context"

// Kind identifies which class of inference backend served a request.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Params tunes a single completion call.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Backend abstracts an inference backend. The routing engine treats local
// and remote implementations as interchangeable; they differ only in
// latency, cost, and availability surfaced via Healthy.
type Backend interface {
	// Complete sends the prompt to the backend and returns the response text.
	Complete(ctx context.Context, prompt string, p Params) (string, error)

	// Healthy reports whether the backend is currently reachable.
	Healthy(ctx context.Context) bool

	// Kind returns which class of backend this is.
	Kind() Kind
}

// Message represents a chat message in the wire format both backends share.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
