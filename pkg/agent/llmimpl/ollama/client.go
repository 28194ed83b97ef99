// Package ollama provides the local Ollama client implementation for the
// LLM interface.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"codecrew/pkg/agent/llm"
	"codecrew/pkg/agent/llmerrors"
)

// Client wraps the Ollama API client to implement llm.Client.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a client talking to a local Ollama server. host may be
// empty, in which case the default http://localhost:11434 is used.
func NewClient(host, model string) (llm.Client, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return &Client{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

// Complete implements the llm.Client interface. Streaming is disabled; the
// full response arrives in a single callback invocation.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": float64(in.Temperature),
			"num_predict": in.MaxTokens,
		},
	}

	var content strings.Builder
	var doneReason string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			doneReason = resp.DoneReason
		}
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	if content.Len() == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from ollama")
	}

	return llm.CompletionResponse{
		Content:    content.String(),
		StopReason: doneReason,
	}, nil
}

// ModelName returns the model identifier for this client.
func (c *Client) ModelName() string {
	return c.model
}

// classifyError maps Ollama client errors to structured error types. A
// local server that is not running surfaces as a connection refusal.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 404:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, statusErr.StatusCode, "model not found - pull it first")
		case 500, 502, 503:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, statusErr.StatusCode, "ollama server error")
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "ollama server unreachable")
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "eof"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	}

	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
}
