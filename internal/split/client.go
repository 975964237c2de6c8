// Package split calls the external language-processing service that
// divides a full personal name into family and given components.
package split

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/seimei-ai/seimei/pkg/credits"
)

const systemPrompt = "You are a personal-name processing system. " +
	"Split the full name you receive into its family name and given name. " +
	`Respond with JSON of the exact shape {"last_name": "...", "first_name": "..."} and nothing else.`

// Config holds the Azure OpenAI connection settings.
type Config struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

// Validate checks the required connection settings.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return fmt.Errorf("split: endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fmt.Errorf("split: api key is required")
	}
	if strings.TrimSpace(cfg.Deployment) == "" {
		return fmt.Errorf("split: deployment is required")
	}
	return nil
}

// Client implements credits.NameSplitter over the chat-completions API.
type Client struct {
	api        *openai.Client
	deployment string
}

// NewClient builds a Client from validated configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if strings.TrimSpace(cfg.APIVersion) != "" {
		clientConfig.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Deployment
	clientConfig.AzureModelMapperFunc = func(string) string { return deployment }
	return &Client{
		api:        openai.NewClientWithConfig(clientConfig),
		deployment: deployment,
	}, nil
}

type splitPayload struct {
	LastName  string `json:"last_name"`
	FirstName string `json:"first_name"`
}

// SplitName sends one completion request and parses the structured
// result. A missing or blank field is reported as a malformed result,
// never propagated as a partial success.
func (client *Client) SplitName(ctx context.Context, fullName string) (credits.SplitName, error) {
	response, err := client.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: client.deployment,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fullName},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return credits.SplitName{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return credits.SplitName{}, fmt.Errorf("%w: no choices", credits.ErrUpstreamMalformed)
	}
	return parseSplitPayload(response.Choices[0].Message.Content)
}

func parseSplitPayload(content string) (credits.SplitName, error) {
	var payload splitPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return credits.SplitName{}, fmt.Errorf("%w: %v", credits.ErrUpstreamMalformed, err)
	}
	if strings.TrimSpace(payload.LastName) == "" || strings.TrimSpace(payload.FirstName) == "" {
		return credits.SplitName{}, fmt.Errorf("%w: blank name component", credits.ErrUpstreamMalformed)
	}
	return credits.SplitName{
		FamilyName: payload.LastName,
		GivenName:  payload.FirstName,
	}, nil
}
