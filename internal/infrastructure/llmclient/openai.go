package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"nycquery_service/internal/domain/catalog"
	"nycquery_service/internal/domain/model"
)

// Config holds the inference endpoint settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	ExplainModel string
	Timeout      time.Duration
}

// OpenAIClient classifies queries, generates plans and writes explanations
// through the chat completions API.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	explainModel string
	cat          *catalog.Catalog
	log          *zap.Logger
}

func NewOpenAIClient(cfg Config, cat *catalog.Catalog, log *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.ExplainModel == "" {
		cfg.ExplainModel = cfg.Model
	}
	if log == nil {
		log = zap.NewNop()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	log.Info("initializing openai client", zap.String("model", cfg.Model), zap.String("explain_model", cfg.ExplainModel))
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(oc),
		model:        cfg.Model,
		explainModel: cfg.ExplainModel,
		cat:          cat,
		log:          log,
	}, nil
}

func (c *OpenAIClient) complete(ctx context.Context, modelName string, msgs []openai.ChatCompletionMessage, jsonOut bool) (string, *model.Usage, error) {
	req := openai.ChatCompletionRequest{Model: modelName, Messages: msgs}
	if jsonOut {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	usage := &model.Usage{
		Total:  resp.Usage.TotalTokens,
		Input:  resp.Usage.PromptTokens,
		Output: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("openai returned no choices")
	}
	c.log.Debug("openai completion", zap.String("model", modelName),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)), zap.Int("tokens", usage.Total))
	return strings.TrimSpace(resp.Choices[0].Message.Content), usage, nil
}

// ClassifyMode implements model.ModeClassifier.
func (c *OpenAIClient) ClassifyMode(ctx context.Context, query string) (model.ModeDecision, error) {
	text, usage, err := c.complete(ctx, c.model, modeMessages(query), true)
	decision := model.ModeDecision{Usage: usage}
	if err != nil {
		return decision, err
	}

	var out struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return decision, model.Errorf(model.ErrOutputFormat, "mode output is not JSON: %v", err)
	}
	decision.Label = out.Mode
	return decision, nil
}

// GeneratePlan implements model.PlanGenerator. The returned text is not
// parsed here.
func (c *OpenAIClient) GeneratePlan(ctx context.Context, mode model.Mode, query string, history []model.Turn) (model.RawPlan, error) {
	msgs, err := planMessages(c.cat, mode, query, history)
	if err != nil {
		return model.RawPlan{}, err
	}
	text, usage, err := c.complete(ctx, c.model, msgs, true)
	return model.RawPlan{Text: text, Usage: usage}, err
}

// Explain implements model.Explainer.
func (c *OpenAIClient) Explain(ctx context.Context, req model.ExplainRequest) (string, error) {
	msgs, err := explainMessages(req)
	if err != nil {
		return "", err
	}
	text, _, err := c.complete(ctx, c.explainModel, msgs, false)
	return text, err
}
