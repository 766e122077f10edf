package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nycquery_service/internal/domain/catalog"
	"nycquery_service/internal/domain/model"
)

func newTestClient(t *testing.T, reply string, capture *openai.ChatCompletionRequest) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if capture != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:      "chatcmpl-test",
			Object:  "chat.completion",
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: reply}}},
			Usage:   openai.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
		})
	}))
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}, catalog.Default(), nil)
	require.NoError(t, err)
	return c
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(Config{}, catalog.Default(), nil)
	assert.Error(t, err)
}

func TestClassifyModeParsesLabelAndUsage(t *testing.T) {
	var req openai.ChatCompletionRequest
	c := newTestClient(t, `{"mode":"compare"}`, &req)

	d, err := c.ClassifyMode(context.Background(), "compare Manhattan and Brooklyn heights")
	require.NoError(t, err)
	assert.Equal(t, "compare", d.Label)
	assert.Equal(t, &model.Usage{Total: 150, Input: 120, Output: 30}, d.Usage)

	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
}

func TestClassifyModeKeepsUsageOnBadOutput(t *testing.T) {
	c := newTestClient(t, "analyze, probably", nil)

	d, err := c.ClassifyMode(context.Background(), "how tall are buildings in midtown")
	require.Error(t, err)
	assert.Equal(t, model.ErrOutputFormat, model.CodeOf(err))
	require.NotNil(t, d.Usage)
	assert.Equal(t, 150, d.Usage.Total)
}

func TestGeneratePlanSendsSchemaAndHistory(t *testing.T) {
	var req openai.ChatCompletionRequest
	c := newTestClient(t, `{"column":"heightroof"}`, &req)

	history := []model.Turn{
		{Role: "user", Content: "tallest buildings in midtown"},
		{Role: "assistant", Content: "Midtown buildings average 410 ft."},
	}
	raw, err := c.GeneratePlan(context.Background(), model.ModeAnalyze, "and in chelsea?", history)
	require.NoError(t, err)
	assert.Equal(t, `{"column":"heightroof"}`, raw.Text)
	assert.Equal(t, 150, raw.Usage.Total)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
	assert.Contains(t, req.Messages[3].Content, "heightroof")
	assert.Contains(t, req.Messages[3].Content, "and in chelsea?")
}

func TestGeneratePlanUnknownMode(t *testing.T) {
	c := newTestClient(t, "{}", nil)
	_, err := c.GeneratePlan(context.Background(), model.Mode("forecast"), "q", nil)
	assert.Error(t, err)
}

func TestExplainSendsSummaryAsPlainText(t *testing.T) {
	var req openai.ChatCompletionRequest
	c := newTestClient(t, "  Buildings in Manhattan are tall.  ", &req)

	mean := 410.0
	text, err := c.Explain(context.Background(), model.ExplainRequest{
		Query:   "how tall?",
		Mode:    model.ModeAnalyze,
		Column:  "heightroof",
		Region:  model.Region{Scale: model.ScaleBorough, Code: 1},
		Summary: &model.Summary{Dtype: model.DtypeNumeric, Count: 3, Mean: &mean},
	})
	require.NoError(t, err)
	assert.Equal(t, "Buildings in Manhattan are tall.", text)
	assert.Nil(t, req.ResponseFormat)
	assert.Contains(t, req.Messages[1].Content, "Region: 1")
	assert.Contains(t, req.Messages[1].Content, `"mean":410`)
}

func TestCompleteReportsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL + "/v1", Timeout: time.Second}, catalog.Default(), nil)
	require.NoError(t, err)
	d, err := c.ClassifyMode(context.Background(), "q")
	assert.Error(t, err)
	assert.Nil(t, d.Usage)
}
