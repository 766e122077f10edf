package llmclient

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"nycquery_service/internal/domain/catalog"
	"nycquery_service/internal/domain/model"
)

const modeSystemPrompt = "Classify into: analyze, search, compare. " +
	"analyze: user specifies a neighborhood-scale region (any sub-borough area, even if name is not exact). " +
	"search: user mentions only borough or city-level area, or gives no region. " +
	"compare: user mentions two distinct regions. " +
	`Return JSON only: {"mode":"..."}.`

const analyzeSystemPrompt = "Map the query to PostgreSQL tables buildings and street_block. " +
	`Return JSON: {"column","dtype","scale","region","table","filters"}. ` +
	`dtype ∈ ["numeric","categorical","boolean"], based on the schema. ` +
	`scale ∈ ["city","borough","large_n"]. ` +
	`If scale="city": region=null and no region filter. ` +
	`If scale="borough": region is borocode (int) and filters must include ["borocode","=",region]. ` +
	`If scale="large_n": region is large_n (str) and filters must include ["large_n","=",region]. ` +
	`table="street_block" when scale in ["city","borough"], else "buildings". ` +
	"column must exist in the chosen table and match its dtype. " +
	"filters is a list of [column, op, value] with op in =, >, <, >=, <=, using only columns from the chosen table. " +
	`Use "NO_MATCH" when unsure. ` +
	"Respond with JSON only."

const searchSystemPrompt = "The user wants to find which region ranks highest or lowest on some measure. " +
	`Return JSON: {"column_block","column_region","dtype_block","dtype_region","scale","analysis","order"}. ` +
	"column_block is a numeric column of street_block used to rank regions. " +
	"column_region is the matching column of buildings shown for the winning region. " +
	`scale ∈ ["borough","large_n"]: borough when regions are boroughs, large_n when they are neighborhoods. ` +
	`analysis ∈ ["min","max","mean","median"] is how block values are combined per region. ` +
	`order ∈ ["ascending","descending"]; descending when the user asks for the highest. ` +
	`Use "NO_MATCH" for a column when unsure. ` +
	"Respond with JSON only."

const compareSystemPrompt = "The user wants to compare two regions. " +
	`Return JSON: {"column","dtype","scale","region1","region2","table","filters"}. ` +
	`scale ∈ ["borough","large_n"]. ` +
	"If scale=\"borough\": region1 and region2 are borocodes (int). " +
	"If scale=\"large_n\": region1 and region2 are large_n names (str). " +
	`table="street_block" when scale="borough", else "buildings". ` +
	"column must exist in the chosen table and match its dtype. " +
	"filters is a list of [column, op, value] with op in =, >, <, >=, <=; do not add region filters. " +
	`Use "NO_MATCH" when unsure. ` +
	"Respond with JSON only."

const explainSystemPrompt = "You are an urban data analyst and helpful conversational assistant. " +
	"Answer the user's question in natural language using both your own knowledge " +
	"and the numeric summary provided. " +
	"Treat the JSON summary as ground truth about the data and describe patterns, " +
	"typical ranges, and extremes clearly. " +
	"Answer the question directly; do NOT talk about JSON, columns, or field names, " +
	"and do NOT suggest making plots or further analyses unless the user explicitly asks. " +
	"When the user asks to 'show' a distribution, describe its shape in words. " +
	"Write concise, well-structured English in about 70 words ±20, using short paragraphs or bullet points. " +
	"If region is a number, it is a NYC borocode; convert it to the corresponding borough name in your explanation."

func modeMessages(query string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: modeSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: query},
	}
}

func planMessages(cat *catalog.Catalog, mode model.Mode, query string, history []model.Turn) ([]openai.ChatCompletionMessage, error) {
	var system string
	switch mode {
	case model.ModeAnalyze:
		system = analyzeSystemPrompt
	case model.ModeSearch:
		system = searchSystemPrompt
	case model.ModeCompare:
		system = compareSystemPrompt
	default:
		return nil, fmt.Errorf("no plan prompt for mode %q", mode)
	}

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: system}}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf("Schema:\n%s\n\nQuery:\n%s", cat.SchemaText(), query),
	})
	return msgs, nil
}

func explainMessages(req model.ExplainRequest) ([]openai.ChatCompletionMessage, error) {
	summary, err := json.Marshal(req.Summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	user := fmt.Sprintf("User question:\n%s\n\nRegion: %s\n\n"+
		"Below are precomputed summary statistics from the relevant dataset, in JSON format. "+
		"Use these numbers as factual evidence when answering, but do not mention JSON, keys, or field names explicitly:\n%s",
		req.Query, req.Region, summary)
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: explainSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}, nil
}
