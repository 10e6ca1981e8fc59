package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NewsIndexer/internal/config"
	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/ports"
	"NewsIndexer/internal/retry"
)

const maxPromptContentRunes = 6000

const defaultSystemPrompt = `You rate campus news for one reader. Reply with a JSON object:
{"relevance_score": number from 0 to 10, "summary": "two sentences", "reason": "why it matters to the reader"}.`

// ChatGPTClient scores articles with an OpenAI-compatible chat completion API.
type ChatGPTClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	retry        retry.Policy
	sleep        retry.SleepFunc
	httpClient   *http.Client
}

var _ ports.Scorer = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.ChatGPTConfig) *ChatGPTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatGPTClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		retry:        cfg.Retry,
		sleep:        retry.Sleep,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type scoreReply struct {
	RelevanceScore float64 `json:"relevance_score"`
	Summary        string  `json:"summary"`
	Reason         string  `json:"reason"`
}

// Score asks the model to rate article for profile.
func (c *ChatGPTClient) Score(ctx context.Context, article domain.Article, profile domain.UserProfile) (domain.Score, error) {
	if c == nil {
		return domain.Score{}, fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Score{}, fmt.Errorf("chatgpt client misconfigured")
	}

	userMessage, err := buildUserMessage(article, profile)
	if err != nil {
		return domain.Score{}, err
	}
	body, err := json.Marshal(map[string]any{
		"model":           c.model,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": userMessage},
		},
	})
	if err != nil {
		return domain.Score{}, fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	var score domain.Score
	_, err = retry.Do(ctx, c.retry, c.sleep, func(ctx context.Context, _ int) (retry.Outcome, error) {
		got, outcome, attemptErr := c.complete(ctx, body)
		if outcome == retry.Success {
			score = got
		}
		return outcome, attemptErr
	})
	if err != nil {
		return domain.Score{}, err
	}
	return score, nil
}

func (c *ChatGPTClient) complete(ctx context.Context, body []byte) (domain.Score, retry.Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Score{}, retry.Fatal, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Score{}, retry.Fatal, ctx.Err()
		}
		return domain.Score{}, retry.Retryable, fmt.Errorf("send completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return domain.Score{}, retry.Retryable, err
		}
		return domain.Score{}, retry.Fatal, err
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Score{}, retry.Fatal, fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return domain.Score{}, retry.Fatal, fmt.Errorf("completion has no choices")
	}

	var reply scoreReply
	if err := json.Unmarshal([]byte(stripFence(parsed.Choices[0].Message.Content)), &reply); err != nil {
		return domain.Score{}, retry.Fatal, fmt.Errorf("decode score reply: %w", err)
	}
	return domain.Score{RelevanceScore: reply.RelevanceScore, Summary: reply.Summary, Reason: reply.Reason}, retry.Success, nil
}

func buildUserMessage(article domain.Article, profile domain.UserProfile) (string, error) {
	content := []rune(article.Content)
	if len(content) > maxPromptContentRunes {
		content = content[:maxPromptContentRunes]
	}
	payload, err := json.Marshal(map[string]any{
		"profile": profile,
		"article": map[string]string{
			"title":        article.Title,
			"department":   article.Department,
			"category":     article.Category,
			"publish_time": article.PublishTime,
			"content":      string(content),
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}
	return string(payload), nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}
