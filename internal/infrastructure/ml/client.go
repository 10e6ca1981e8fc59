package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/ports"
	"NewsIndexer/internal/retry"
)

const defaultUser = "news_indexer"

// Config describes a workflow endpoint (Dify-compatible API).
type Config struct {
	Endpoint string
	APIKey   string
	User     string
	Timeout  time.Duration
	Retry    retry.Policy
}

// Client scores articles through an external analysis workflow: the article
// is uploaded as a JSON document and the workflow runs in blocking mode.
type Client struct {
	endpoint string
	apiKey   string
	user     string
	retry    retry.Policy
	http     *http.Client
	sleep    retry.SleepFunc
	logger   *slog.Logger
}

var _ ports.Scorer = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	user := cfg.User
	if user == "" {
		user = defaultUser
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		user:     user,
		retry:    cfg.Retry,
		http:     &http.Client{Timeout: timeout},
		sleep:    retry.Sleep,
		logger:   log,
	}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// Score uploads the article and runs the workflow with the reader profile.
func (c *Client) Score(ctx context.Context, article domain.Article, profile domain.UserProfile) (domain.Score, error) {
	if c.endpoint == "" || c.apiKey == "" {
		return domain.Score{}, fmt.Errorf("workflow client misconfigured")
	}

	doc, err := json.Marshal(article)
	if err != nil {
		return domain.Score{}, fmt.Errorf("marshal article: %w", err)
	}
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return domain.Score{}, fmt.Errorf("marshal profile: %w", err)
	}

	var score domain.Score
	_, err = retry.Do(ctx, c.retry, c.sleep, func(ctx context.Context, attempt int) (retry.Outcome, error) {
		fileID, err := c.upload(ctx, article.ID+".json", doc)
		if err == nil {
			score, err = c.run(ctx, string(profileJSON), fileID)
		}
		outcome := classify(err)
		if outcome == retry.Retryable {
			c.debug("workflow attempt failed", "article_id", article.ID, "attempt", attempt, "error", err)
		}
		return outcome, err
	})
	if err != nil {
		return domain.Score{}, err
	}
	return score, nil
}

func classify(err error) retry.Outcome {
	if err == nil {
		return retry.Success
	}
	var se *statusError
	if errors.As(err, &se) {
		if se.status >= http.StatusInternalServerError || se.status == http.StatusTooManyRequests {
			return retry.Retryable
		}
		return retry.Fatal
	}
	if errors.Is(err, context.Canceled) {
		return retry.Fatal
	}
	var malformed *malformedError
	if errors.As(err, &malformed) {
		return retry.Fatal
	}
	return retry.Retryable
}

func (c *Client) upload(ctx context.Context, name string, doc []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("user", c.user); err != nil {
		return "", fmt.Errorf("write form: %w", err)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(doc); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/files/upload", w.FormDataContentType(), &body, &resp); err != nil {
		return "", fmt.Errorf("upload article: %w", err)
	}
	if resp.ID == "" {
		return "", &malformedError{msg: "upload response has no file id"}
	}
	return resp.ID, nil
}

func (c *Client) run(ctx context.Context, profileJSON, fileID string) (domain.Score, error) {
	payload := map[string]any{
		"user":          c.user,
		"response_mode": "blocking",
		"inputs": map[string]any{
			"userinput_prompt": profileJSON,
			"userinput_doc": map[string]string{
				"transfer_method": "local_file",
				"upload_file_id":  fileID,
				"type":            "document",
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Score{}, fmt.Errorf("marshal payload: %w", err)
	}

	var resp struct {
		Data struct {
			WorkflowRunID string          `json:"workflow_run_id"`
			Status        string          `json:"status"`
			Error         string          `json:"error"`
			Outputs       json.RawMessage `json:"outputs"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/workflows/run", "application/json", bytes.NewReader(body), &resp); err != nil {
		return domain.Score{}, fmt.Errorf("run workflow: %w", err)
	}
	if resp.Data.Status != "" && resp.Data.Status != "succeeded" {
		return domain.Score{}, fmt.Errorf("workflow %s %s: %s", resp.Data.WorkflowRunID, resp.Data.Status, resp.Data.Error)
	}
	return parseOutputs(resp.Data.Outputs)
}

type malformedError struct {
	msg string
}

func (e *malformedError) Error() string { return e.msg }

type workflowOutputs struct {
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	RelevanceScore  json.RawMessage `json:"relevance_score"`
	RelevanceReason string          `json:"relevance_reason"`
	Text            string          `json:"text"`
}

// parseOutputs accepts the outputs object directly or wrapped as a JSON
// string in outputs.text.
func parseOutputs(raw json.RawMessage) (domain.Score, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Score{}, &malformedError{msg: "workflow returned no outputs"}
	}

	var out workflowOutputs
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Score{}, &malformedError{msg: fmt.Sprintf("decode outputs: %v", err)}
	}
	if len(out.RelevanceScore) == 0 && out.Text != "" {
		text := strings.TrimSpace(out.Text)
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
		return parseOutputs(json.RawMessage(strings.TrimSpace(text)))
	}

	score, err := parseScore(out.RelevanceScore)
	if err != nil {
		return domain.Score{}, err
	}
	return domain.Score{RelevanceScore: score, Summary: out.Summary, Reason: out.RelevanceReason}, nil
}

func parseScore(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, &malformedError{msg: "outputs have no relevance_score"}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
	}
	return 0, &malformedError{msg: fmt.Sprintf("relevance_score %s is not a number", string(raw))}
}

func (c *Client) post(ctx context.Context, path, contentType string, payload io.Reader, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &malformedError{msg: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func (c *Client) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
