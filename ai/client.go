// Package ai generates live-room comments through an OpenAI-compatible chat
// completion endpoint (DeepSeek by default).
package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/nikshitha/douyin-live-helper/comment"
	"github.com/nikshitha/douyin-live-helper/config"
	"github.com/nikshitha/douyin-live-helper/logger"
)

// ErrNoAPIKey is returned by NewClient when no key is configured
var ErrNoAPIKey = errors.New("ai: api key not configured")

// Client implements comment.Generator
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *logger.Logger
}

var _ comment.Generator = (*Client)(nil)

// NewClient creates a client from the AI config section
func NewClient(cfg config.AIConfig, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		logger:      log.WithModule("ai"),
	}, nil
}

// Generate asks the model for one comment. The caller sanitises the output.
func (c *Client) Generate(ctx context.Context, req comment.Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", comment.ErrEmptyGeneration
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.WithFields(map[string]interface{}{
		"model":    c.model,
		"tokens":   resp.Usage.TotalTokens,
		"duration": time.Since(start).String(),
	}).Debug("Comment generated")
	return text, nil
}

// buildMessages puts the persona prompt in the system message and the page
// state in the user message
func buildMessages(req comment.Request) []openai.ChatCompletionMessage {
	system := req.Prompt
	if req.MaxLength > 0 {
		system += fmt.Sprintf("\n弹幕长度不超过%d个字。", req.MaxLength)
	}

	var user strings.Builder
	if req.PageContext != "" {
		user.WriteString("直播间页面文字：\n")
		user.WriteString(req.PageContext)
		user.WriteString("\n")
	}
	if len(req.Recent) > 0 {
		user.WriteString("最近已发送的弹幕（不要重复）：\n")
		for _, r := range req.Recent {
			user.WriteString("- ")
			user.WriteString(r)
			user.WriteString("\n")
		}
	}
	if user.Len() == 0 {
		user.WriteString("请生成一条弹幕。")
	}

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: system}}
	if len(req.Screenshot) == 0 {
		return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user.String()})
	}

	return append(msgs, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: user.String()},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Screenshot),
					Detail: openai.ImageURLDetailLow,
				},
			},
		},
	})
}
