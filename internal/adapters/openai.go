package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"gogetter/internal/goals"
)

const planSystemPrompt = `You are an expert educational curriculum designer building personalised study plans
for school-age children. Generate a structured, age-appropriate study plan as one JSON object:
{
  "title": "short plan title",
  "overview": "2-3 paragraph summary",
  "weeks": [
    {
      "week_number": 1,
      "title": "string",
      "description": "week focus",
      "tasks": [
        {
          "day_of_week": 0,
          "sequence_in_day": 1,
          "title": "string",
          "description": "specific instructions for the student",
          "estimated_minutes": 30,
          "task_type": "reading|writing|math|practice|review|project|quiz|other",
          "xp_reward": 10,
          "is_optional": false
        }
      ]
    }
  ]
}
Rules:
- day_of_week: 0=Monday ... 6=Sunday
- Only schedule tasks on preferred study days
- estimated_minutes per day must fit within the daily study time
- xp_reward is roughly 1 XP per minute, max 60
- Output ONLY the JSON object, no markdown fences, no extra fields`

const enrichSystemPrompt = `You are an educational planning advisor helping a parent or teacher understand
feasibility issues with a study plan. For each issue listed, write one friendly sentence (max 30 words)
explaining the problem and suggesting how to fix it. Return ONLY a JSON array of strings, one per issue,
in the same order. No markdown, no extra text.`

const draftAttempts = 3

var dayNames = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// OpenAI drafts plans and explains risks through a chat completion API.
// Every call waits on a shared rate limiter.
type OpenAI struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAI builds a client. An empty model defaults to gpt-4o-mini.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("llm model not set, defaulting", "model", model)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	logger.Info("initializing llm client", "model", model, "base_url", clientCfg.BaseURL)
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (o *OpenAI) Name() string {
	return "openai"
}

// Draft asks the model for a plan, retrying only when the response cannot
// be parsed. API errors are returned immediately.
func (o *OpenAI) Draft(ctx context.Context, req DraftRequest) (*Draft, error) {
	prompt := buildPlanPrompt(req)
	var lastErr error
	for attempt := 1; attempt <= draftAttempts; attempt++ {
		content, err := o.complete(ctx, planSystemPrompt, prompt, 0.3, 8192)
		if err != nil {
			return nil, err
		}
		draft, err := ParseDraft([]byte(content))
		if err == nil {
			return draft, nil
		}
		lastErr = err
		o.logger.Warn("plan draft parse failed", "target_id", req.Target.ID, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("llm returned an invalid plan after %d attempts: %w", draftAttempts, lastErr)
}

// Explain returns one explanation per risk in a single call.
func (o *OpenAI) Explain(ctx context.Context, risks []goals.Risk) ([]string, error) {
	if len(risks) == 0 {
		return nil, nil
	}
	type item struct {
		Code    goals.RiskCode  `json:"rule_code"`
		Level   goals.RiskLevel `json:"level"`
		Message string          `json:"detail"`
	}
	items := make([]item, 0, len(risks))
	for _, r := range risks {
		items = append(items, item{Code: r.Code, Level: r.Level, Message: r.Message})
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal risks: %w", err)
	}
	content, err := o.complete(ctx, enrichSystemPrompt, string(payload), 0.3, 512)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(trimmedJSON(content), &out); err != nil {
		return nil, fmt.Errorf("parse explanations: %w", err)
	}
	return out, nil
}

func (o *OpenAI) complete(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature:         temperature,
		MaxCompletionTokens: maxTokens,
	})
	if err != nil {
		o.logger.Error("llm call failed", "model", o.model, "error", err)
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	o.logger.Debug("llm response received", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func buildPlanPrompt(req DraftRequest) string {
	days := append([]int(nil), req.PreferredDays...)
	sort.Ints(days)
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(dayNames) {
			names = append(names, dayNames[d])
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Go Getter: %s (Grade %s)\n", req.GoGetterName, req.Grade)
	fmt.Fprintf(&b, "Subject: %s\n", req.Target.Subject)
	fmt.Fprintf(&b, "Learning goal: %s\n", req.Target.Title)
	fmt.Fprintf(&b, "Description: %s\n", req.Target.Description)
	fmt.Fprintf(&b, "Study period: %s to %s (%d week(s))\n",
		req.Start.Format(goals.DateLayout), req.End.Format(goals.DateLayout), req.TotalWeeks())
	fmt.Fprintf(&b, "Daily study time available: %d minutes\n", req.DailyMinutes)
	fmt.Fprintf(&b, "Preferred study days: %s\n", strings.Join(names, ", "))
	if req.ExtraInstructions != "" {
		fmt.Fprintf(&b, "Extra instructions: %s\n", req.ExtraInstructions)
	}
	return b.String()
}

func trimmedJSON(content string) []byte {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}
