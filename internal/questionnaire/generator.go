package questionnaire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/practicepulse/careprep-platform/internal/intake"
	"github.com/practicepulse/careprep-platform/internal/observability/metrics"
	"github.com/practicepulse/careprep-platform/pkg/logging"
)

// ErrGenerationFailed marks upstream generation failures so handlers can map
// them to a gateway error instead of a server fault.
var ErrGenerationFailed = errors.New("questionnaire: generation failed")

const (
	defaultMaxQuestions = 8
	scaleMin            = 1
	scaleMax            = 10
)

// Generator produces the symptom question set for a chief complaint.
type Generator interface {
	Generate(ctx context.Context, chiefComplaint string) ([]intake.GeneratedQuestion, error)
}

// LLMGenerator asks an LLM for a questionnaire and normalizes whatever comes
// back into the closed question-type set the form can render.
type LLMGenerator struct {
	llm          LLMClient
	modelID      string
	maxQuestions int
	timeout      time.Duration
	metrics      *metrics.IntakeMetrics
	logger       *logging.Logger
}

// LLMGeneratorConfig wires the generator. Metrics is optional.
type LLMGeneratorConfig struct {
	LLM          LLMClient
	ModelID      string
	MaxQuestions int
	Timeout      time.Duration
	Metrics      *metrics.IntakeMetrics
	Logger       *logging.Logger
}

func NewLLMGenerator(cfg LLMGeneratorConfig) *LLMGenerator {
	if cfg.LLM == nil {
		panic("questionnaire: llm client required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	maxQuestions := cfg.MaxQuestions
	if maxQuestions <= 0 {
		maxQuestions = defaultMaxQuestions
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLMGenerator{
		llm:          cfg.LLM,
		modelID:      cfg.ModelID,
		maxQuestions: maxQuestions,
		timeout:      timeout,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

var _ Generator = (*LLMGenerator)(nil)

const generationSystemPrompt = `You write short pre-visit symptom questionnaires for a medical intake form.
Given a patient's chief complaint, produce follow-up questions a clinician would want answered before the visit.
Respond with ONLY a JSON object of the form:
{"questions":[{"id":"string","type":"scale|select|text|boolean","text":"string","options":["..."],"min_value":1,"max_value":10}]}
Rules:
- "options" only for select questions, with at least two choices.
- "min_value"/"max_value" only for scale questions.
- Questions must be answerable by the patient, without medical jargon.
- Never ask for information the intake already has (name, appointment, medications, allergies).`

// Generate produces up to maxQuestions normalized questions for the complaint.
func (g *LLMGenerator) Generate(ctx context.Context, chiefComplaint string) ([]intake.GeneratedQuestion, error) {
	chiefComplaint = strings.TrimSpace(chiefComplaint)
	if chiefComplaint == "" {
		return nil, errors.New("questionnaire: chief complaint is required")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.llm.Complete(ctx, LLMRequest{
		Model:  g.modelID,
		System: []string{generationSystemPrompt},
		Messages: []ChatMessage{{
			Role:    ChatRoleUser,
			Content: fmt.Sprintf("Chief complaint: %s\nGenerate at most %d questions.", chiefComplaint, g.maxQuestions),
		}},
		MaxTokens:   2048,
		Temperature: 0.3,
	})
	if err != nil {
		g.metrics.ObserveGeneration("llm", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	questions, err := parseQuestions(resp.Text)
	if err != nil {
		g.metrics.ObserveGeneration("llm", "parse_error", time.Since(start).Seconds())
		g.logger.Warn("questionnaire: unparseable generation output", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	normalized := normalizeQuestions(questions, g.maxQuestions)
	if len(normalized) == 0 {
		g.metrics.ObserveGeneration("llm", "empty", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: model returned no usable questions", ErrGenerationFailed)
	}

	g.metrics.ObserveGeneration("llm", "ok", time.Since(start).Seconds())
	return normalized, nil
}

// rawQuestion mirrors the model's output before normalization. Type stays a
// free string here; unknown values degrade to text questions.
type rawQuestion struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Text     string   `json:"text"`
	Options  []string `json:"options"`
	MinValue *int     `json:"min_value"`
	MaxValue *int     `json:"max_value"`
}

func parseQuestions(text string) ([]rawQuestion, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in model output")
	}

	var envelope struct {
		Questions []rawQuestion `json:"questions"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &envelope); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	return envelope.Questions, nil
}

// normalizeQuestions enforces the closed type set: unknown types become text,
// scale bounds default to 1..10, and selects without at least two options
// degrade to text. Questions without text are dropped.
func normalizeQuestions(raw []rawQuestion, maxQuestions int) []intake.GeneratedQuestion {
	out := make([]intake.GeneratedQuestion, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, rq := range raw {
		if len(out) >= maxQuestions {
			break
		}
		text := strings.TrimSpace(rq.Text)
		if text == "" {
			continue
		}

		q := intake.GeneratedQuestion{
			ID:   strings.TrimSpace(rq.ID),
			Type: intake.NormalizeQuestionType(rq.Type),
			Text: text,
		}
		if q.ID == "" || seen[q.ID] {
			q.ID = uuid.NewString()
		}
		seen[q.ID] = true

		switch q.Type {
		case intake.QuestionScale:
			q.MinValue, q.MaxValue = scaleBounds(rq.MinValue, rq.MaxValue)
		case intake.QuestionSelect:
			options := trimOptions(rq.Options)
			if len(options) < 2 {
				q.Type = intake.QuestionText
			} else {
				q.Options = options
			}
		}

		out = append(out, q)
	}
	return out
}

func scaleBounds(minValue, maxValue *int) (int, int) {
	lo, hi := scaleMin, scaleMax
	if minValue != nil {
		lo = *minValue
	}
	if maxValue != nil {
		hi = *maxValue
	}
	if lo < scaleMin {
		lo = scaleMin
	}
	if hi > scaleMax {
		hi = scaleMax
	}
	if hi <= lo {
		lo, hi = scaleMin, scaleMax
	}
	return lo, hi
}

func trimOptions(options []string) []string {
	kept := make([]string, 0, len(options))
	for _, opt := range options {
		if opt = strings.TrimSpace(opt); opt != "" {
			kept = append(kept, opt)
		}
	}
	return kept
}

// StaticGenerator returns a fixed general-purpose question set. It backs the
// form when no LLM is configured and local development.
type StaticGenerator struct{}

var _ Generator = (*StaticGenerator)(nil)

func (StaticGenerator) Generate(_ context.Context, chiefComplaint string) ([]intake.GeneratedQuestion, error) {
	chiefComplaint = strings.TrimSpace(chiefComplaint)
	if chiefComplaint == "" {
		return nil, errors.New("questionnaire: chief complaint is required")
	}
	return []intake.GeneratedQuestion{
		{
			ID:       "severity",
			Type:     intake.QuestionScale,
			Text:     fmt.Sprintf("On a scale of %d to %d, how severe is the %s right now?", scaleMin, scaleMax, chiefComplaint),
			MinValue: scaleMin,
			MaxValue: scaleMax,
		},
		{
			ID:      "duration",
			Type:    intake.QuestionSelect,
			Text:    "How long have you had this?",
			Options: []string{"Less than a day", "A few days", "About a week", "More than a week"},
		},
		{
			ID:   "worse",
			Type: intake.QuestionBoolean,
			Text: "Is it getting worse?",
		},
		{
			ID:   "details",
			Type: intake.QuestionText,
			Text: "Is there anything else about it you want your provider to know?",
		},
	}, nil
}
