// Package eval measures answer quality with an LLM judge, scoring each answer
// for faithfulness to the retrieved context and relevancy to the question.
package eval

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/langdocs/ragchat/log"
	"github.com/langdocs/ragchat/pipeline"
)

const (
	judgeTemperature = 0.0
	judgeMaxTokens   = 100
)

const judgeSystemPrompt = `You are a strict evaluator of question answering quality.
Respond with a single JSON object of the form {"score": x} where x is a number
between 0.0 and 1.0. Do not include any other text.`

// Question is one entry of an evaluation test set. GroundTruth is the optional
// reference answer some test sets carry.
type Question struct {
	Question    string `json:"question"`
	GroundTruth string `json:"ground_truth,omitempty"`
}

// LoadQuestions reads an evaluation test set from a JSON file holding an array
// of {"question": ..., "ground_truth": ...} objects.
func LoadQuestions(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test set: %w", err)
	}

	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("failed to parse test set: %w", err)
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Question) == "" {
			return nil, fmt.Errorf("test set entry %d has no question", i+1)
		}
	}

	return questions, nil
}

// Result holds the scores for one evaluated question.
type Result struct {
	Question     string
	Answer       string
	Faithfulness float64
	Relevancy    float64
	Sources      []string
	Latency      time.Duration
}

// Report aggregates one evaluation run.
type Report struct {
	RunID            string
	Results          []Result
	MeanFaithfulness float64
	MeanRelevancy    float64
}

// WriteCSV writes a header plus one row per evaluated question.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"question", "answer", "faithfulness", "relevancy", "sources", "latency_ms"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, result := range r.Results {
		row := []string{
			result.Question,
			result.Answer,
			strconv.FormatFloat(result.Faithfulness, 'f', 4, 64),
			strconv.FormatFloat(result.Relevancy, 'f', 4, 64),
			strings.Join(result.Sources, "; "),
			strconv.FormatInt(result.Latency.Milliseconds(), 10),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Answerer produces the answers under evaluation. *pipeline.AnswerPipeline
// implements it.
type Answerer interface {
	Ask(ctx context.Context, question string) (*pipeline.Answer, error)
}

// Evaluator runs a test set through an answering pipeline and scores each
// answer with a judge model.
type Evaluator struct {
	pipeline Answerer
	judge    llms.Model
	logger   log.Logger
}

// NewEvaluator builds an evaluator around an answering pipeline and a judge.
func NewEvaluator(pipeline Answerer, judge llms.Model) (*Evaluator, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if judge == nil {
		return nil, fmt.Errorf("judge model is required")
	}

	return &Evaluator{
		pipeline: pipeline,
		judge:    judge,
		logger:   log.GetDefaultLogger(),
	}, nil
}

// SetLogger replaces the evaluator logger.
func (e *Evaluator) SetLogger(logger log.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Run evaluates every question and returns the scored report. A failing
// question is recorded with zero scores and the run continues; only context
// cancellation aborts the run.
func (e *Evaluator) Run(ctx context.Context, questions []Question) (*Report, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions to evaluate")
	}

	report := &Report{RunID: uuid.NewString()}
	e.logger.Info("evaluation run %s: %d questions", report.RunID, len(questions))

	for i, q := range questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := e.evaluate(ctx, i, q)
		report.Results = append(report.Results, result)
		report.MeanFaithfulness += result.Faithfulness
		report.MeanRelevancy += result.Relevancy
	}

	n := float64(len(report.Results))
	report.MeanFaithfulness /= n
	report.MeanRelevancy /= n
	e.logger.Info("evaluation run %s: faithfulness %.3f, relevancy %.3f",
		report.RunID, report.MeanFaithfulness, report.MeanRelevancy)

	return report, nil
}

func (e *Evaluator) evaluate(ctx context.Context, i int, q Question) Result {
	start := time.Now()
	answer, err := e.pipeline.Ask(ctx, q.Question)
	if err != nil {
		e.logger.Warn("question %d: pipeline failed: %v", i+1, err)
		return Result{Question: q.Question, Latency: time.Since(start)}
	}

	result := Result{
		Question: q.Question,
		Answer:   answer.Answer,
		Sources:  answer.Sources,
		Latency:  time.Since(start),
	}

	if score, err := e.judgeScore(ctx, faithfulnessPrompt(answer)); err != nil {
		e.logger.Warn("question %d: faithfulness judge: %v", i+1, err)
	} else {
		result.Faithfulness = score
	}
	if score, err := e.judgeScore(ctx, relevancyPrompt(q.Question, answer.Answer)); err != nil {
		e.logger.Warn("question %d: relevancy judge: %v", i+1, err)
	} else {
		result.Relevancy = score
	}

	return result
}

func (e *Evaluator) judgeScore(ctx context.Context, prompt string) (float64, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, judgeSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := e.judge.GenerateContent(ctx, messages,
		llms.WithTemperature(judgeTemperature),
		llms.WithMaxTokens(judgeMaxTokens),
	)
	if err != nil {
		return 0, fmt.Errorf("judge call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("judge returned no choices")
	}

	return parseScore(resp.Choices[0].Content)
}

func faithfulnessPrompt(answer *pipeline.Answer) string {
	contextText := answer.Context
	if contextText == "" {
		contextText = "(no context was retrieved)"
	}
	return fmt.Sprintf(`Score how faithful the answer is to the context: 1.0 when every claim
in the answer is supported by the context, 0.0 when the answer contradicts it
or invents information.

Context:
%s

Answer:
%s`, contextText, answer.Answer)
}

func relevancyPrompt(question, answer string) string {
	return fmt.Sprintf(`Score how well the answer addresses the question: 1.0 when it answers
directly and completely, 0.0 when it is off topic or does not answer.

Question:
%s

Answer:
%s`, question, answer)
}

// parseScore reads the judge's {"score": x} response. Scores outside [0, 1]
// are clamped.
func parseScore(content string) (float64, error) {
	var parsed struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return 0, fmt.Errorf("judge returned invalid JSON: %w", err)
	}
	if parsed.Score == nil {
		return 0, fmt.Errorf("judge response has no score field")
	}

	return clampScore(*parsed.Score), nil
}

// extractJSON extracts a JSON object from text that might wrap it in a
// markdown code block.
func extractJSON(text string) string {
	codeBlockRegex := regexp.MustCompile("(?s)```(?:json)?\\s*({.*?})\\s*```")
	if matches := codeBlockRegex.FindStringSubmatch(text); len(matches) > 1 {
		return matches[1]
	}

	jsonRegex := regexp.MustCompile("(?s){.*}")
	if matches := jsonRegex.FindStringSubmatch(text); len(matches) > 0 {
		return matches[0]
	}

	return text
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
