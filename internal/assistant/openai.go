package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"voxphone/internal/actions"
	"voxphone/internal/metrics"
)

var tracer = otel.Tracer("voxphone/internal/assistant")

const (
	DefaultModel       = "gpt-4.1-mini"
	DefaultTemperature = 0.7
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	// Instructions is the system prompt, see SystemPrompt.
	Instructions string
	WebSearch    bool
	HTTPClient   *http.Client
	Tools        []actions.Tool
}

// OpenAI asks an OpenAI Responses model. One attempt per question.
type OpenAI struct {
	client       openai.Client
	model        string
	temperature  float64
	instructions string
	webSearch    bool
	tools        []responses.ToolUnionParam
}

func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	tools := make([]responses.ToolUnionParam, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tool := responses.ToolParamOfFunction(t.Name, t.Parameters, false)
		tool.OfFunction.Description = openai.String(t.Description)
		tools = append(tools, tool)
	}

	return &OpenAI{
		client:       openai.NewClient(opts...),
		model:        model,
		temperature:  cfg.Temperature,
		instructions: cfg.Instructions,
		webSearch:    cfg.WebSearch,
		tools:        tools,
	}
}

func (o *OpenAI) Ask(ctx context.Context, transcript string) (Reply, error) {
	ctx, span := tracer.Start(ctx, "assistant ask")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", o.model))

	params := responses.ResponseNewParams{
		Model:        shared.ResponsesModel(o.model),
		Instructions: openai.String(o.instructions),
		Input:        responses.ResponseNewParamsInputUnion{OfString: openai.String(transcript)},
		Tools:        o.tools,
		Temperature:  openai.Float(o.temperature),
	}

	var reqOpts []option.RequestOption
	if o.webSearch {
		reqOpts = append(reqOpts, option.WithJSONSet("tools.-1", map[string]any{"type": "web_search"}))
	}

	start := time.Now()
	resp, err := o.client.Responses.New(ctx, params, reqOpts...)
	metrics.AssistantLatency(time.Since(start).Seconds())
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			log.Debug("Assistant API error", "status", apiErr.StatusCode, "body", apiErr.RawJSON())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, &TransportError{Op: "request", Err: err}
	}

	reply := parseOutput(resp)
	span.SetAttributes(
		attribute.Int("response.calls", len(reply.Calls)),
		attribute.Int("response.text_length", len(reply.Text)),
	)

	return reply, nil
}

func parseOutput(resp *responses.Response) Reply {
	var reply Reply

	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}

		fc := item.AsFunctionCall()
		args := map[string]any{}
		if raw := strings.TrimSpace(fc.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				log.Warn("Model sent unreadable arguments", "action", fc.Name, "raw", raw, "err", err)
				args = map[string]any{}
			}
		}

		log.Debug("Model requested action", "action", fc.Name, "args", args)
		reply.Calls = append(reply.Calls, actions.Call{Name: fc.Name, Arguments: args})
	}

	if len(reply.Calls) == 0 {
		reply.Text = strings.TrimSpace(resp.OutputText())
	}

	return reply
}
