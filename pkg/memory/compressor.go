package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"google.golang.org/genai"
)

// Schema gives the compressor entity-type hints so extraction is steered
// toward a known vocabulary (e.g. "person", "place") instead of discovering
// types freely. Optional; a nil Schema lets the LLM choose its own labels.
type Schema struct {
	// EntityTypes names the entity type prefixes the LLM should prefer
	// (e.g. "person", "place", "topic"), used to compose the prompt.
	EntityTypes []string
}

// compressorOutput is the structured response both LLM-backed compressors
// ask for: a segment summary plus the entities and relations found in the
// input messages. The JSON schema derived from this type is attached to
// the request so the model's response parses without guesswork.
type compressorOutput struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Labels   []string `json:"labels"`
	Entities []struct {
		Label string         `json:"label"`
		Attrs map[string]any `json:"attrs"`
	} `json:"entities"`
	Relations []struct {
		From    string `json:"from"`
		To      string `json:"to"`
		RelType string `json:"rel_type"`
	} `json:"relations"`
}

func (o *compressorOutput) toCompressResult() *CompressResult {
	return &CompressResult{
		Segments: []SegmentInput{{
			Summary:  o.Summary,
			Keywords: o.Keywords,
			Labels:   o.Labels,
		}},
		Summary: o.Summary,
	}
}

func (o *compressorOutput) toEntityUpdate() *EntityUpdate {
	update := &EntityUpdate{}
	for _, e := range o.Entities {
		update.Entities = append(update.Entities, EntityInput{Label: e.Label, Attrs: e.Attrs})
	}
	for _, r := range o.Relations {
		update.Relations = append(update.Relations, RelationInput{From: r.From, To: r.To, RelType: r.RelType})
	}
	return update
}

// messagesToStrings converts memory.Message slice to the plain string format
// handed to the compressor prompt: "role: content" or "role(name): content".
func messagesToStrings(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		var sb strings.Builder
		sb.WriteString(string(m.Role))
		if m.Name != "" {
			sb.WriteByte('(')
			sb.WriteString(m.Name)
			sb.WriteByte(')')
		}
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		out = append(out, sb.String())
	}
	return out
}

func compressorPrompt(schema *Schema, lines []string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the conversation below into one segment, and extract any " +
		"entities and relations it mentions. Keywords must be lowercase.\n")
	if schema != nil && len(schema.EntityTypes) > 0 {
		sb.WriteString("Prefer entity labels of the form \"<type>:<name>\" using these types: ")
		sb.WriteString(strings.Join(schema.EntityTypes, ", "))
		sb.WriteString(".\n")
	}
	sb.WriteString("\n")
	sb.WriteString(strings.Join(lines, "\n"))
	return sb.String()
}

func unmarshalRepaired(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err == nil {
		return nil
	}
	fixed, err := jsonrepair.JSONRepair(string(data))
	if err != nil {
		return fmt.Errorf("memory: repair compressor output: %w", err)
	}
	return json.Unmarshal([]byte(fixed), v)
}

// outputSchema is computed once; compressorOutput never changes shape.
var outputSchema = func() *jsonschema.Schema {
	s, err := jsonschema.For[compressorOutput](&jsonschema.ForOptions{})
	if err != nil {
		panic(fmt.Sprintf("memory: build compressor output schema: %v", err))
	}
	return s
}()

// OpenAICompressor implements [Compressor] via an OpenAI (or
// OpenAI-compatible) chat-completions model, constrained to
// [compressorOutput]'s JSON schema.
//
// OpenAICompressor is stateless and safe for concurrent use.
type OpenAICompressor struct {
	client *openai.Client
	model  string
	schema *Schema
}

var _ Compressor = (*OpenAICompressor)(nil)

// NewOpenAICompressor creates a compressor backed by client using model for
// chat completions. schema may be nil.
func NewOpenAICompressor(client *openai.Client, model string, schema *Schema) *OpenAICompressor {
	return &OpenAICompressor{client: client, model: model, schema: schema}
}

func (c *OpenAICompressor) complete(ctx context.Context, lines []string) (*compressorOutput, error) {
	prompt := compressorPrompt(c.schema, lines)

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "compressor_output",
					Schema: outputSchema,
					Strict: param.NewOpt(true),
				},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("memory: openai compressor: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("memory: openai compressor: no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("memory: openai compressor: blocked: %s", choice.Message.Refusal)
	}

	var out compressorOutput
	if err := unmarshalRepaired([]byte(choice.Message.Content), &out); err != nil {
		return nil, fmt.Errorf("memory: openai compressor: decode output: %w", err)
	}
	return &out, nil
}

// CompressMessages implements [Compressor].
func (c *OpenAICompressor) CompressMessages(ctx context.Context, messages []Message) (*CompressResult, error) {
	out, err := c.complete(ctx, messagesToStrings(messages))
	if err != nil {
		return nil, err
	}
	return out.toCompressResult(), nil
}

// ExtractEntities implements [Compressor].
func (c *OpenAICompressor) ExtractEntities(ctx context.Context, messages []Message) (*EntityUpdate, error) {
	out, err := c.complete(ctx, messagesToStrings(messages))
	if err != nil {
		return nil, err
	}
	return out.toEntityUpdate(), nil
}

// CompactSegments implements [Compressor].
func (c *OpenAICompressor) CompactSegments(ctx context.Context, summaries []string) (*CompressResult, error) {
	out, err := c.complete(ctx, summaries)
	if err != nil {
		return nil, err
	}
	return out.toCompressResult(), nil
}

// GeminiCompressor implements [Compressor] via Gemini's JSON output mode.
// The request sets only the application/json response MIME type; no
// response schema is sent to the model. The reply is parsed into the same
// output shape as [OpenAICompressor]'s, so the two backends are
// interchangeable ([FileConfig.CompressorBackend] names which one a
// deployment uses).
//
// GeminiCompressor is stateless and safe for concurrent use.
type GeminiCompressor struct {
	client *genai.Client
	model  string
	schema *Schema
}

var _ Compressor = (*GeminiCompressor)(nil)

// NewGeminiCompressor creates a compressor backed by client using model.
// schema may be nil.
func NewGeminiCompressor(client *genai.Client, model string, schema *Schema) *GeminiCompressor {
	return &GeminiCompressor{client: client, model: model, schema: schema}
}

func (c *GeminiCompressor) complete(ctx context.Context, lines []string) (*compressorOutput, error) {
	prompt := compressorPrompt(c.schema, lines)

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("memory: gemini compressor: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("memory: gemini compressor: empty response")
	}

	var out compressorOutput
	if err := unmarshalRepaired([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("memory: gemini compressor: decode output: %w", err)
	}
	return &out, nil
}

// CompressMessages implements [Compressor].
func (c *GeminiCompressor) CompressMessages(ctx context.Context, messages []Message) (*CompressResult, error) {
	out, err := c.complete(ctx, messagesToStrings(messages))
	if err != nil {
		return nil, err
	}
	return out.toCompressResult(), nil
}

// ExtractEntities implements [Compressor].
func (c *GeminiCompressor) ExtractEntities(ctx context.Context, messages []Message) (*EntityUpdate, error) {
	out, err := c.complete(ctx, messagesToStrings(messages))
	if err != nil {
		return nil, err
	}
	return out.toEntityUpdate(), nil
}

// CompactSegments implements [Compressor].
func (c *GeminiCompressor) CompactSegments(ctx context.Context, summaries []string) (*CompressResult, error) {
	out, err := c.complete(ctx, summaries)
	if err != nil {
		return nil, err
	}
	return out.toCompressResult(), nil
}
