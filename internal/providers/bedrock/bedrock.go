// Package bedrock adapts Amazon Bedrock to the providers.Llm
// capability. The default model is an Anthropic one; the request body
// is shaped per model family.
package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/veriflow/backend/internal/providers"
)

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.1
	defaultTopP        = 0.9

	anthropicVersion = "bedrock-2023-05-31"
)

// Client implements providers.Llm over bedrockruntime.
type Client struct {
	api     invoker
	modelID string
}

// invoker is the slice of the Bedrock API the client uses.
type invoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// New builds a Bedrock client for the given region and default model.
// Static credentials are used when both keys are set, otherwise the
// default AWS credential chain.
func New(ctx context.Context, region, accessKey, secretKey, modelID string) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{api: bedrockruntime.NewFromConfig(awsCfg), modelID: modelID}, nil
}

// NewWithAPI wraps an existing Bedrock API. Used by tests.
func NewWithAPI(api invoker, modelID string) *Client {
	return &Client{api: api, modelID: modelID}
}

// Invoke sends a text prompt and returns the generated text.
func (c *Client) Invoke(ctx context.Context, prompt string, opts providers.InvokeOptions) (string, error) {
	body := c.requestBody(opts, []interface{}{
		map[string]interface{}{"type": "text", "text": prompt},
	}, prompt)
	return c.invoke(ctx, body, c.model(opts))
}

// InvokeVision sends a PNG page image plus a text prompt. Only
// Anthropic models accept image content; other families reject it.
func (c *Client) InvokeVision(ctx context.Context, imagePNG []byte, prompt string, opts providers.InvokeOptions) (string, error) {
	modelID := c.model(opts)
	if !strings.Contains(strings.ToLower(modelID), "anthropic") {
		return "", fmt.Errorf("model %s does not accept image input", modelID)
	}
	content := []interface{}{
		map[string]interface{}{
			"type": "image",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": "image/png",
				"data":       base64.StdEncoding.EncodeToString(imagePNG),
			},
		},
		map[string]interface{}{"type": "text", "text": prompt},
	}
	return c.invoke(ctx, c.anthropicBody(opts, content), modelID)
}

// ExtractStructured asks the model for a JSON object and parses it
// tolerantly. Malformed output is returned as data, never as an error.
func (c *Client) ExtractStructured(ctx context.Context, data interface{}, instructions string) (providers.Payload, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode extraction input: %w", err)
	}

	prompt := fmt.Sprintf(`You are a data analysis expert. Please analyze the following data and extract the requested information.

Extraction Instructions:
%s

Data to analyze:
%s

Please respond with a valid JSON object containing the extracted information.
Do not include any text outside of the JSON response.`, instructions, string(encoded))

	generation, err := c.Invoke(ctx, prompt, providers.InvokeOptions{Temperature: defaultTemperature})
	if err != nil {
		return nil, err
	}

	parsed, parseErr := ParseJSONObject(generation)
	if parseErr != nil {
		slog.Warn("LLM response was not valid JSON", "error", parseErr)
		return providers.Payload{"raw_response": generation, "parse_error": parseErr.Error()}, nil
	}
	return parsed, nil
}

func (c *Client) model(opts providers.InvokeOptions) string {
	if opts.ModelID != "" {
		return opts.ModelID
	}
	return c.modelID
}

// requestBody shapes the request for the model family. Anthropic uses
// the messages API; Cohere and DeepSeek take a flat prompt.
func (c *Client) requestBody(opts providers.InvokeOptions, anthropicContent []interface{}, prompt string) []byte {
	modelID := strings.ToLower(c.model(opts))
	switch {
	case strings.Contains(modelID, "anthropic"):
		return c.anthropicBody(opts, anthropicContent)
	case strings.Contains(modelID, "cohere"):
		return mustJSON(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  maxTokens(opts),
			"temperature": temperature(opts),
			"p":           topP(opts),
		})
	default:
		return mustJSON(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  maxTokens(opts),
			"temperature": temperature(opts),
			"top_p":       topP(opts),
		})
	}
}

func (c *Client) anthropicBody(opts providers.InvokeOptions, content []interface{}) []byte {
	return mustJSON(map[string]interface{}{
		"anthropic_version": anthropicVersion,
		"max_tokens":        maxTokens(opts),
		"temperature":       temperature(opts),
		"top_p":             topP(opts),
		"messages": []interface{}{
			map[string]interface{}{"role": "user", "content": content},
		},
	})
}

func (c *Client) invoke(ctx context.Context, body []byte, modelID string) (string, error) {
	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("invoke model %s: %w", modelID, err)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	return extractGeneration(resp, modelID), nil
}

// extractGeneration pulls the generated text out of the model-family
// specific response shape.
func extractGeneration(resp map[string]interface{}, modelID string) string {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "anthropic"):
		if content, ok := resp["content"].([]interface{}); ok && len(content) > 0 {
			if block, ok := content[0].(map[string]interface{}); ok {
				if text, ok := block["text"].(string); ok {
					return text
				}
			}
		}
	case strings.Contains(lower, "cohere"):
		if gens, ok := resp["generations"].([]interface{}); ok && len(gens) > 0 {
			if gen, ok := gens[0].(map[string]interface{}); ok {
				if text, ok := gen["text"].(string); ok {
					return text
				}
			}
		}
	}
	if text, ok := resp["generation"].(string); ok {
		return text
	}
	if text, ok := resp["text"].(string); ok {
		return text
	}
	return ""
}

// ParseJSONObject extracts a JSON object from model output. It accepts
// a fenced ```json block, a bare {...} span, or the whole string.
func ParseJSONObject(generation string) (providers.Payload, error) {
	candidate := generation
	if idx := strings.Index(generation, "```json"); idx != -1 {
		rest := generation[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			candidate = rest[:end]
		}
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var parsed providers.Payload
	if err := json.Unmarshal([]byte(candidate[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return parsed, nil
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func maxTokens(o providers.InvokeOptions) int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return defaultMaxTokens
}

func temperature(o providers.InvokeOptions) float64 {
	if o.Temperature > 0 {
		return o.Temperature
	}
	return defaultTemperature
}

func topP(o providers.InvokeOptions) float64 {
	if o.TopP > 0 {
		return o.TopP
	}
	return defaultTopP
}
