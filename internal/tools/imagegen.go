package tools

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// imageArgs is the argument shape of the image_generation tool.
type imageArgs struct {
	Prompt string `json:"prompt" jsonschema:"description=Description of the image to generate,required"`
	Size   string `json:"size,omitempty" jsonschema:"description=Image size such as 1024x1024"`
}

var imageArgsSchema = reflectSchema(&imageArgs{})

// imageGenerationTool renders an image upstream and returns its base64
// payload. It is terminal: its output becomes the final response item.
type imageGenerationTool struct {
	name  string
	scope RequestScope
}

func newImageGenerationTool(name string, scope RequestScope) *imageGenerationTool {
	return &imageGenerationTool{name: name, scope: scope}
}

func (t *imageGenerationTool) terminal() {}

func (t *imageGenerationTool) Name() string { return t.name }

func (t *imageGenerationTool) Description() string {
	return "Generate an image from a text prompt."
}

func (t *imageGenerationTool) Parameters() json.RawMessage { return imageArgsSchema }

func (t *imageGenerationTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed imageArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	if parsed.Prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}

	cfg := openai.DefaultConfig(t.scope.Credential)
	if t.scope.ImageBaseURL != "" {
		cfg.BaseURL = t.scope.ImageBaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         parsed.Prompt,
		Size:           parsed.Size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", fmt.Errorf("upstream returned no image data")
	}

	out, err := json.Marshal(map[string]string{"data": resp.Data[0].B64JSON})
	if err != nil {
		return "", fmt.Errorf("marshal image payload: %w", err)
	}
	return string(out), nil
}
