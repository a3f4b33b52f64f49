package geminiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/fan-verify/internal/logging"
	"github.com/example/fan-verify/internal/visionclassifier"
)

// ErrEmptyResponse is returned when the model produced no text candidate.
var ErrEmptyResponse = fmt.Errorf("gemini returned no text: %w", visionclassifier.ErrNoAnswer)

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Dial returns a vision classifier backed by the given Gemini model.
// The returned closer releases the underlying client.
func Dial(ctx context.Context, apiKey, model string, logger *zap.Logger) (visionclassifier.Client, io.Closer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		wrapped := logging.NewOperationError("geminiclient.dial", "", err)
		logger.Error("failed to create gemini client", zap.Error(wrapped), zap.String("model", model))
		return nil, nil, wrapped
	}

	m := client.GenerativeModel(model)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"

	return newClassifier(m, logger), client, nil
}

func newClassifier(gen contentGenerator, logger *zap.Logger) *geminiClassifier {
	return &geminiClassifier{model: gen, logger: logger.Named("gemini")}
}

type geminiClassifier struct {
	model  contentGenerator
	logger *zap.Logger
}

func (g *geminiClassifier) Classify(ctx context.Context, prompt string, images []visionclassifier.Image) (string, error) {
	parts := make([]genai.Part, 0, len(images)+1)
	parts = append(parts, genai.Text(prompt))
	for _, img := range images {
		parts = append(parts, genai.Blob{MIMEType: visionclassifier.NormalizeMIME(img.MIMEType), Data: img.Data})
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		wrapped := logging.NewOperationError("geminiclient.generate_content", "", err)
		g.logger.Error("gemini call failed", zap.Error(wrapped), zap.Bool("transient", IsTransient(err)))
		return "", wrapped
	}

	text := responseText(resp)
	if text == "" {
		return "", logging.NewOperationError("geminiclient.generate_content", "", ErrEmptyResponse)
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}

// IsTransient reports upstream failures worth retrying later: quota,
// unavailability and deadlines, as reported through the gRPC status model.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var withStatus interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &withStatus) {
		return false
	}
	switch withStatus.GRPCStatus().Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return true
	default:
		return false
	}
}
