package geminiclient

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/fan-verify/internal/visionclassifier"
)

type stubGenerator struct {
	parts []genai.Part
	resp  *genai.GenerateContentResponse
	err   error
}

func (s *stubGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	s.parts = parts
	return s.resp, s.err
}

func textResponse(texts ...string) *genai.GenerateContentResponse {
	parts := make([]genai.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, genai.Text(t))
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
	}
}

func TestClassifySendsPromptThenImages(t *testing.T) {
	gen := &stubGenerator{resp: textResponse(`{"match":`, ` true}`)}
	c := newClassifier(gen, zap.NewNop())

	out, err := c.Classify(context.Background(), "compare", []visionclassifier.Image{
		{MIMEType: "image/jpg", Data: []byte("doc")},
		{MIMEType: "image/png", Data: []byte("selfie")},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"match": true}`, out)

	require.Len(t, gen.parts, 3)
	assert.Equal(t, genai.Text("compare"), gen.parts[0])
	assert.Equal(t, genai.Blob{MIMEType: "image/jpeg", Data: []byte("doc")}, gen.parts[1])
	assert.Equal(t, genai.Blob{MIMEType: "image/png", Data: []byte("selfie")}, gen.parts[2])
}

func TestClassifyEmptyResponse(t *testing.T) {
	c := newClassifier(&stubGenerator{resp: &genai.GenerateContentResponse{}}, zap.NewNop())

	_, err := c.Classify(context.Background(), "compare", nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.ErrorIs(t, err, visionclassifier.ErrNoAnswer)
	assert.False(t, IsTransient(err))
}

func TestClassifyPropagatesUpstreamError(t *testing.T) {
	upstream := status.Error(codes.Unavailable, "overloaded")
	c := newClassifier(&stubGenerator{err: upstream}, zap.NewNop())

	_, err := c.Classify(context.Background(), "compare", nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(status.Error(codes.ResourceExhausted, "quota")))
	assert.False(t, IsTransient(status.Error(codes.InvalidArgument, "bad image")))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}
