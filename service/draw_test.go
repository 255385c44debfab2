package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchidlake/llmstudio/llm/adaptor"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
)

// onePixelPNG is a valid 1x1 PNG, small enough to decode in tests.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func serviceWithImageStub(t *testing.T, stub *stubImageAdaptor) *ChatService {
	t.Helper()
	svc := NewChatService()
	svc.providers.buildImage = func(vendor, modelId string) (adaptor.ImageAdaptor, error) {
		require.Equal(t, "STABILITY", vendor)
		return stub, nil
	}
	return svc
}

func TestDrawGeneratesImageAndPersists(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 21, 1, "draw", "", `{}`, `[]`)
	expectTurnPersisted(mock)

	stub := &stubImageAdaptor{ref: &llmmodel.ImageRef{MIME: "image/png", Data: onePixelPNG}}
	svc := serviceWithImageStub(t, stub)

	res, err := svc.Draw(context.Background(), &DrawRequest{
		UserId: 1,
		Module: "draw",
		Prompt: "a red fox in the snow",
		Params: &llmmodel.ImageParams{Width: 512},
	})
	require.NoError(t, err)
	require.Equal(t, 21, res.SessionId)
	require.Equal(t, "stability.stable-diffusion-xl-v1", res.ModelId)
	require.Equal(t, "image/png", res.MIME)
	require.Equal(t, onePixelPNG, res.Data)
	// Dimensions come from the actual payload, not the request.
	require.Equal(t, 1, res.Width)
	require.Equal(t, 1, res.Height)

	// Request overrides win, module defaults fill the rest.
	require.NotNil(t, stub.params)
	require.Equal(t, 512, stub.params.Width)
	require.Equal(t, 1024, stub.params.Height)
	require.NotNil(t, stub.params.CfgScale)
	require.Equal(t, float64(7), *stub.params.CfgScale)

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDrawRejectsNonImageModel(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 21, 1, "draw", "", `{}`, `[]`)

	svc := serviceWithImageStub(t, &stubImageAdaptor{})

	_, err := svc.Draw(context.Background(), &DrawRequest{
		UserId: 1,
		Module: "draw",
		Model:  "gpt-4o",
		Prompt: "a red fox",
	})
	perr, ok := llmmodel.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, llmmodel.ErrInvalidRequest, perr.Code)
	require.Contains(t, perr.Message, "does not generate images")
}

func TestDrawPropagatesProviderError(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 21, 1, "draw", "", `{}`, `[]`)

	stub := &stubImageAdaptor{err: llmmodel.NewProviderError(llmmodel.ErrTimeout, "generation timed out", "")}
	svc := serviceWithImageStub(t, stub)

	_, err := svc.Draw(context.Background(), &DrawRequest{
		UserId: 1,
		Module: "draw",
		Prompt: "a red fox",
	})
	perr, ok := llmmodel.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, llmmodel.ErrTimeout, perr.Code)

	// The failed turn must not leave history or usage rows behind.
	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDrawRequiresPrompt(t *testing.T) {
	svc := NewChatService()

	_, err := svc.Draw(context.Background(), &DrawRequest{
		UserId: 1,
		Module: "draw",
		Prompt: "   ",
	})
	perr, ok := llmmodel.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, llmmodel.ErrInvalidRequest, perr.Code)
}
