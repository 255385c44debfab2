package dto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRegisterRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr bool
	}{
		{"valid", RegisterRequest{Username: "alice", Password: "secret-pass"}, false},
		{"short username", RegisterRequest{Username: "al", Password: "secret-pass"}, true},
		{"short password", RegisterRequest{Username: "alice", Password: "short"}, true},
		{"bad email", RegisterRequest{Username: "alice", Password: "secret-pass", Email: "nope"}, true},
		{"valid email", RegisterRequest{Username: "alice", Password: "secret-pass", Email: "a@example.com"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.req)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateDrawRequest(t *testing.T) {
	require.Error(t, Validate(&DrawRequest{}), "empty prompt must fail")
	require.NoError(t, Validate(&DrawRequest{Prompt: "a lighthouse at dusk"}))
}

func TestValidateChatRequestFileBounds(t *testing.T) {
	files := make([]string, 9)
	for i := range files {
		files[i] = "https://example.com/img.png"
	}
	require.Error(t, Validate(&ChatRequest{Text: "hi", Files: files}), "more than 8 files must fail")
	require.Error(t, Validate(&ChatRequest{Text: "hi", Files: []string{""}}), "empty file ref must fail")
	require.NoError(t, Validate(&ChatRequest{Text: "hi", Files: files[:2]}))
}
