package service

import (
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"

	"github.com/orchidlake/llmstudio/common/logger"
	"github.com/orchidlake/llmstudio/model"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// tokenEncoder lazily loads the cl100k_base encoder shared by the history
// window budget. Loading needs the BPE table; on hosts without network and
// without TIKTOKEN_CACHE_DIR it fails, and counting falls back to a character
// heuristic so the budget still bounds the window.
func tokenEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Logger.Warn("token encoder unavailable, using approximate counting",
				zap.Error(err))
			return
		}
		encoder = enc
	})
	return encoder
}

func countTextTokens(text string) int {
	if enc := tokenEncoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return int(float64(len(text)) * 0.38)
}

// storedMessageTokens weighs one history row. The constant covers the role
// framing every chat scheme spends per message.
func storedMessageTokens(m *model.StoredMessage) int {
	return countTextTokens(m.Text) + 3
}
