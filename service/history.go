package service

import (
	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/image"
	"github.com/orchidlake/llmstudio/common/logger"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/model"
)

// windowHistory trims stored history to the trailing slice that goes
// upstream: at most HISTORY_WINDOW_MESSAGES rows, then optionally shrunk
// further until the token budget holds. Zero for either bound disables it.
// The most recent row always survives so a long message cannot empty the
// window entirely.
func windowHistory(stored []model.StoredMessage) []model.StoredMessage {
	if limit := config.HistoryWindowMessages; limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	if budget := config.HistoryWindowTokens; budget > 0 {
		stored = windowByTokens(stored, budget, storedMessageTokens)
	}
	return stored
}

func windowByTokens(stored []model.StoredMessage, budget int, weigh func(*model.StoredMessage) int) []model.StoredMessage {
	total := 0
	for i := range stored {
		total += weigh(&stored[i])
	}
	for len(stored) > 1 && total > budget {
		total -= weigh(&stored[0])
		stored = stored[1:]
	}
	return stored
}

// historyMessages converts stored rows into neutral messages, in order.
// Rows with roles the providers cannot replay are skipped; a broken image
// reference drops that part with a warning rather than failing the turn,
// since old attachments going stale must not brick the whole session.
func historyMessages(stored []model.StoredMessage, acceptsImages bool) []llmmodel.Message {
	out := make([]llmmodel.Message, 0, len(stored))
	for i := range stored {
		sm := &stored[i]
		var role llmmodel.Role
		switch sm.Role {
		case "user":
			role = llmmodel.RoleUser
		case "assistant":
			role = llmmodel.RoleAssistant
		default:
			logger.Logger.Warn("skipping history row with unknown role",
				zap.String("role", sm.Role))
			continue
		}

		msg := llmmodel.Message{Role: role, Context: sm.Context}
		if sm.Text != "" {
			msg.Parts = append(msg.Parts, llmmodel.Part{Text: sm.Text})
		}
		for _, f := range sm.Files {
			if !acceptsImages {
				continue
			}
			ref, err := inlineImageRef(f)
			if err != nil {
				logger.Logger.Warn("dropping stale history attachment",
					zap.String("file", truncateRef(f)), zap.Error(err))
				continue
			}
			msg.Parts = append(msg.Parts, llmmodel.Part{Image: ref})
		}
		if len(msg.Parts) == 0 {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// inlineImageRef resolves a file reference (http(s) URL or data URL) into
// inline base64 bytes. Bedrock and Gemini only take raw bytes, so inlining
// happens here once instead of per vendor; it also puts every attachment
// behind the MAX_INLINE_IMAGE_SIZE_MB cap regardless of source.
func inlineImageRef(file string) (*llmmodel.ImageRef, error) {
	mime, data, err := image.GetImageFromUrl(file)
	if err != nil {
		return nil, errors.Wrap(err, "fetch image attachment")
	}
	return &llmmodel.ImageRef{MIME: mime, Data: data}, nil
}

// inlineMessageImages rewrites URL-only image parts of one message in place.
func inlineMessageImages(msg *llmmodel.Message) error {
	for i := range msg.Parts {
		img := msg.Parts[i].Image
		if img == nil || img.Data != "" {
			continue
		}
		ref, err := inlineImageRef(img.URL)
		if err != nil {
			return err
		}
		msg.Parts[i].Image = ref
	}
	return nil
}

// truncateRef keeps log lines short when the reference is a data URL
// carrying megabytes of base64.
func truncateRef(ref string) string {
	const max = 64
	if len(ref) <= max {
		return ref
	}
	return ref[:max] + "..."
}
