package model

import (
	"strings"

	"github.com/Laisky/errors/v2"
)

// UnifiedContent is the externally supplied content bag for one user turn.
// Text and Files may both be set; at least one must be non-empty.
type UnifiedContent struct {
	Text string `json:"text,omitempty"`
	// Files lists image attachments as http(s) URLs or data URLs.
	Files []string `json:"files,omitempty"`
}

const droppedAttachmentNote = "(Note: attached files were omitted because the selected model only accepts text input.)"

// NormalizeContent converts a unified content bag into a user Message,
// filtering attachments the target model cannot consume. When attachments are
// dropped an explanatory note is appended to the text so the model knows
// content went missing. Pure function: no I/O, rejects malformed input.
func NormalizeContent(content UnifiedContent, acceptsImages bool) (Message, error) {
	text := strings.TrimSpace(content.Text)
	if text == "" && len(content.Files) == 0 {
		return Message{}, errors.New("content must include text or files")
	}

	msg := Message{Role: RoleUser}

	dropped := false
	var images []Part
	for _, f := range content.Files {
		f = strings.TrimSpace(f)
		if f == "" {
			return Message{}, errors.New("file reference must be a non-empty URL or data URL")
		}
		if !acceptsImages {
			dropped = true
			continue
		}
		images = append(images, Part{Image: &ImageRef{URL: f}})
	}

	if dropped {
		if text != "" {
			text += "\n\n"
		}
		text += droppedAttachmentNote
	}

	if text != "" {
		msg.Parts = append(msg.Parts, Part{Text: text})
	}
	msg.Parts = append(msg.Parts, images...)

	if err := msg.Validate(); err != nil {
		return Message{}, errors.Wrap(err, "normalize content")
	}
	return msg, nil
}
