package model

import (
	"context"
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/orchidlake/llmstudio/common/helper"
)

// StoredMessage is one persisted history entry. The store keeps plain data
// so it never depends on the llm packages; the service layer converts to
// and from the neutral message model.
type StoredMessage struct {
	Role      string            `json:"role"`
	Text      string            `json:"text,omitempty"`
	Files     []string          `json:"files,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// ChatSession is the per-user per-module conversation state. History and
// Context are JSON columns, mirroring the document-store shape the data
// had before. Saves are whole-row, last write wins; concurrent mutation of
// one session (duplicate tabs) is a documented limitation.
type ChatSession struct {
	Id         int    `json:"id"`
	UserId     int    `json:"user_id" gorm:"index:idx_session_user_module"`
	ModuleName string `json:"module_name" gorm:"index:idx_session_user_module;type:varchar(64)"`
	ModelId    string `json:"model_id" gorm:"type:varchar(128)"` // session override, empty means module default
	Context    string `json:"-" gorm:"type:text"`                // JSON object, holds system_prompt and module state
	History    string `json:"-" gorm:"type:text"`                // JSON array of StoredMessage
	Archived   bool   `json:"archived" gorm:"index"`
	CreatedAt  int64  `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt  int64  `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// GetOrCreateSession returns the active session for one user and module,
// creating it on first access.
func GetOrCreateSession(userId int, moduleName string) (*ChatSession, error) {
	if userId == 0 {
		return nil, errors.New("user id is empty")
	}
	if moduleName == "" {
		return nil, errors.New("module name is empty")
	}

	var session ChatSession
	err := DB.Where("user_id = ? AND module_name = ? AND archived = ?", userId, moduleName, false).
		Order("id desc").
		First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(err, "load session for user %d module %s", userId, moduleName)
	}

	session = ChatSession{
		UserId:     userId,
		ModuleName: moduleName,
		Context:    "{}",
		History:    "[]",
	}
	if err := DB.Create(&session).Error; err != nil {
		return nil, errors.Wrapf(err, "create session for user %d module %s", userId, moduleName)
	}
	return &session, nil
}

// ListSessions returns a user's active sessions, optionally filtered by
// module, newest first.
func ListSessions(userId int, moduleName string) ([]*ChatSession, error) {
	if userId == 0 {
		return nil, errors.New("user id is empty")
	}
	query := DB.Where("user_id = ? AND archived = ?", userId, false)
	if moduleName != "" {
		query = query.Where("module_name = ?", moduleName)
	}
	var sessions []*ChatSession
	if err := query.Order("updated_at desc").Find(&sessions).Error; err != nil {
		return nil, errors.Wrapf(err, "list sessions for user %d", userId)
	}
	return sessions, nil
}

// LoadHistory decodes the full persisted history. Callers window it
// themselves; the store always keeps everything.
func (s *ChatSession) LoadHistory() ([]StoredMessage, error) {
	if s.History == "" {
		return nil, nil
	}
	var history []StoredMessage
	if err := json.Unmarshal([]byte(s.History), &history); err != nil {
		return nil, errors.Wrapf(err, "decode history of session %d", s.Id)
	}
	return history, nil
}

// AppendInteraction adds messages to the in-memory history. Nothing is
// written until Save.
func (s *ChatSession) AppendInteraction(messages ...StoredMessage) error {
	history, err := s.LoadHistory()
	if err != nil {
		return err
	}
	now := helper.GetTimestamp()
	for i := range messages {
		if messages[i].CreatedAt == 0 {
			messages[i].CreatedAt = now
		}
		history = append(history, messages[i])
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return errors.Wrapf(err, "encode history of session %d", s.Id)
	}
	s.History = string(raw)
	return nil
}

// Save persists the whole session row. Called once per completed turn.
func (s *ChatSession) Save(ctx context.Context) error {
	if s.Id == 0 {
		return errors.New("session is not persisted yet")
	}
	err := runWithSQLiteBusyRetry(ctx, func() error {
		return DB.Save(s).Error
	})
	if err != nil {
		return errors.Wrapf(err, "save session %d", s.Id)
	}
	return nil
}

// Archive retires the session; the next module access starts a fresh one.
// Rows are never hard-deleted here.
func (s *ChatSession) Archive(ctx context.Context) error {
	s.Archived = true
	err := runWithSQLiteBusyRetry(ctx, func() error {
		return DB.Model(s).Update("archived", true).Error
	})
	if err != nil {
		return errors.Wrapf(err, "archive session %d", s.Id)
	}
	return nil
}

// SetModelOverride pins the session to a model id; empty clears the
// override so the module default applies again.
func (s *ChatSession) SetModelOverride(ctx context.Context, modelId string) error {
	s.ModelId = modelId
	err := runWithSQLiteBusyRetry(ctx, func() error {
		return DB.Model(s).Update("model_id", modelId).Error
	})
	if err != nil {
		return errors.Wrapf(err, "set model override on session %d", s.Id)
	}
	return nil
}

// GetContext decodes the session context map.
func (s *ChatSession) GetContext() (map[string]string, error) {
	ctx := map[string]string{}
	if s.Context == "" {
		return ctx, nil
	}
	if err := json.Unmarshal([]byte(s.Context), &ctx); err != nil {
		return nil, errors.Wrapf(err, "decode context of session %d", s.Id)
	}
	return ctx, nil
}

// SetContextValue updates one context key in memory. Persisted on Save.
func (s *ChatSession) SetContextValue(key, value string) error {
	ctx, err := s.GetContext()
	if err != nil {
		return err
	}
	ctx[key] = value
	raw, err := json.Marshal(ctx)
	if err != nil {
		return errors.Wrapf(err, "encode context of session %d", s.Id)
	}
	s.Context = string(raw)
	return nil
}

// SystemPrompt reads the prompt stored in the session context. Empty when
// the session predates prompt seeding or decoding fails.
func (s *ChatSession) SystemPrompt() string {
	ctx, err := s.GetContext()
	if err != nil {
		return ""
	}
	return ctx["system_prompt"]
}
