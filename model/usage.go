package model

import (
	"context"

	"github.com/Laisky/zap"

	"github.com/Laisky/errors/v2"

	"github.com/orchidlake/llmstudio/common/helper"
	"github.com/orchidlake/llmstudio/common/logger"
)

// UsageLog records one completed conversation turn for usage accounting.
// All identifying fields are passed explicitly by the caller; nothing is
// fished out of a request context after the request may have ended.
type UsageLog struct {
	Id               int    `json:"id"`
	UserId           int    `json:"user_id" gorm:"index"`
	CreatedAt        int64  `json:"created_at" gorm:"bigint;index:idx_usage_created_module"`
	ModuleName       string `json:"module_name" gorm:"type:varchar(64);index:idx_usage_created_module"`
	ModelId          string `json:"model_id" gorm:"type:varchar(128);index"`
	SessionId        int    `json:"session_id" gorm:"index"`
	PromptTokens     int    `json:"prompt_tokens" gorm:"default:0"`
	CompletionTokens int    `json:"completion_tokens" gorm:"default:0"`
	TotalTokens      int    `json:"total_tokens" gorm:"default:0"`
	Rounds           int    `json:"rounds" gorm:"default:1"`
	ElapsedTimeMs    int64  `json:"elapsed_time_ms" gorm:"default:0"`
	IsStream         bool   `json:"is_stream" gorm:"default:false"`
	RequestId        string `json:"request_id" gorm:"default:''"`
}

// RecordUsage writes one usage row. Failures are logged, never propagated;
// a finished turn must not be failed retroactively by accounting.
func RecordUsage(ctx context.Context, usage *UsageLog) {
	if usage.CreatedAt == 0 {
		usage.CreatedAt = helper.GetTimestamp()
	}
	err := runWithSQLiteBusyRetry(ctx, func() error {
		return DB.Create(usage).Error
	})
	if err != nil {
		logger.Logger.Error("failed to record usage log",
			zap.Error(err),
			zap.Int("user_id", usage.UserId),
			zap.String("module", usage.ModuleName),
			zap.String("model", usage.ModelId))
		return
	}

	logger.Logger.Info("record usage",
		zap.Int("user_id", usage.UserId),
		zap.String("module", usage.ModuleName),
		zap.String("model", usage.ModelId),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Int("rounds", usage.Rounds),
		zap.Int64("elapsed_ms", usage.ElapsedTimeMs),
		zap.Bool("stream", usage.IsStream))
}

// GetUsageLogs pages through a user's usage rows, newest first.
func GetUsageLogs(userId int, startIdx int, num int) ([]*UsageLog, error) {
	var logs []*UsageLog
	err := DB.Where("user_id = ?", userId).
		Order("id desc").
		Limit(num).Offset(startIdx).
		Find(&logs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list usage logs for user %d", userId)
	}
	return logs, nil
}

// UsageStats aggregates one user's lifetime token consumption.
type UsageStats struct {
	Turns            int64 `json:"turns"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func GetUserUsageStats(userId int) (*UsageStats, error) {
	var stats UsageStats
	err := DB.Model(&UsageLog{}).
		Select("COUNT(*) as turns, COALESCE(SUM(prompt_tokens),0) as prompt_tokens, COALESCE(SUM(completion_tokens),0) as completion_tokens").
		Where("user_id = ?", userId).
		Scan(&stats).Error
	if err != nil {
		return nil, errors.Wrapf(err, "aggregate usage for user %d", userId)
	}
	return &stats, nil
}

// GetUserUsageStatsRange aggregates usage within [start, endExclusive)
// Unix seconds, optionally restricted to one module.
func GetUserUsageStatsRange(userId int, start, endExclusive int64, moduleName string) (*UsageStats, error) {
	query := DB.Model(&UsageLog{}).
		Select("COUNT(*) as turns, COALESCE(SUM(prompt_tokens),0) as prompt_tokens, COALESCE(SUM(completion_tokens),0) as completion_tokens").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userId, start, endExclusive)
	if moduleName != "" {
		query = query.Where("module_name = ?", moduleName)
	}
	var stats UsageStats
	if err := query.Scan(&stats).Error; err != nil {
		return nil, errors.Wrapf(err, "aggregate ranged usage for user %d", userId)
	}
	return &stats, nil
}
