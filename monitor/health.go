package monitor

import (
	"sync"

	"github.com/Laisky/zap"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/logger"
)

// modelHealth keeps a fixed-size window of recent call outcomes for one
// model. When the window is full and the success rate drops below the
// configured threshold, a warning is logged once until the rate recovers.
type modelHealth struct {
	outcomes []bool
	next     int
	filled   bool
	alerted  bool
}

var (
	healthMu sync.Mutex
	health   = map[string]*modelHealth{}
)

// TrackModelCall records one provider call outcome for health tracking.
// Unlike metrics this is always active: degraded upstreams should be
// visible in logs even when Prometheus is disabled.
func TrackModelCall(model string, ok bool) {
	size := config.HealthWindowSize
	if size <= 0 {
		return
	}

	healthMu.Lock()
	defer healthMu.Unlock()

	h := health[model]
	if h == nil || len(h.outcomes) != size {
		h = &modelHealth{outcomes: make([]bool, size)}
		health[model] = h
	}
	h.outcomes[h.next] = ok
	h.next = (h.next + 1) % size
	if h.next == 0 {
		h.filled = true
	}
	if !h.filled {
		return
	}

	rate := h.successRate()
	if rate < config.HealthSuccessRateThreshold {
		if !h.alerted {
			h.alerted = true
			logger.Logger.Warn("model success rate below threshold",
				zap.String("model", model),
				zap.Float64("success_rate", rate),
				zap.Float64("threshold", config.HealthSuccessRateThreshold),
				zap.Int("window", size))
		}
	} else {
		h.alerted = false
	}
}

func (h *modelHealth) successRate() float64 {
	succeeded := 0
	for _, ok := range h.outcomes {
		if ok {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(h.outcomes))
}

// ModelSuccessRate reports the current windowed success rate for a model.
// The second return is false until the window has filled once.
func ModelSuccessRate(model string) (float64, bool) {
	healthMu.Lock()
	defer healthMu.Unlock()

	h := health[model]
	if h == nil || !h.filled {
		return 0, false
	}
	return h.successRate(), true
}

// resetHealthForTests clears tracker state between test cases.
func resetHealthForTests() {
	healthMu.Lock()
	defer healthMu.Unlock()
	health = map[string]*modelHealth{}
}
