package mood

import "time"

const (
	MinScore = -10
	MaxScore = 10
)

// State 是持久化的唯一心情记录，无状态的语气策略不会写入。
type State struct {
	Score     int       `json:"score"`
	Label     string    `json:"label"`
	Day       string    `json:"day,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clamp 将分值限制在 [MinScore, MaxScore]。
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// DayKey 格式化每日心情使用的日期。
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
