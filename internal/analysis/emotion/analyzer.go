package emotion

import (
	"strings"
)

// Label 表示语气选择使用的封闭情绪标签集合。
type Label string

const (
	Positive  Label = "positive"
	Neutral   Label = "neutral"
	Negative  Label = "negative"
	Sarcastic Label = "sarcastic"
	Angry     Label = "angry"
)

// Labels 按提示词中的顺序列出全部标签。
var Labels = []Label{Positive, Neutral, Negative, Sarcastic, Angry}

// ParseLabel 将分类器输出映射到标签集合，集合外的结果返回 ok=false。
func ParseLabel(raw string) (Label, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.Trim(normalized, " \t\n\"'`.,!:;")
	switch Label(normalized) {
	case Positive, Neutral, Negative, Sarcastic, Angry:
		return Label(normalized), true
	default:
		return "", false
	}
}

// Decision 给出关键词分析的结果。
type Decision struct {
	Label Label
	Score int
}

var keywordBuckets = map[Label][]string{
	Positive: {
		"thanks", "thank you", "love", "awesome", "great", "amazing", "happy", "glad", "nice",
		"cool", "yay", "lol", "haha", "wonderful", "perfect", "開心", "开心", "高兴", "谢谢", "喜欢",
	},
	Negative: {
		"sad", "unhappy", "depressed", "upset", "hurt", "cry", "lonely", "tired", "awful",
		"terrible", "worst", "sorry", "miss", "难过", "伤心", "失落", "沮丧",
	},
	Angry: {
		"angry", "furious", "rage", "mad", "annoyed", "pissed", "hate", "shut up", "stupid",
		"idiot", "生气", "愤怒", "气死", "烦死",
	},
	Sarcastic: {
		"yeah right", "sure thing", "oh great", "oh wow", "wow thanks", "as if", "totally",
		"obviously", "/s", "how original", "what a surprise",
	},
}

var punctuationBoost = map[Label]int{
	Positive: 1,
	Angry:    2,
}

// Analyze 根据关键词对文本打分，没有命中任何关键词时为 neutral。
func Analyze(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Label: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!")
	if exclamations > 0 {
		if scores[Angry] > 0 {
			scores[Angry] += exclamations * punctuationBoost[Angry]
		} else if exclamations == 1 {
			scores[Positive] += punctuationBoost[Positive]
		}
	}

	// 讽刺通常夹杂正面词汇，平分时讽刺优先。
	if scores[Sarcastic] > 0 && scores[Sarcastic] >= scores[Positive] {
		scores[Positive] = 0
	}

	best := Neutral
	bestScore := 0
	for _, label := range Labels {
		if s := scores[label]; s > bestScore {
			bestScore = s
			best = label
		}
	}
	return Decision{Label: best, Score: bestScore}
}

// Delta 返回一次分类结果对心情分值的增量。
func Delta(label Label) int {
	switch label {
	case Positive:
		return 1
	case Negative, Angry:
		return -1
	default:
		return 0
	}
}
