package emotion

import (
	"math/rand/v2"
	"time"

	"github.com/zhouzirui/pipbot/internal/model/mood"
)

// Flavors 将情绪标签映射为注入提示词的语气描述。
var Flavors = map[Label]string{
	Positive:  "You are upbeat and playful, matching the user's good mood.",
	Neutral:   "You are calm, clear and friendly.",
	Negative:  "You are gentle and supportive; the user seems down.",
	Sarcastic: "You are dry and witty, answering sarcasm with a wink.",
	Angry:     "You are steady and patient, helping the user cool off.",
}

// Flavor 返回标签对应的语气描述，未知标签按 neutral 处理。
func Flavor(label Label) string {
	if f, ok := Flavors[label]; ok {
		return f
	}
	return Flavors[Neutral]
}

// scoreDescriptors 以 score - mood.MinScore 为下标。
var scoreDescriptors = [mood.MaxScore - mood.MinScore + 1]string{
	"You are furious and barely holding it together.",
	"You are seething.",
	"You are bitter and resentful.",
	"You are irritable.",
	"You are grumpy.",
	"You are gloomy.",
	"You are sulky.",
	"You are weary.",
	"You are a little glum.",
	"You are slightly on edge.",
	"You are even-tempered.",
	"You are mildly pleasant.",
	"You are in a good mood.",
	"You are cheerful.",
	"You are warm and chatty.",
	"You are bubbly.",
	"You are delighted.",
	"You are giddy.",
	"You are overjoyed.",
	"You are ecstatic.",
	"You are radiating pure joy.",
}

// ScoreDescriptor 将心情分值映射为描述，分值先被限制在合法区间内。
func ScoreDescriptor(score int) string {
	return scoreDescriptors[mood.Clamp(score)-mood.MinScore]
}

// DailyMoods 每日心情的候选列表。
var DailyMoods = []string{
	"You exude self-assurance and arrogance.",
	"You are cute.",
	"You are sweet and kind.",
	"You are sarcastic.",
	"You are grumpy.",
	"You are happy and cheerful.",
	"You are whimsical and silly.",
	"You are flirty and playful.",
	"You are shy and timid and unsure of yourself.",
	"You are mocking and condescending.",
	"You are annoyed.",
	"You are sad.",
	"You are sleepy.",
	"You are energetic.",
	"You are feeling cryptic.",
}

// RandomDailyMood 从 DailyMoods 中随机抽取一项。
func RandomDailyMood(r *rand.Rand) string {
	if r == nil {
		return DailyMoods[rand.IntN(len(DailyMoods))]
	}
	return DailyMoods[r.IntN(len(DailyMoods))]
}

// Bucket 表示一天中的时段。
type Bucket string

const (
	Morning   Bucket = "morning"
	Afternoon Bucket = "afternoon"
	Evening   Bucket = "evening"
	Night     Bucket = "night"
)

var bucketDescriptors = map[Bucket]string{
	Morning:   "It is morning: you are fresh, bright and a bit chirpy.",
	Afternoon: "It is afternoon: you are focused and matter-of-fact.",
	Evening:   "It is evening: you are relaxed and chatty.",
	Night:     "It is late at night: you are drowsy, soft-spoken and brief.",
}

// BucketFor 根据小时数返回所属时段。
func BucketFor(hour int) Bucket {
	switch {
	case hour >= 5 && hour < 12:
		return Morning
	case hour >= 12 && hour < 17:
		return Afternoon
	case hour >= 17 && hour < 21:
		return Evening
	default:
		return Night
	}
}

// TimeOfDay 无状态的时段到语气描述的启发式映射。
func TimeOfDay(t time.Time) (Bucket, string) {
	bucket := BucketFor(t.Hour())
	return bucket, bucketDescriptors[bucket]
}
