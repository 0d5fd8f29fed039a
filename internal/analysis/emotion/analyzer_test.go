package emotion

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/zhouzirui/pipbot/internal/model/mood"
)

func TestAnalyzeSadUserIsNegative(t *testing.T) {
	decision := Analyze("I'm so sad and lonely today")
	if decision.Label != Negative {
		t.Fatalf("expected negative label, got %s", decision.Label)
	}
	if decision.Score <= 0 {
		t.Fatalf("expected positive score, got %d", decision.Score)
	}
}

func TestAnalyzeAngryExclamations(t *testing.T) {
	decision := Analyze("I hate this, shut up!!!")
	if decision.Label != Angry {
		t.Fatalf("expected angry label, got %s", decision.Label)
	}
}

func TestAnalyzeSarcasmBeatsPositiveWords(t *testing.T) {
	decision := Analyze("oh great, yeah right, thanks a lot")
	if decision.Label != Sarcastic {
		t.Fatalf("expected sarcastic label, got %s", decision.Label)
	}
}

func TestAnalyzePlainTextIsNeutral(t *testing.T) {
	if got := Analyze("what time is the meeting").Label; got != Neutral {
		t.Fatalf("expected neutral, got %s", got)
	}
	if got := Analyze("   ").Label; got != Neutral {
		t.Fatalf("expected neutral for blank text, got %s", got)
	}
}

func TestParseLabel(t *testing.T) {
	cases := map[string]Label{
		"positive":     Positive,
		" Negative\n":  Negative,
		"\"sarcastic\"": Sarcastic,
		"ANGRY.":       Angry,
	}
	for raw, want := range cases {
		got, ok := ParseLabel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLabel(%q) = %s, %v; want %s", raw, got, ok, want)
		}
	}
	if _, ok := ParseLabel("ecstatic"); ok {
		t.Fatal("expected unknown label to be rejected")
	}
}

func TestScoreDescriptorTable(t *testing.T) {
	seen := make(map[string]bool)
	for score := mood.MinScore; score <= mood.MaxScore; score++ {
		d := ScoreDescriptor(score)
		if d == "" || seen[d] {
			t.Fatalf("descriptor for %d missing or duplicated: %q", score, d)
		}
		seen[d] = true
	}
	if len(seen) != 21 {
		t.Fatalf("expected 21 descriptors, got %d", len(seen))
	}
	if ScoreDescriptor(99) != ScoreDescriptor(mood.MaxScore) {
		t.Fatal("out of range scores should clamp")
	}
}

func TestTimeOfDayBuckets(t *testing.T) {
	cases := map[int]Bucket{0: Night, 4: Night, 5: Morning, 11: Morning, 12: Afternoon, 16: Afternoon, 17: Evening, 20: Evening, 21: Night, 23: Night}
	for hour, want := range cases {
		bucket, desc := TimeOfDay(time.Date(2024, 1, 1, hour, 30, 0, 0, time.UTC))
		if bucket != want || desc == "" {
			t.Fatalf("hour %d: got %s (%q), want %s", hour, bucket, desc, want)
		}
	}
}

func TestDeltaAndFlavor(t *testing.T) {
	if Delta(Positive) != 1 || Delta(Negative) != -1 || Delta(Angry) != -1 {
		t.Fatal("unexpected deltas for polar labels")
	}
	if Delta(Neutral) != 0 || Delta(Sarcastic) != 0 {
		t.Fatal("neutral and sarcastic must not move the score")
	}
	if Flavor("bogus") != Flavors[Neutral] {
		t.Fatal("unknown labels should map to the neutral flavor")
	}
}

func TestRandomDailyMoodFromPool(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	got := RandomDailyMood(r)
	for _, m := range DailyMoods {
		if m == got {
			return
		}
	}
	t.Fatalf("mood %q not in pool", got)
}
