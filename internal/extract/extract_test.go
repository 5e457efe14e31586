package extract

import (
	"slices"
	"testing"
	"time"
)

func TestExtract_Empty(t *testing.T) {
	r := Extract("   ")
	if r.Sentiment != SentimentNeutral || r.Language != LanguageEnglish {
		t.Errorf("unexpected empty result: %+v", r)
	}
	if len(r.Entities) != 0 || len(r.Keywords) != 0 || r.Summary != "" {
		t.Errorf("expected empty collections, got %+v", r)
	}
}

func TestEntities(t *testing.T) {
	text := "Email me at jane.doe@example.com about the 3:30 pm call on Mar 5th"
	entities := Entities(text)

	found := make(map[EntityType]string)
	for _, e := range entities {
		if _, ok := found[e.Type]; !ok {
			found[e.Type] = e.Value
		}
		if text[e.Start:e.End] != e.Value {
			t.Errorf("entity %q has offsets that do not match its value", e.Value)
		}
	}

	if found[EntityEmail] != "jane.doe@example.com" {
		t.Errorf("email = %q", found[EntityEmail])
	}
	if found[EntityTime] != "3:30 pm" {
		t.Errorf("time = %q", found[EntityTime])
	}
	if found[EntityDate] != "Mar 5th" {
		t.Errorf("date = %q", found[EntityDate])
	}
}

func TestEntities_Phone(t *testing.T) {
	entities := Entities("call 012345678 now")
	for _, e := range entities {
		if e.Type == EntityPhone && e.Value == "012345678" {
			return
		}
	}
	t.Errorf("expected phone entity, got %+v", entities)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want Language
	}{
		{"hello there", LanguageEnglish},
		{"សួស្តី", LanguageKhmer},
		{"hello សួស្តី", LanguageMixed},
		{"   ", LanguageEnglish},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.text); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestAnalyzeSentiment(t *testing.T) {
	tests := []struct {
		text string
		want Sentiment
	}{
		{"This is great, thanks!", SentimentPositive},
		{"There is a problem with my order", SentimentNegative},
		{"The sky is blue", SentimentNeutral},
		{"good but bad", SentimentNeutral},
	}
	for _, tt := range tests {
		if got := AnalyzeSentiment(tt.text); got != tt.want {
			t.Errorf("AnalyzeSentiment(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestKeywords_FrequencyThenFirstSeen(t *testing.T) {
	got := Keywords("budget review, project budget, project budget. weather")
	want := []string{"budget", "project", "review", "weather"}
	if !slices.Equal(got, want) {
		t.Errorf("Keywords() = %v, want %v", got, want)
	}
}

func TestKeywords_DropsStopAndShortWords(t *testing.T) {
	got := Keywords("this is what they said about the api")
	if len(got) != 0 {
		t.Errorf("expected no keywords, got %v", got)
	}
}

func TestDetectTopics(t *testing.T) {
	got := DetectTopics("the client meeting about the budget")
	if !slices.Equal(got, []string{"business"}) {
		t.Errorf("DetectTopics() = %v", got)
	}
	if got := DetectTopics("just a meeting"); len(got) != 0 {
		t.Errorf("single keyword should not produce a topic, got %v", got)
	}
}

func TestIntents(t *testing.T) {
	intents := Intents("Can you schedule a meeting on 12/05/2025 at 10:00 am")

	names := make([]string, 0, len(intents))
	var schedule Intent
	for _, in := range intents {
		names = append(names, in.Intent)
		if in.Intent == "schedule" {
			schedule = in
		}
	}
	if !slices.Contains(names, "schedule") || !slices.Contains(names, "question") {
		t.Fatalf("expected schedule and question intents, got %v", names)
	}
	if schedule.Params["date"] != "12/05/2025" {
		t.Errorf("schedule date = %q", schedule.Params["date"])
	}
	if schedule.Params["time"] != "10:00 am" {
		t.Errorf("schedule time = %q", schedule.Params["time"])
	}
}

func TestActionItems(t *testing.T) {
	items := ActionItems("Please send the invoice to Bob. The weather is nice. We need to review the draft!")
	want := []string{"Please send the invoice to Bob", "We need to review the draft"}
	if !slices.Equal(items, want) {
		t.Errorf("ActionItems() = %v, want %v", items, want)
	}
}

func TestSummary(t *testing.T) {
	if got := Summary("short", 150); got != "short" {
		t.Errorf("Summary(short) = %q", got)
	}
	if got := Summary("Only one long sentence here.", 150); got != "Only one long sentence here" {
		t.Errorf("Summary(one) = %q", got)
	}
	if got := Summary("The first long sentence. The second long sentence.", 10); got != "The first ..." {
		t.Errorf("Summary(truncated) = %q", got)
	}
}

func TestContext_Update(t *testing.T) {
	c := NewContext()
	c.now = func() time.Time { return time.Unix(100, 0) }

	c.Update(Extract("Reach me at sam@example.com about the client project budget"))
	c.Update(Extract("Also the other address other@example.com is fine"))

	snap := c.Snapshot()
	if snap.TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", snap.TurnCount)
	}
	if !snap.LastUpdated.Equal(time.Unix(100, 0)) {
		t.Errorf("LastUpdated = %v", snap.LastUpdated)
	}
	if !slices.Contains(snap.Topics, "business") {
		t.Errorf("expected business topic, got %v", snap.Topics)
	}
	if len(snap.Entities) == 0 || snap.Entities[0].Value != "other@example.com" {
		t.Errorf("expected newest entities first, got %+v", snap.Entities)
	}

	info := c.UserInfo()
	if info.Contact.Email != "sam@example.com" {
		t.Errorf("expected first email to stick, got %q", info.Contact.Email)
	}
	if !slices.Contains(info.Interests, "budget") {
		t.Errorf("expected budget interest, got %v", info.Interests)
	}
}

func TestContext_SnapshotIsolated(t *testing.T) {
	c := NewContext()
	c.Update(Extract("client meeting budget"))

	snap := c.Snapshot()
	snap.Topics[0] = "mutated"
	if c.Snapshot().Topics[0] == "mutated" {
		t.Error("snapshot shares storage with the context")
	}
}

func TestContext_Reset(t *testing.T) {
	c := NewContext()
	c.Update(Extract("text me at 012345678, this is great"))
	c.Reset()

	snap := c.Snapshot()
	if snap.TurnCount != 0 || len(snap.Entities) != 0 || snap.Sentiment != SentimentNeutral {
		t.Errorf("expected fresh context, got %+v", snap)
	}
	if info := c.UserInfo(); info.Contact.Phone != "" || len(info.Interests) != 0 {
		t.Errorf("expected fresh user info, got %+v", info)
	}
}

func TestContext_Independent(t *testing.T) {
	a, b := NewContext(), NewContext()
	a.Update(Extract("hello world"))
	if b.Snapshot().TurnCount != 0 {
		t.Error("contexts must not share state")
	}
}
