package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

type EntityType string

const (
	EntityEmail  EntityType = "email"
	EntityPhone  EntityType = "phone"
	EntityDate   EntityType = "date"
	EntityTime   EntityType = "time"
	EntityNumber EntityType = "number"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Language string

const (
	LanguageEnglish Language = "en"
	LanguageKhmer   Language = "km"
	LanguageMixed   Language = "mixed"
)

type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
}

type Intent struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Params     map[string]string `json:"params"`
}

type Result struct {
	Entities    []Entity  `json:"entities"`
	Intents     []Intent  `json:"intents"`
	Keywords    []string  `json:"keywords"`
	Sentiment   Sentiment `json:"sentiment"`
	Language    Language  `json:"language"`
	Summary     string    `json:"summary"`
	ActionItems []string  `json:"action_items"`
}

var (
	emailPattern  = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern  = regexp.MustCompile(`(?:\+?855|0)?[1-9]\d{7,8}|\+?1?\d{10,11}`)
	datePattern   = regexp.MustCompile(`(?i)\b(?:\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}|\d{4}[/\-]\d{1,2}[/\-]\d{1,2}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?|\d{1,2}(?:st|nd|rd|th)?\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?(?:,?\s+\d{4})?)`)
	timePattern   = regexp.MustCompile(`(?i)\b(?:[01]?\d|2[0-3]):[0-5]\d(?::[0-5]\d)?(?:\s*[ap]\.?m\.?)?|\b(?:1[0-2]|0?[1-9])(?::[0-5]\d)?\s*[ap]\.?m\.?\b`)
	numberPattern = regexp.MustCompile(`(?i)\b\d+(?:,\d{3})*(?:\.\d+)?(?:\s*(?:dollars?|usd|\$|៛|riel|percent|%|kg|km|m|cm))?\b`)

	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	imperative    = regexp.MustCompile(`(?i)^(?:please\s+)?(?:can you|could you|would you|i need to|i want to|let's|we should|we need to)`)
	nonWord       = regexp.MustCompile(`[^\w\s\x{1780}-\x{17FF}]`)

	scheduleIntent    = regexp.MustCompile(`(?i)\b(?:schedule|book|set up|arrange|plan)\s+(?:a\s+)?(?:meeting|appointment|call|session)`)
	searchIntent      = regexp.MustCompile(`(?i)\b(?:find|search|look for|look up|get me)\b`)
	reminderIntent    = regexp.MustCompile(`(?i)\b(?:remind|reminder|don't forget|remember to)\b`)
	communicateIntent = regexp.MustCompile(`(?i)\b(?:send|email|call|message|text|contact)\b`)
	questionIntent    = regexp.MustCompile(`(?i)^(?:what|who|where|when|why|how|is|are|can|could|would|do|does)\b`)
)

var actionVerbs = compileVerbs(
	"schedule", "book", "order", "send", "call", "email", "remind", "create",
	"update", "delete", "cancel", "confirm", "check", "find", "search", "buy",
	"sell", "pay", "transfer", "submit", "review", "approve", "reject", "set",
	"add", "remove", "start", "stop", "open", "close", "save", "export",
)

func compileVerbs(verbs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(verbs))
	for i, v := range verbs {
		out[i] = regexp.MustCompile(`(?i)\b` + v + `(?:s|ed|ing)?\b`)
	}
	return out
}

var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{"business", []string{"meeting", "project", "deadline", "client", "sales", "revenue", "report", "budget"}},
	{"personal", []string{"family", "home", "vacation", "birthday", "appointment", "doctor"}},
	{"technical", []string{"code", "bug", "feature", "deploy", "server", "database", "api"}},
	{"communication", []string{"email", "call", "message", "chat", "respond", "reply"}},
	{"finance", []string{"payment", "invoice", "transaction", "balance", "transfer", "account"}},
}

var (
	positiveWords = []string{"good", "great", "excellent", "happy", "love", "thanks", "perfect", "amazing", "wonderful", "pleased", "satisfied", "success", "ល្អ", "អរគុណ"}
	negativeWords = []string{"bad", "terrible", "hate", "angry", "disappointed", "problem", "issue", "wrong", "fail", "error", "cancel", "មិនល្អ", "បញ្ហា"}
)

var stopWords = toSet(
	"the", "and", "for", "are", "but", "not", "you", "all", "can", "her", "was", "one", "our", "out",
	"this", "that", "with", "have", "from", "they", "been", "were", "said", "each", "which", "their",
	"will", "other", "about", "into", "more", "some", "could", "would", "make", "like", "time", "just",
	"know", "take", "come", "these", "than", "then", "what", "there",
)

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

const (
	maxActionItems = 10
	maxKeywords    = 15
	summaryLength  = 150
)

// Extract derives entities, intents, keywords and sentiment from finalized
// turn text. Empty input yields a neutral English result.
func Extract(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{
			Entities:    []Entity{},
			Intents:     []Intent{},
			Keywords:    []string{},
			Sentiment:   SentimentNeutral,
			Language:    LanguageEnglish,
			ActionItems: []string{},
		}
	}
	return Result{
		Entities:    Entities(text),
		Intents:     Intents(text),
		Keywords:    Keywords(text),
		Sentiment:   AnalyzeSentiment(text),
		Language:    DetectLanguage(text),
		Summary:     Summary(text, summaryLength),
		ActionItems: ActionItems(text),
	}
}

func DetectLanguage(text string) Language {
	var khmer, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r >= 0x1780 && r <= 0x17FF {
			khmer++
		}
	}
	if total == 0 {
		return LanguageEnglish
	}

	ratio := float64(khmer) / float64(total)
	switch {
	case ratio > 0.7:
		return LanguageKhmer
	case ratio > 0.2:
		return LanguageMixed
	default:
		return LanguageEnglish
	}
}

func AnalyzeSentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	score := 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score--
		}
	}

	switch {
	case score > 0:
		return SentimentPositive
	case score < 0:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Entities returns matches grouped by type in the order email, phone, date,
// time, number. Offsets are byte offsets into text.
func Entities(text string) []Entity {
	entities := []Entity{}
	for _, p := range []struct {
		kind       EntityType
		re         *regexp.Regexp
		confidence float64
	}{
		{EntityEmail, emailPattern, 0.95},
		{EntityPhone, phonePattern, 0.85},
		{EntityDate, datePattern, 0.8},
		{EntityTime, timePattern, 0.85},
		{EntityNumber, numberPattern, 0.75},
	} {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{
				Type:       p.kind,
				Value:      text[loc[0]:loc[1]],
				Confidence: p.confidence,
				Start:      loc[0],
				End:        loc[1],
			})
		}
	}
	return entities
}

func sentences(text string) []string {
	var out []string
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func ActionItems(text string) []string {
	items := []string{}
	for _, sentence := range sentences(text) {
		lower := strings.ToLower(strings.TrimSpace(sentence))

		actionable := imperative.MatchString(lower)
		for _, verb := range actionVerbs {
			if actionable {
				break
			}
			actionable = verb.MatchString(lower)
		}
		if !actionable {
			continue
		}

		clean := strings.TrimSpace(sentence)
		if n := len([]rune(clean)); n > 5 && n < 200 {
			items = append(items, clean)
		}
		if len(items) == maxActionItems {
			break
		}
	}
	return items
}

// Keywords returns up to 15 words longer than three characters, most
// frequent first, ties in order of first appearance.
func Keywords(text string) []string {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(text), " ")

	counts := make(map[string]int)
	var order []string
	for _, w := range strings.Fields(cleaned) {
		if len([]rune(w)) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	if order == nil {
		return []string{}
	}
	return order
}

// DetectTopics reports every topic with at least two of its keywords in text.
func DetectTopics(text string) []string {
	lower := strings.ToLower(text)
	topics := []string{}
	for _, t := range topicKeywords {
		matches := 0
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				matches++
			}
		}
		if matches >= 2 {
			topics = append(topics, t.topic)
		}
	}
	return topics
}

func Intents(text string) []Intent {
	intents := []Intent{}
	lower := strings.ToLower(text)

	if scheduleIntent.MatchString(text) {
		intents = append(intents, Intent{
			Intent:     "schedule",
			Confidence: 0.85,
			Params: map[string]string{
				"date": datePattern.FindString(text),
				"time": timePattern.FindString(text),
			},
		})
	}
	if searchIntent.MatchString(text) {
		intents = append(intents, Intent{Intent: "search", Confidence: 0.8, Params: map[string]string{}})
	}
	if reminderIntent.MatchString(text) {
		intents = append(intents, Intent{Intent: "reminder", Confidence: 0.85, Params: map[string]string{}})
	}
	if communicateIntent.MatchString(text) {
		intents = append(intents, Intent{
			Intent:     "communicate",
			Confidence: 0.8,
			Params: map[string]string{
				"email": emailPattern.FindString(text),
				"phone": phonePattern.FindString(text),
			},
		})
	}
	if questionIntent.MatchString(lower) {
		intents = append(intents, Intent{Intent: "question", Confidence: 0.9, Params: map[string]string{}})
	}
	return intents
}

// Summary returns the first sentence longer than ten characters, truncated
// to maxLength runes.
func Summary(text string, maxLength int) string {
	var long []string
	for _, s := range sentenceSplit.Split(text, -1) {
		if len([]rune(strings.TrimSpace(s))) > 10 {
			long = append(long, s)
		}
	}

	switch len(long) {
	case 0:
		return truncate(text, maxLength, "")
	case 1:
		return strings.TrimSpace(long[0])
	default:
		return truncate(strings.TrimSpace(long[0]), maxLength, "...")
	}
}

func truncate(s string, n int, suffix string) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + suffix
}
