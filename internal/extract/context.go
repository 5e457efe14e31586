package extract

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	maxContextEntities = 50
	maxContextTopics   = 10
	maxRecentTopics    = 5
	maxInterests       = 20
)

type ConversationContext struct {
	Topics      []string  `json:"topics"`
	Entities    []Entity  `json:"entities"`
	Sentiment   Sentiment `json:"sentiment"`
	Language    Language  `json:"language"`
	TurnCount   int       `json:"turn_count"`
	LastUpdated time.Time `json:"last_updated"`
}

type ContactInfo struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type UserInfo struct {
	Name         string      `json:"name,omitempty"`
	Preferences  []string    `json:"preferences"`
	Interests    []string    `json:"interests"`
	Contact      ContactInfo `json:"contact"`
	RecentTopics []string    `json:"recent_topics"`
	Language     Language    `json:"language"`
}

var fillerKeywords = toSet("want", "need", "like", "please", "would", "could")

// Context accumulates extraction results across the turns of one
// conversation. Each controller owns its own Context.
type Context struct {
	now func() time.Time

	mu   sync.Mutex
	conv ConversationContext
	user UserInfo
}

func NewContext() *Context {
	c := &Context{now: time.Now}
	c.Reset()
	return c
}

func (c *Context) Update(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conv.TurnCount++
	c.conv.LastUpdated = c.now()
	c.conv.Sentiment = r.Sentiment
	c.conv.Language = r.Language

	entities := append(slices.Clone(r.Entities), c.conv.Entities...)
	c.conv.Entities = head(entities, maxContextEntities)

	topics := DetectTopics(strings.Join(r.Keywords, " "))
	c.conv.Topics = head(dedupe(append(topics, c.conv.Topics...)), maxContextTopics)

	for _, e := range r.Entities {
		switch {
		case e.Type == EntityEmail && c.user.Contact.Email == "":
			c.user.Contact.Email = e.Value
		case e.Type == EntityPhone && c.user.Contact.Phone == "":
			c.user.Contact.Phone = e.Value
		}
	}
	c.user.RecentTopics = head(slices.Clone(c.conv.Topics), maxRecentTopics)
	c.user.Language = r.Language

	var interests []string
	for _, kw := range r.Keywords {
		if _, filler := fillerKeywords[kw]; !filler {
			interests = append(interests, kw)
		}
	}
	c.user.Interests = head(dedupe(append(interests, c.user.Interests...)), maxInterests)
}

// Snapshot returns a copy that is safe to retain.
func (c *Context) Snapshot() ConversationContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.conv
	out.Topics = slices.Clone(c.conv.Topics)
	out.Entities = slices.Clone(c.conv.Entities)
	return out
}

func (c *Context) UserInfo() UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.user
	out.Preferences = slices.Clone(c.user.Preferences)
	out.Interests = slices.Clone(c.user.Interests)
	out.RecentTopics = slices.Clone(c.user.RecentTopics)
	return out
}

func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conv = ConversationContext{
		Topics:      []string{},
		Entities:    []Entity{},
		Sentiment:   SentimentNeutral,
		Language:    LanguageEnglish,
		LastUpdated: c.now(),
	}
	c.user = UserInfo{
		Preferences:  []string{},
		Interests:    []string{},
		RecentTopics: []string{},
		Language:     LanguageEnglish,
	}
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func dedupe(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
