// Package words provides the reference texts that typing sessions are judged
// against. A Source yields an ordered token sequence for a list id, language,
// and count; the resulting ReferenceText is immutable for the lifetime of the
// session it seeds.
package words

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
)

// ErrNoWordlists is returned when no source can supply tokens for the
// requested list and language.
var ErrNoWordlists = errors.New("no wordlists available")

// Request describes the reference text a session needs.
type Request struct {
	ListID   string
	Language string
	Count    int
}

// Source supplies ordered target tokens. Implementations must honor the
// context deadline; fetches happen before a session is installed, never
// inside an engine's critical section.
type Source interface {
	Fetch(ctx context.Context, req Request) ([]string, error)
}

// ReferenceText is the immutable target text for one session. The joined
// form uses a single space delimiter; positions index into Chars.
type ReferenceText struct {
	Tokens []string `json:"tokens"`
	Joined string   `json:"joined"`
	Chars  []rune   `json:"-"`
}

// NewReferenceText builds the joined form and character index.
func NewReferenceText(tokens []string) ReferenceText {
	joined := strings.Join(tokens, " ")
	return ReferenceText{
		Tokens: tokens,
		Joined: joined,
		Chars:  []rune(joined),
	}
}

// Len returns the total character count of the joined text.
func (rt ReferenceText) Len() int { return len(rt.Chars) }

// CharAt returns the reference character at the given position and whether
// the position is in range.
func (rt ReferenceText) CharAt(pos int) (rune, bool) {
	if pos < 0 || pos >= len(rt.Chars) {
		return 0, false
	}
	return rt.Chars[pos], true
}

// StaticSource serves word lists held in memory. It ships with a built-in
// English list so the engine can run without any external word store.
type StaticSource struct {
	mu    sync.Mutex
	lists map[string][]string
	rng   *rand.Rand
}

// NewStaticSource creates a StaticSource seeded with the built-in lists.
// The rng seed is taken from the caller so tests can be deterministic.
func NewStaticSource(seed int64) *StaticSource {
	return &StaticSource{
		lists: map[string][]string{
			"en:common": commonEnglish,
		},
		rng: rand.New(rand.NewPCG(uint64(seed), 0)),
	}
}

// AddList registers an additional list under language:listID.
func (s *StaticSource) AddList(language, listID string, tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[language+":"+listID] = tokens
}

// Fetch samples Count tokens uniformly from the requested list.
func (s *StaticSource) Fetch(_ context.Context, req Request) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lookupLocked(req)
	if len(list) == 0 {
		return nil, ErrNoWordlists
	}
	if req.Count <= 0 {
		return nil, errors.New("count must be positive")
	}

	out := make([]string, req.Count)
	for i := range out {
		out[i] = list[s.rng.IntN(len(list))]
	}
	return out, nil
}

func (s *StaticSource) lookupLocked(req Request) []string {
	language := req.Language
	if language == "" {
		language = "en"
	}
	listID := req.ListID
	if listID == "" {
		listID = "common"
	}
	if list, ok := s.lists[language+":"+listID]; ok {
		return list
	}
	// Unknown list ids fall back to the language's common list.
	return s.lists[language+":common"]
}

// Chain tries sources in order, returning the first success. A later source
// only sees requests the earlier ones failed.
type Chain []Source

func (c Chain) Fetch(ctx context.Context, req Request) ([]string, error) {
	var lastErr error = ErrNoWordlists
	for _, s := range c {
		tokens, err := s.Fetch(ctx, req)
		if err == nil {
			return tokens, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
