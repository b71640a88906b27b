package words

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceText(t *testing.T) {
	rt := NewReferenceText([]string{"the", "quick", "fox"})

	assert.Equal(t, "the quick fox", rt.Joined)
	assert.Equal(t, 13, rt.Len())

	ch, ok := rt.CharAt(0)
	require.True(t, ok)
	assert.Equal(t, 't', ch)

	ch, ok = rt.CharAt(3)
	require.True(t, ok)
	assert.Equal(t, ' ', ch)

	_, ok = rt.CharAt(13)
	assert.False(t, ok)
	_, ok = rt.CharAt(-1)
	assert.False(t, ok)
}

func TestStaticSource_Fetch(t *testing.T) {
	s := NewStaticSource(42)

	tokens, err := s.Fetch(context.Background(), Request{Count: 45})
	require.NoError(t, err)
	assert.Len(t, tokens, 45)
	for _, tok := range tokens {
		assert.NotEmpty(t, tok)
	}
}

func TestStaticSource_SameSeedSamplesSameTokens(t *testing.T) {
	a := NewStaticSource(42)
	b := NewStaticSource(42)

	first, err := a.Fetch(context.Background(), Request{Count: 25})
	require.NoError(t, err)
	second, err := b.Fetch(context.Background(), Request{Count: 25})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other := NewStaticSource(43)
	third, err := other.Fetch(context.Background(), Request{Count: 25})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestStaticSource_UnknownListFallsBack(t *testing.T) {
	s := NewStaticSource(1)

	tokens, err := s.Fetch(context.Background(), Request{ListID: "no-such-list", Count: 10})
	require.NoError(t, err)
	assert.Len(t, tokens, 10)
}

func TestStaticSource_UnknownLanguage(t *testing.T) {
	s := NewStaticSource(1)

	_, err := s.Fetch(context.Background(), Request{Language: "xx", Count: 10})
	assert.ErrorIs(t, err, ErrNoWordlists)
}

func TestStaticSource_AddList(t *testing.T) {
	s := NewStaticSource(1)
	s.AddList("fr", "common", []string{"le", "la", "et"})

	tokens, err := s.Fetch(context.Background(), Request{Language: "fr", Count: 5})
	require.NoError(t, err)
	assert.Len(t, tokens, 5)
	for _, tok := range tokens {
		assert.Contains(t, []string{"le", "la", "et"}, tok)
	}
}

func TestRedisSource_Fetch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	mr.Lpush(Key("en", "quotes"), "hello")
	mr.Lpush(Key("en", "quotes"), "world")

	s := NewRedisSource(client, 7)
	tokens, err := s.Fetch(context.Background(), Request{Language: "en", ListID: "quotes", Count: 8})
	require.NoError(t, err)
	assert.Len(t, tokens, 8)
	for _, tok := range tokens {
		assert.Contains(t, []string{"hello", "world"}, tok)
	}
}

func TestRedisSource_EmptyList(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	s := NewRedisSource(client, 7)
	_, err := s.Fetch(context.Background(), Request{Language: "en", ListID: "empty", Count: 5})
	assert.ErrorIs(t, err, ErrNoWordlists)
}

func TestChain_FallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	chain := Chain{NewRedisSource(client, 1), NewStaticSource(1)}

	// Redis has nothing: the static source answers.
	tokens, err := chain.Fetch(context.Background(), Request{Count: 12})
	require.NoError(t, err)
	assert.Len(t, tokens, 12)

	// Redis has the list: it wins.
	mr.Lpush(Key("en", "common"), "redisword")
	tokens, err = chain.Fetch(context.Background(), Request{Count: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"redisword", "redisword", "redisword"}, tokens)
}
