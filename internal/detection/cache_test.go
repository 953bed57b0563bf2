package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	t.Run("normalization collapses case and whitespace", func(t *testing.T) {
		t.Parallel()
		a := Fingerprint("Buy  CHEAP   pills\nnow")
		b := Fingerprint("buy cheap pills now")
		assert.Equal(t, a, b)
	})

	t.Run("distinct text produces distinct keys", func(t *testing.T) {
		t.Parallel()
		assert.NotEqual(t, Fingerprint("hello"), Fingerprint("goodbye"))
	})

	t.Run("config parts are part of the key", func(t *testing.T) {
		t.Parallel()
		assert.NotEqual(t,
			Fingerprint("hello", "gpt-4o-mini", "prompt-a"),
			Fingerprint("hello", "gpt-4o-mini", "prompt-b"))
	})

	t.Run("part boundaries are unambiguous", func(t *testing.T) {
		t.Parallel()
		assert.NotEqual(t, Fingerprint("x", "ab", "c"), Fingerprint("x", "a", "bc"))
	})
}

func TestCache(t *testing.T) {
	t.Parallel()

	t.Run("set then get", func(t *testing.T) {
		t.Parallel()
		c := NewCache(16, time.Minute)
		key := Fingerprint("some spam text")
		c.Set(key, Response{CheckName: "test", Result: ResultSpam, Confidence: 95})

		got, ok := c.Get(key)
		require.True(t, ok)
		assert.Equal(t, ResultSpam, got.Result)
		assert.Equal(t, 95, got.Confidence)
	})

	t.Run("miss on unknown key", func(t *testing.T) {
		t.Parallel()
		c := NewCache(16, time.Minute)
		_, ok := c.Get(Fingerprint("never stored"))
		assert.False(t, ok)
	})

	t.Run("entries expire", func(t *testing.T) {
		t.Parallel()
		c := NewCache(16, 10*time.Millisecond)
		key := Fingerprint("short lived")
		c.Set(key, Response{Result: ResultSpam})

		assert.Eventually(t, func() bool {
			_, ok := c.Get(key)
			return !ok
		}, time.Second, 5*time.Millisecond)
	})
}
