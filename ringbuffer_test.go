package ppdbg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func entryTopics(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Topic)
	}
	return out
}

func TestRingBuffer(t *testing.T) {
	t.Run("before wrap", func(t *testing.T) {
		r := NewRingBuffer(4)
		r.Add(Entry{Topic: "a"})
		r.Add(Entry{Topic: "b"})
		assert.Equal(t, 2, r.Len())
		assert.Equal(t, []string{"a", "b"}, entryTopics(r.LastN(10)))
		assert.Equal(t, []string{"b"}, entryTopics(r.LastN(1)))
	})

	t.Run("after wrap", func(t *testing.T) {
		r := NewRingBuffer(3)
		for _, topic := range []string{"a", "b", "c", "d", "e"} {
			r.Add(Entry{Topic: topic})
		}
		assert.Equal(t, 3, r.Len())
		assert.Equal(t, []string{"c", "d", "e"}, entryTopics(r.LastN(3)))
		assert.Equal(t, []string{"d", "e"}, entryTopics(r.LastN(2)))
	})

	t.Run("disabled", func(t *testing.T) {
		r := NewRingBuffer(-1)
		r.Add(Entry{Topic: "a"})
		assert.Equal(t, 0, r.Len())
		assert.Nil(t, r.LastN(5))
	})

	t.Run("non-positive n", func(t *testing.T) {
		r := NewRingBuffer(2)
		r.Add(Entry{Topic: "a"})
		assert.Nil(t, r.LastN(0))
	})
}
