package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRUCacheConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name     string
		input    LRUCacheConfig
		expected LRUCacheConfig
	}{
		{
			name:     "zero values get defaults",
			input:    LRUCacheConfig{},
			expected: LRUCacheConfig{Size: 300, TTL: 5 * time.Minute},
		},
		{
			name:     "positive values are preserved",
			input:    LRUCacheConfig{Size: 500, TTL: 10 * time.Minute},
			expected: LRUCacheConfig{Size: 500, TTL: 10 * time.Minute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.input.applyDefaults()
			require.Equal(t, tt.expected, result)
		})
	}
}

func TestLRUCache_Basic(t *testing.T) {
	cache := NewLRUCache(LRUCacheConfig{Size: 3, TTL: time.Hour})

	require.Equal(t, 0, cache.Size())
	require.False(t, cache.Has("key1"))

	cache.Add("key1")
	require.True(t, cache.Has("key1"))
	require.Equal(t, 1, cache.Size())

	cache.Add("key2")
	cache.Add("key3")
	require.Equal(t, 3, cache.Size())

	require.True(t, cache.Has("key1"))
	require.True(t, cache.Has("key2"))
	require.True(t, cache.Has("key3"))
}

func TestLRUCache_SizeLimit(t *testing.T) {
	cache := NewLRUCache(LRUCacheConfig{Size: 2, TTL: time.Hour})

	cache.Add("key1")
	cache.Add("key2")
	require.Equal(t, 2, cache.Size())

	cache.Add("key3")
	require.Equal(t, 2, cache.Size())
	require.False(t, cache.Has("key1"))
	require.True(t, cache.Has("key2"))
	require.True(t, cache.Has("key3"))
}

func TestLRUCache_LRUOrdering(t *testing.T) {
	cache := NewLRUCache(LRUCacheConfig{Size: 2, TTL: time.Hour})

	cache.Add("key1")
	cache.Add("key2")
	cache.Add("key1") // Re-adding moves it to the back.
	cache.Add("key3")

	require.True(t, cache.Has("key1"))
	require.False(t, cache.Has("key2"))
	require.True(t, cache.Has("key3"))
}

func TestLRUCache_TTL(t *testing.T) {
	cache := NewLRUCache(LRUCacheConfig{Size: 10, TTL: 50 * time.Millisecond})

	cache.Add("key1")
	require.True(t, cache.Has("key1"))

	time.Sleep(60 * time.Millisecond)
	require.False(t, cache.Has("key1"))
}

func TestLRUCache_Delete(t *testing.T) {
	cache := NewLRUCache(LRUCacheConfig{Size: 10, TTL: time.Hour})

	cache.Add("key1")
	cache.Add("key2")
	require.Equal(t, 2, cache.Size())

	cache.Delete("key1")
	require.False(t, cache.Has("key1"))
	require.True(t, cache.Has("key2"))
	require.Equal(t, 1, cache.Size())

	cache.Delete("nonexistent")
	require.Equal(t, 1, cache.Size())
}

func TestLRUCache_Clear(t *testing.T) {
	cache := NewLRUCache(LRUCacheConfig{Size: 10, TTL: time.Hour})

	cache.Add("key1")
	cache.Add("key2")
	cache.Add("key3")
	require.Equal(t, 3, cache.Size())

	cache.Clear()
	require.Equal(t, 0, cache.Size())
	require.False(t, cache.Has("key1"))
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	cache := NewLRUCache(LRUCacheConfig{Size: 100, TTL: time.Hour})

	done := make(chan bool, 10)
	for i := 0; i < 5; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				key := string(rune('a' + id))
				cache.Add(key)
				cache.Has(key)
			}
			done <- true
		}(i)
	}
	for i := 0; i < 5; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				cache.Has(string(rune('a' + id)))
			}
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	require.True(t, cache.Size() > 0)
}
