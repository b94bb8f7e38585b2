package timeparsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestParseCompactDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"+6h", testNow.Add(6 * time.Hour)},
		{"-6h", testNow.Add(-6 * time.Hour)},
		{"1d", testNow.AddDate(0, 0, 1)},
		{"-1d", testNow.AddDate(0, 0, -1)},
		{"+2w", testNow.AddDate(0, 0, 14)},
		{"3m", testNow.AddDate(0, 3, 0)},
		{"-1y", testNow.AddDate(-1, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.in, testNow)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}

	_, err := ParseCompactDuration("6 hours", testNow)
	assert.Error(t, err)
}

func TestIsCompactDuration(t *testing.T) {
	for _, s := range []string{"+6h", "-1d", "2w", "12m", "1y"} {
		assert.True(t, IsCompactDuration(s), s)
	}
	for _, s := range []string{"", "h", "6", "6 h", "+6s", "yesterday", "2026-01-01"} {
		assert.False(t, IsCompactDuration(s), s)
	}
}

func TestParseLayers(t *testing.T) {
	t.Run("compact wins first", func(t *testing.T) {
		got, err := Parse("-2d", testNow)
		require.NoError(t, err)
		assert.True(t, got.Equal(testNow.AddDate(0, 0, -2)))
	})

	t.Run("natural language", func(t *testing.T) {
		got, err := Parse("2 days ago", testNow)
		require.NoError(t, err)
		assert.Equal(t, testNow.AddDate(0, 0, -2).Day(), got.Day())
	})

	t.Run("rfc3339", func(t *testing.T) {
		got, err := Parse("2026-03-01T09:30:00Z", testNow)
		require.NoError(t, err)
		assert.True(t, got.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)))
	})

	t.Run("date only", func(t *testing.T) {
		got, err := Parse("2026-03-01", testNow)
		require.NoError(t, err)
		assert.Equal(t, 2026, got.Year())
		assert.Equal(t, time.March, got.Month())
		assert.Equal(t, 1, got.Day())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Parse("", testNow)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Parse("the heat death of the universe", testNow)
		assert.Error(t, err)
	})
}

func TestParseTTL(t *testing.T) {
	t.Run("go duration", func(t *testing.T) {
		d, err := ParseTTL("30m", testNow)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Minute, d)
	})

	t.Run("compact day", func(t *testing.T) {
		d, err := ParseTTL("+1d", testNow)
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, d)
	})

	t.Run("negative rejected", func(t *testing.T) {
		_, err := ParseTTL("-30m", testNow)
		assert.Error(t, err)
	})

	t.Run("past expression rejected", func(t *testing.T) {
		_, err := ParseTTL("-1d", testNow)
		assert.Error(t, err)
	})
}
