package config

import (
	"testing"
	"time"

	gconfig "github.com/Laisky/go-config/v2"
	"github.com/stretchr/testify/require"
)

func TestValueReaders(t *testing.T) {
	gconfig.S.Set("test.values.int_str", " 42 ")
	gconfig.S.Set("test.values.int_bad", "abc")
	gconfig.S.Set("test.values.float", 0.25)
	gconfig.S.Set("test.values.dur_str", "150ms")
	gconfig.S.Set("test.values.dur_int", 3)
	gconfig.S.Set("test.values.list", "a, b,,c")
	gconfig.S.Set("test.values.list_any", []any{"x", 1, "y"})

	require.Equal(t, 42, Int("test.values.int_str", 1))
	require.Equal(t, 7, Int("test.values.int_bad", 7))
	require.Equal(t, 9, Int("test.values.missing", 9))
	require.InDelta(t, 0.25, Float("test.values.float", 1), 1e-9)
	require.Equal(t, 150*time.Millisecond, Duration("test.values.dur_str", time.Second))
	require.Equal(t, 3*time.Second, Duration("test.values.dur_int", time.Second))
	require.Equal(t, time.Minute, Duration("test.values.missing", time.Minute))
	require.Equal(t, []string{"a", "b", "c"}, Strings("test.values.list", nil))
	require.Equal(t, []string{"x", "y"}, Strings("test.values.list_any", nil))
	require.Equal(t, "fallback", String("test.values.missing", "fallback"))

	gconfig.S.Set("test.values.flag", "false")
	require.False(t, Bool("test.values.flag", true))
	require.True(t, Bool("test.values.missing", true))
}
