package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("WABOT_TEST_INT", "42")
	t.Setenv("WABOT_TEST_BAD_INT", "abc")
	t.Setenv("WABOT_TEST_BOOL", "yes")
	t.Setenv("WABOT_TEST_DURATION", "7")
	t.Setenv("WABOT_TEST_LIST", " a, ,b ,c")

	assert.Equal(t, 42, GetEnvAsInt("WABOT_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("WABOT_TEST_BAD_INT", 1))
	assert.Equal(t, 5, GetEnvAsInt("WABOT_TEST_MISSING", 5))
	assert.True(t, GetEnvAsBool("WABOT_TEST_BOOL", false))
	assert.True(t, GetEnvAsBool("WABOT_TEST_MISSING", true))
	assert.Equal(t, 7*time.Second, GetEnvAsDuration("WABOT_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvAsList("WABOT_TEST_LIST"))
	assert.Equal(t, "fallback", GetEnv("WABOT_TEST_MISSING", "fallback"))
}
