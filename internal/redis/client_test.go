package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "events:user-1", EventChannel("user-1"))
	assert.Equal(t, "flags:skill_builder_enabled", FlagKey("skill_builder_enabled"))
	assert.Equal(t, "ratelimit:user-1", RateLimitKey("user-1"))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)
}
