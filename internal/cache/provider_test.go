package cache

import (
	"context"
	"testing"
)

func TestNewRedisProviderRequiresAddr(t *testing.T) {
	if _, err := NewRedisProvider(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected missing addr error")
	}
}
