package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	r "github.com/go-redis/redis/v8"
)

// MockRedisClient is a mock for the Redis client in the redis package.
type MockRedisClient struct {
	Client
	data map[string]interface{}
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		data: make(map[string]interface{}),
	}
}

func (m *MockRedisClient) IncrByFloat(ctx context.Context, key string, value float64) *r.FloatCmd {
	if v, ok := m.data[key]; ok {
		if f, ok := v.(float64); ok {
			m.data[key] = f + value
		} else {
			m.data[key] = value
		}
	} else {
		m.data[key] = value
	}
	cmd := r.NewFloatCmd(ctx)
	cmd.SetVal(m.data[key].(float64))
	return cmd
}

func (m *MockRedisClient) IncrBy(ctx context.Context, key string, value int64) *r.IntCmd {
	if v, ok := m.data[key]; ok {
		if i, ok := v.(int64); ok {
			m.data[key] = i + value
		} else {
			m.data[key] = value
		}
	} else {
		m.data[key] = value
	}
	cmd := r.NewIntCmd(ctx)
	cmd.SetVal(m.data[key].(int64))
	return cmd
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *r.StringCmd {
	cmd := r.NewStringCmd(ctx)
	if value, ok := m.data[key]; ok {
		strValue := fmt.Sprintf("%v", value) // Convert the value to a string
		cmd.SetVal(strValue)
	} else {
		cmd.SetVal("")
		cmd.SetErr(errors.New("key not found"))
	}
	return cmd
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *r.StatusCmd {
	m.data[key] = value
	cmd := r.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *r.IntCmd {
	var deleted int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			delete(m.data, key)
			deleted++
		}
	}
	cmd := r.NewIntCmd(ctx)
	cmd.SetVal(deleted)
	return cmd
}

func (m *MockRedisClient) Keys(ctx context.Context, pattern string) *r.StringSliceCmd {
	cmd := r.NewStringSliceCmd(ctx)
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	cmd.SetVal(keys)
	return cmd
}

func (m *MockRedisClient) Ping(ctx context.Context) *r.StatusCmd {
	cmd := r.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}
