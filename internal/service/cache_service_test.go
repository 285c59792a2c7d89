package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
)

type cacheRepoStub struct {
	values  map[string][]byte
	ttls    map[string]time.Duration
	failGet error
}

func newCacheRepoStub() *cacheRepoStub {
	return &cacheRepoStub{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	if c.failGet != nil {
		return c.failGet
	}
	raw, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = raw
	c.ttls[key] = ttl
	return nil
}

func (c *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.values {
		if key == pattern || (strings.HasSuffix(pattern, "*") && strings.HasPrefix(key, prefix)) {
			delete(c.values, key)
		}
	}
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newCacheRepoStub()
	svc := NewCacheService(repo, NewMetricsService(), time.Hour, nil, true)

	set := mexicoRuleSet()
	require.NoError(t, svc.Set(context.Background(), "rules:MX", set, 0))
	assert.Equal(t, time.Hour, repo.ttls["rules:MX"])

	var cached models.CountryRuleSet
	hit, err := svc.Get(context.Background(), "rules:MX", &cached)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, set.Rules, cached.Rules)

	hit, err = svc.Get(context.Background(), "rules:BR", &cached)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Invalidate(context.Background(), "rules:*"))
	hit, _ = svc.Get(context.Background(), "rules:MX", &cached)
	assert.False(t, hit)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newCacheRepoStub()
	svc := NewCacheService(repo, nil, 0, nil, false)

	require.NoError(t, svc.Set(context.Background(), "rules:MX", mexicoRuleSet(), time.Minute))
	assert.Empty(t, repo.values)

	var nilSvc *CacheService
	hit, err := nilSvc.Get(context.Background(), "rules:MX", &models.CountryRuleSet{})
	assert.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheServiceBackendError(t *testing.T) {
	repo := newCacheRepoStub()
	repo.failGet = errors.New("connection refused")
	svc := NewCacheService(repo, NewMetricsService(), 0, nil, true)

	hit, err := svc.Get(context.Background(), "rules:MX", &models.CountryRuleSet{})
	assert.Error(t, err)
	assert.False(t, hit)
}
