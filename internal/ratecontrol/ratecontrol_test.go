package ratecontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitForKnownProvider(t *testing.T) {
	p := NewPacer(nil)
	assert.Equal(t, 100, p.LimitFor("tavily").RPM)
	assert.Equal(t, 20, p.LimitFor(" ArXiv ").RPM)
}

func TestLimitForUnknownProviderUsesDefault(t *testing.T) {
	p := NewPacer(nil)
	assert.Equal(t, defaultRPM, p.LimitFor("something-new").RPM)
	assert.Equal(t, defaultRPM, p.LimitFor("").RPM)
}

func TestOverridesWinOverBuiltIns(t *testing.T) {
	p := NewPacer(map[string]Limit{"tavily": {RPM: 5}})
	assert.Equal(t, 5, p.LimitFor("tavily").RPM)
}

func TestWaitWithinBurstDoesNotBlock(t *testing.T) {
	p := NewPacer(map[string]Limit{"fast": {RPM: 6000}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Wait(ctx, "fast"))
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	p := NewPacer(map[string]Limit{"slow": {RPM: 1}})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// First call consumes the single burst token.
	require.NoError(t, p.Wait(ctx, "slow"))
	err := p.Wait(ctx, "slow")
	require.Error(t, err)
}

func TestLimiterIsSharedPerProvider(t *testing.T) {
	p := NewPacer(nil)
	a := p.limiterFor("tavily")
	b := p.limiterFor("TAVILY")
	assert.Same(t, a, b)
}
