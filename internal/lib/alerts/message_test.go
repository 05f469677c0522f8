package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
)

func TestTemplateComposer(t *testing.T) {
	tests := []struct {
		name      string
		in        MessageInput
		wantTitle string
		wantBody  string
	}{
		{
			name:      "responder",
			in:        MessageInput{Audience: AudienceResponder, CongestedKm: 2},
			wantTitle: "New Traffic Alert",
			wantBody:  "Traffic congestion detected: 2.00km",
		},
		{
			name:      "requester without route",
			in:        MessageInput{Audience: AudienceRequester, CongestedKm: 1.234},
			wantTitle: "Traffic Alert",
			wantBody:  "Traffic congestion detected on your route: 1.23km",
		},
		{
			name:      "requester on saved route",
			in:        MessageInput{Audience: AudienceRequester, CongestedKm: 3.5, OnRoute: true},
			wantTitle: "Route Traffic Alert",
			wantBody:  "Traffic congestion detected on your route: 3.50km",
		},
		{
			name:      "daily route owner",
			in:        MessageInput{Audience: AudienceRouteOwner, CongestedKm: 0.75},
			wantTitle: "Daily Route Traffic",
			wantBody:  "Traffic alert on your daily route: 0.75 km congestion detected",
		},
	}

	composer := NewTemplateComposer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := composer.Compose(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, msg.Title)
			assert.Equal(t, tt.wantBody, msg.Body)
		})
	}
}

type mapMessageCache struct {
	mu       sync.Mutex
	messages map[string]Message
	getErr   error
	setErr   error
}

func (c *mapMessageCache) GetMessage(hash string) (Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return Message{}, false, c.getErr
	}
	m, ok := c.messages[hash]
	return m, ok, nil
}

func (c *mapMessageCache) SetMessage(hash string, m Message, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.messages[hash] = m
	return nil
}

type countingComposer struct {
	calls int
}

func (c *countingComposer) Compose(_ context.Context, in MessageInput) (Message, error) {
	c.calls++
	return Message{Title: "Slowdown", Body: string(in.Severity)}, nil
}

func TestCachedComposer(t *testing.T) {
	inner := &countingComposer{}
	cache := &mapMessageCache{messages: map[string]Message{}}
	composer := NewCachedComposer(inner, cache, 0, zap.NewNop().Sugar())

	in := MessageInput{Audience: AudienceResponder, CongestedKm: 2, Severity: congestion.SeverityMedium}

	first, err := composer.Compose(context.Background(), in)
	require.NoError(t, err)
	second, err := composer.Compose(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	in.Severity = congestion.SeverityHigh
	third, err := composer.Compose(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "HIGH", third.Body)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedComposer_CacheErrors(t *testing.T) {
	inner := &countingComposer{}
	cache := &mapMessageCache{
		messages: map[string]Message{},
		getErr:   errors.New("read failed"),
		setErr:   errors.New("write failed"),
	}
	composer := NewCachedComposer(inner, cache, time.Minute, zap.NewNop().Sugar())

	msg, err := composer.Compose(context.Background(), MessageInput{Audience: AudienceRequester})
	require.NoError(t, err)
	assert.Equal(t, "Slowdown", msg.Title)
}

func TestCachedComposer_PropagatesComposerError(t *testing.T) {
	cache := &mapMessageCache{messages: map[string]Message{}}
	composer := NewCachedComposer(failingComposer{}, cache, time.Minute, zap.NewNop().Sugar())

	_, err := composer.Compose(context.Background(), MessageInput{})
	assert.Error(t, err)
	assert.Empty(t, cache.messages)
}

func TestOpenAIComposer_MissingKey(t *testing.T) {
	composer := NewOpenAIComposer("", "")

	_, err := composer.Compose(context.Background(), MessageInput{Audience: AudienceResponder})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing API key")
}
