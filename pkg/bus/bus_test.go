package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, events ...string) *Bus {
	t.Helper()
	registry := NewRegistry()
	for _, e := range events {
		require.NoError(t, registry.Register(e, Schema{}))
	}
	return New(registry)
}

func TestSubscribe_UnknownEventRejected(t *testing.T) {
	b := newTestBus(t, "task:created")

	_, err := b.Subscribe("task:deleted", func(context.Context, Payload) error { return nil })
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPublish_UnknownEventRejected(t *testing.T) {
	b := newTestBus(t, "task:created")

	err := b.Publish(context.Background(), "task:deleted", Payload{})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPublish_SchemaValidation(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("task:created", Schema{Fields: []Field{
		{Name: "taskId", Kind: KindString, Required: true},
		{Name: "points", Kind: KindNumber},
	}}))
	b := New(registry)
	ctx := context.Background()

	err := b.Publish(ctx, "task:created", Payload{"points": 3})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "task:created", schemaErr.Event)
	require.Len(t, schemaErr.Fields, 1)
	assert.Equal(t, "taskId", schemaErr.Fields[0].Field)

	err = b.Publish(ctx, "task:created", Payload{"taskId": "t-1", "points": "three"})
	require.ErrorAs(t, err, &schemaErr)

	assert.NoError(t, b.Publish(ctx, "task:created", Payload{"taskId": "t-1", "points": 3}))
}

func TestPublish_DeliversToExactAndPattern(t *testing.T) {
	b := newTestBus(t, "task:created", "sprint:started")
	ctx := context.Background()

	var (
		exactGot   []string
		patternGot []string
	)
	_, err := b.Subscribe("task:created", func(_ context.Context, p Payload) error {
		exactGot = append(exactGot, p["taskId"].(string))
		return nil
	})
	require.NoError(t, err)

	_, err = b.SubscribePattern("task:*", func(_ context.Context, event string, _ Payload) error {
		patternGot = append(patternGot, event)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "task:created", Payload{"taskId": "t-1"}))
	require.NoError(t, b.Publish(ctx, "sprint:started", Payload{}))

	assert.Equal(t, []string{"t-1"}, exactGot)
	assert.Equal(t, []string{"task:created"}, patternGot)
}

func TestPublish_HandlerIsolation(t *testing.T) {
	b := newTestBus(t, "task:created")
	ctx := context.Background()

	var order []string
	_, err := b.Subscribe("task:created", func(context.Context, Payload) error {
		order = append(order, "first")
		return errors.New("handler failure")
	})
	require.NoError(t, err)

	_, err = b.Subscribe("task:created", func(context.Context, Payload) error {
		order = append(order, "second")
		panic("handler panic")
	})
	require.NoError(t, err)

	_, err = b.Subscribe("task:created", func(context.Context, Payload) error {
		order = append(order, "third")
		return nil
	})
	require.NoError(t, err)

	// Failing and panicking handlers must not abort delivery or surface
	// to the publisher.
	require.NoError(t, b.Publish(ctx, "task:created", Payload{}))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublish_RegistrationOrder(t *testing.T) {
	b := newTestBus(t, "task:created")
	ctx := context.Background()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := b.Subscribe("task:created", func(context.Context, Payload) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(ctx, "task:created", Payload{}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPublish_PayloadIsolation(t *testing.T) {
	b := newTestBus(t, "task:created")
	ctx := context.Background()

	var second Payload
	_, err := b.Subscribe("task:created", func(_ context.Context, p Payload) error {
		p["mutated"] = true
		nested := p["nested"].(map[string]any)
		nested["inner"] = "changed"
		return nil
	})
	require.NoError(t, err)

	_, err = b.Subscribe("task:created", func(_ context.Context, p Payload) error {
		second = p
		return nil
	})
	require.NoError(t, err)

	original := Payload{"nested": map[string]any{"inner": "original"}}
	require.NoError(t, b.Publish(ctx, "task:created", original))

	_, mutated := second["mutated"]
	assert.False(t, mutated, "second handler saw first handler's mutation")
	assert.Equal(t, "original", second["nested"].(map[string]any)["inner"])
	assert.Equal(t, "original", original["nested"].(map[string]any)["inner"])
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := newTestBus(t, "task:created")
	ctx := context.Background()

	calls := 0
	unsub, err := b.Subscribe("task:created", func(context.Context, Payload) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "task:created", Payload{}))
	unsub()
	unsub() // second call is a no-op
	require.NoError(t, b.Publish(ctx, "task:created", Payload{}))

	assert.Equal(t, 1, calls)
}

func TestSubscribePattern_InvalidPattern(t *testing.T) {
	b := newTestBus(t)

	_, err := b.SubscribePattern("task:[abc]", func(context.Context, string, Payload) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestCompilePattern_Matching(t *testing.T) {
	tests := []struct {
		pattern string
		event   string
		match   bool
	}{
		{"task:*", "task:created", true},
		{"task:*", "task:created:extra", true}, // * spans colons too
		{"task:*", "sprint:started", false},
		{"**", "task:created", true},
		{"**", "workflow:run:completed", true},
		{"*:created", "task:created", true},
		{"*:created", "task:deleted", false},
		{"task:created", "task:created", true},
		{"task:created", "task:create", false},
	}
	for _, tc := range tests {
		re, err := CompilePattern(tc.pattern)
		require.NoError(t, err, tc.pattern)
		assert.Equal(t, tc.match, re.MatchString(tc.event),
			"pattern %q vs event %q", tc.pattern, tc.event)
	}
}

func TestBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := newTestBus(t, "task:created")
	ctx := context.Background()

	var (
		mu    sync.Mutex
		total int
	)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub, err := b.Subscribe("task:created", func(context.Context, Payload) error {
				mu.Lock()
				total++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
			defer unsub()
			for j := 0; j < 10; j++ {
				assert.NoError(t, b.Publish(ctx, "task:created", Payload{}))
			}
		}()
	}
	wg.Wait()
}
