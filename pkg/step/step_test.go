package step

import (
	"context"
	"testing"
	"time"

	"github.com/common-fate/rheoma/pkg/noderr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestRunner(eventID string, cp Checkpoints, retries int) *Durable {
	d := New(eventID, cp, Policy{MaxRetries: retries, BaseDelay: time.Millisecond})
	d.Sleep = noSleep
	return d
}

func TestRun(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		errs      []error // returned by successive attempts, nil means success
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt succeeds", retries: 3, errs: []error{nil}, wantCalls: 1},
		{
			name:      "upstream error is retried",
			retries:   3,
			errs:      []error{noderr.Upstream("n", "http", errors.New("503")), nil},
			wantCalls: 2,
		},
		{
			name:    "retry budget exhausted",
			retries: 2,
			errs: []error{
				noderr.Upstream("n", "http", errors.New("503")),
				noderr.Upstream("n", "http", errors.New("503")),
				noderr.Upstream("n", "http", errors.New("503")),
			},
			wantCalls: 3,
			wantErr:   true,
		},
		{
			name:      "configuration error bypasses retries",
			retries:   3,
			errs:      []error{noderr.Configf("n", "missing endpoint")},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner("evt", NewMemory(), tt.retries)
			calls := 0
			got, err := Run(context.Background(), r, "work", func(ctx context.Context) (map[string]any, error) {
				err := tt.errs[calls]
				calls++
				if err != nil {
					return nil, err
				}
				return map[string]any{"count": 1}, nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"count": float64(1)}, got)
		})
	}
}

func TestRun_ReplaysCheckpoints(t *testing.T) {
	cp := NewMemory()
	ctx := context.Background()
	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		return "sent", nil
	}

	first, err := Run(ctx, newTestRunner("evt-1", cp, 0), "discord-webhook:n1", fn)
	require.NoError(t, err)

	// a redelivered event gets a fresh runner over the same checkpoints.
	second, err := Run(ctx, newTestRunner("evt-1", cp, 0), "discord-webhook:n1", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	// a different event runs the step again.
	_, err = Run(ctx, newTestRunner("evt-2", cp, 0), "discord-webhook:n1", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRun_RepeatedNamesGetDistinctKeys(t *testing.T) {
	r := newTestRunner("evt", NewMemory(), 0)
	ctx := context.Background()

	a, err := Run(ctx, r, "limit", func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	b, err := Run(ctx, r, "limit", func(ctx context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))
	assert.Equal(t, time.Second, p.Backoff(10))

	p.Jitter = true
	d := p.Backoff(1)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 200*time.Millisecond)
}
