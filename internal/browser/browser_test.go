package browser

import (
	"context"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	var out struct {
		Count int      `json:"count"`
		Names []string `json:"names"`
	}
	raw := map[string]any{"count": float64(2), "names": []any{"a", "b"}}

	require.NoError(t, Decode(raw, &out))
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, []string{"a", "b"}, out.Names)

	var untouched struct{ Count int }
	require.NoError(t, Decode(nil, &untouched))
	assert.Zero(t, untouched.Count)

	assert.Error(t, Decode("not an object", &out))
}

func TestBoxCenter(t *testing.T) {
	x, y := Box{X: 10, Y: 20, Width: 100, Height: 50}.Center()
	assert.Equal(t, 60.0, x)
	assert.Equal(t, 45.0, y)
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestInvocation(t *testing.T) {
	expr, err := invocation("(arg) => arg.n + 1", map[string]int{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, `((arg) => arg.n + 1)({"n":1})`, expr)

	expr, err = invocation("() => document.title", nil)
	require.NoError(t, err)
	assert.Equal(t, "(() => document.title)(null)", expr)
}

func TestWaitUntilState(t *testing.T) {
	assert.Equal(t, playwright.WaitUntilStateDomcontentloaded, waitUntilState(WaitDOMContentLoaded))
	assert.Equal(t, playwright.WaitUntilStateLoad, waitUntilState(WaitLoad))
	assert.Equal(t, playwright.WaitUntilStateNetworkidle, waitUntilState(WaitNetworkIdle))
	assert.Equal(t, playwright.WaitUntilStateNetworkidle, waitUntilState(""))
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(Config{Headless: true})
	assert.Equal(t, 1920, cfg.ViewportWidth)
	assert.Equal(t, 1080, cfg.ViewportHeight)
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout)
	assert.NotEmpty(t, cfg.UserAgent)

	custom := withDefaults(Config{UserAgent: "ua", ViewportWidth: 800, ViewportHeight: 600, ActionTimeout: time.Second})
	assert.Equal(t, "ua", custom.UserAgent)
	assert.Equal(t, 800, custom.ViewportWidth)
}
