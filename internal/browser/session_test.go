package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClearProfileLocks(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Preferences"), []byte("{}"), 0o644))

	ClearProfileLocks(dir)

	left, err := filepath.Glob(filepath.Join(dir, "Singleton*"))
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = os.Stat(filepath.Join(dir, "Preferences"))
	assert.NoError(t, err, "non-lock files must survive")
}

func TestScriptedSessionReplaysResponses(t *testing.T) {
	s := &ScriptedSession{
		Responses: []NetworkResponse{
			{URL: "https://cdn.example.com/video/play.mp4", MimeType: "video/mp4", ContentLength: 2 << 20},
		},
	}

	var seen []NetworkResponse
	stop := s.ListenResponses(func(r NetworkResponse) { seen = append(seen, r) })
	defer stop()

	require.NoError(t, s.Navigate(context.Background(), "https://example.com/v/1"))
	require.Len(t, seen, 1)
	assert.Equal(t, "video/mp4", seen[0].MimeType)

	stop()
	require.NoError(t, s.Navigate(context.Background(), "https://example.com/v/2"))
	assert.Len(t, seen, 1, "stopped listener must not fire")
	assert.Equal(t, []string{"https://example.com/v/1", "https://example.com/v/2"}, s.Navigated)
}

func TestScriptedSessionEvaluateRoundTripsNulls(t *testing.T) {
	s := &ScriptedSession{
		EvalFunc: func(string) (any, error) {
			return map[string]any{"duration": nil, "videoWidth": nil}, nil
		},
	}

	var out struct {
		Duration *float64 `json:"duration"`
		Width    *int     `json:"videoWidth"`
	}
	require.NoError(t, s.Evaluate(context.Background(), "info()", &out))
	assert.Nil(t, out.Duration)
	assert.Nil(t, out.Width)
}
