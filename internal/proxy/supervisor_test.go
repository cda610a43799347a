package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nishaddevendra/pdf-qa-core/internal/config"
	"github.com/nishaddevendra/pdf-qa-core/internal/logger"
)

// a tiny shell pipeline stands in for the tool server: it echoes back a
// well-formed JSON-RPC success response for every line it reads on stdin,
// exercising the supervisor's framing and id-correlation without needing a
// real child binary.
func echoChildCommand() (string, []string) {
	script := `while IFS= read -r line; do ` +
		`id=$(echo "$line" | sed -E 's/.*"id":"([^"]+)".*/\1/'); ` +
		`printf '{"jsonrpc":"2.0","id":"%s","result":{"ok":true}}\n' "$id"; ` +
		`done`
	return "sh", []string{"-c", script}
}

func TestSupervisorCallToolRoundTrip(t *testing.T) {
	logger.Init(&config.Config{}, &discardWriter{})
	cmd, args := echoChildCommand()
	sup := NewSupervisor(cmd, args, 3, time.Minute, 16, 5*time.Second)

	require.NoError(t, sup.Start(context.Background(), time.Second))
	defer sup.Shutdown(time.Second)

	result, err := sup.CallTool(context.Background(), "ping", map[string]any{"a": 1})
	require.NoError(t, err)
	require.Contains(t, string(result), `"ok":true`)
}

func TestSupervisorCallToolTimeout(t *testing.T) {
	logger.Init(&config.Config{}, &discardWriter{})
	// a child that never responds forces the call to hit its own timeout.
	sup := NewSupervisor("sh", []string{"-c", "cat > /dev/null"}, 3, time.Minute, 16, 50*time.Millisecond)

	require.NoError(t, sup.Start(context.Background(), time.Second))
	defer sup.Shutdown(time.Second)

	_, err := sup.CallTool(context.Background(), "ping", map[string]any{})
	require.Error(t, err)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
