package memorystream

import (
	"testing"

	"github.com/mcpuse/mcp-stream-go/sessions"
	"github.com/mcpuse/mcp-stream-go/sessions/streamtest"
)

func TestMemoryStreamManager(t *testing.T) {
	streamtest.RunStreamManagerTests(t, func(t *testing.T) sessions.StreamManager {
		return New(Config{})
	})
}
