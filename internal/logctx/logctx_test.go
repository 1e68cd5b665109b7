package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil))).With(slog.String("component", "test"))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "POST", Path: "/mcp"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s1", Principal: "alice", ClientID: "app"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "whoami"})
	log.InfoContext(ctx, "gateway.tool.execute")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "test", rec["component"])
	assert.Equal(t, "r1", rec["req"].(map[string]any)["id"])
	assert.Equal(t, "alice", rec["sess"].(map[string]any)["principal"])
	assert.Equal(t, "whoami", rec["tool"].(map[string]any)["name"])
	assert.NotContains(t, rec, "rpc")
}
