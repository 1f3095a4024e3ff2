package dialogmesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dialogmesh/core"
)

type stubClient struct {
	calls []string
}

func (c *stubClient) Call(ctx context.Context, action string, params map[string]core.Value, idemKey string) (core.ResourceResult, error) {
	c.calls = append(c.calls, action)
	return core.ResourceResult{Status: core.ResourceOK, Payload: map[string]any{"ok": true}}, nil
}

func (c *stubClient) SupportsIdempotency() bool { return true }

func TestBotSlotFillingConversation(t *testing.T) {
	client := &stubClient{}
	bot, err := New(client)
	require.NoError(t, err)
	defer bot.Shutdown()

	sess, err := bot.CreateOrGetSession(core.GuestIdentity("v-1"))
	require.NoError(t, err)

	ctx := context.Background()
	plan, err := bot.ProcessTurn(ctx, sess.ID, core.ClassifiedTurn{
		Intent: "add_to_cart", Confidence: 0.9,
		Entities: map[string]string{"product_id": "sku-1"},
		RawText:  "add this",
	})
	require.NoError(t, err)
	require.NotEmpty(t, plan.Units)
	assert.Empty(t, client.calls, "incomplete action is not dispatched")

	_, err = bot.ProcessTurn(ctx, sess.ID, core.ClassifiedTurn{
		Intent: "inform", Confidence: 0.9,
		Entities: map[string]string{"size": "M", "color": "black"},
		RawText:  "medium, black",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"add_to_cart"}, client.calls)

	merged, err := bot.MergeSession("v-1", "C42")
	require.NoError(t, err)
	assert.Equal(t, core.AuthenticatedIdentity("C42"), merged.Identity)
}
