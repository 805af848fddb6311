package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/stockcount/internal/core"
)

func TestHub_RoutesByOrganization(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.subscribe(ctx, "org-a")
	b := h.subscribe(ctx, "org-b")

	h.publish(core.Change{Kind: core.ChangeCountsClear, OrganizationID: "org-a"})

	assert.Equal(t, core.ChangeCountsClear, recv(t, a).Kind)
	select {
	case c := <-b:
		t.Fatalf("org-b received %v", c.Kind)
	default:
	}
}

func TestHub_CancelRemovesSubscriber(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch := h.subscribe(ctx, "org-a")
	require.Equal(t, 1, h.count())

	cancel()
	require.Eventually(t, func() bool { return h.count() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestHub_SlowSubscriberDisconnected(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.subscribe(ctx, "org-a")
	for i := 0; i < subscriberBuffer+1; i++ {
		h.publish(core.Change{Kind: core.ChangeReloadRequired, OrganizationID: "org-a"})
	}
	assert.Equal(t, 0, h.count())

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
}

func TestHub_CloseAll(t *testing.T) {
	h := newHub()
	ctx := context.Background()

	a := h.subscribe(ctx, "org-a")
	b := h.subscribe(ctx, "org-b")
	h.closeAll()

	_, okA := <-a
	_, okB := <-b
	assert.False(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 0, h.count())
}

func TestEncodeChange_LargePayloadBecomesReload(t *testing.T) {
	small := core.Change{Kind: core.ChangeProductDelete, OrganizationID: "org-a", IDs: []string{"p1"}}
	got, err := encodeChange(small)
	require.NoError(t, err)
	assert.Contains(t, got, `"product_delete"`)

	ids := make([]string, 400)
	for i := range ids {
		ids[i] = strings.Repeat("x", 36)
	}
	large := core.Change{Kind: core.ChangeProductDelete, OrganizationID: "org-a", IDs: ids}
	got, err = encodeChange(large)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"reload","organization_id":"org-a"}`, got)
}
