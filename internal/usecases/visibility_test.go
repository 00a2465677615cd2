package usecases_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
)

func ids(orders []entities.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestListPendingOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	independent := f.createOrder(t, "u1")
	grouped := newGroupedBatch(t, f)

	pix := usecases.CreateOrderInput{UserWalletAddress: "u2", OrderItem: item(entities.RailPIX, 50)}
	pixOrder, err := f.orders.CreateOrder(ctx, pix)
	require.NoError(t, err)

	t.Run("grouped orders are hidden while the window is open", func(t *testing.T) {
		got, err := f.visibility.ListPendingOrders(ctx, []entities.PaymentRail{entities.RailUPI, entities.RailPIX})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{independent.ID, pixOrder.ID}, ids(got))
	})

	t.Run("rails filter", func(t *testing.T) {
		got, err := f.visibility.ListPendingOrders(ctx, []entities.PaymentRail{entities.RailPIX})
		require.NoError(t, err)
		require.Equal(t, []string{pixOrder.ID}, ids(got))

		got, err = f.visibility.ListPendingOrders(ctx, nil)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("merchant variant uses directory rails", func(t *testing.T) {
		f.facilitator(t, "m-pix", entities.RailPIX)
		got, err := f.visibility.ListPendingOrdersForMerchant(ctx, "m-pix")
		require.NoError(t, err)
		require.Equal(t, []string{pixOrder.ID}, ids(got))

		_, err = f.visibility.ListPendingOrdersForMerchant(ctx, "nobody")
		require.ErrorIs(t, err, entities.ErrFacilitatorNotFound)
	})

	t.Run("target sees its pending group", func(t *testing.T) {
		groups, err := f.visibility.ListPendingGroups(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, groups, 1)
		require.Equal(t, grouped.Batch.ID, groups[0].BatchID)
		require.Len(t, groups[0].Orders, 3)

		groups, err = f.visibility.ListPendingGroups(ctx, "m-pix")
		require.NoError(t, err)
		require.Empty(t, groups)
	})

	t.Run("expired group members become visible before the sweep", func(t *testing.T) {
		f.clock.Advance(10 * time.Second)

		got, err := f.visibility.ListPendingOrders(ctx, []entities.PaymentRail{entities.RailUPI, entities.RailPIX})
		require.NoError(t, err)
		require.Len(t, got, 5)

		groups, err := f.visibility.ListPendingGroups(ctx, "m1")
		require.NoError(t, err)
		require.Empty(t, groups)
	})
}

func TestListBoundOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.createOrder(t, "u1")
	f.clock.Advance(time.Second)
	b := f.createOrder(t, "u1")
	f.clock.Advance(time.Second)
	c := f.createOrder(t, "u1")

	accept := usecases.AcceptInput{MerchantID: "m1", MerchantZecAddress: "zs1m1"}
	for _, o := range []*entities.Order{a, b, c} {
		_, err := f.orders.AcceptOrder(ctx, o.ID, accept)
		require.NoError(t, err)
	}
	_, err := f.orders.MarkFiatSent(ctx, b.ID, usecases.FiatSentInput{MerchantID: "m1"})
	require.NoError(t, err)
	_, err = f.orders.MarkZecReceived(ctx, b.ID, usecases.ZecReceivedInput{MerchantID: "m1"})
	require.NoError(t, err)
	_, err = f.orders.MarkOrderFailed(ctx, c.ID, usecases.FailInput{Reason: "upstream"})
	require.NoError(t, err)

	active, err := f.visibility.ListActiveOrders(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, []string{a.ID}, ids(active))

	finished, err := f.visibility.ListCompletedOrders(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, []string{c.ID, b.ID}, ids(finished))

	other, err := f.visibility.ListActiveOrders(ctx, "m2")
	require.NoError(t, err)
	require.Empty(t, other)

	_, err = f.visibility.ListActiveOrders(ctx, "")
	require.ErrorIs(t, err, entities.ErrMissingField)

	require.Equal(t, float64(3), f.counterValue(t, "zapp_order_transitions_total", map[string]string{"from": "pending", "to": "accepted"}))
}
