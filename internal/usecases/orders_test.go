package usecases_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
	"go.openly.dev/pointy"
)

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("prices and stores a pending order", func(t *testing.T) {
		f := newFixture(t)
		o := f.createOrder(t, "u1")

		stored := f.store.Order(o.ID)
		require.NotNil(t, stored)
		require.Equal(t, entities.OrderPending, stored.Status)
		require.Equal(t, "INR", stored.FiatCurrency)
		require.NotNil(t, stored.Quote)
		requireDecimal(t, "2.525", stored.ZecAmount)
		require.Nil(t, stored.Assignment)
		require.Nil(t, stored.Grouping)
		require.Equal(t, []entities.StatusEntry{{Status: "pending", Timestamp: testStart}}, stored.StatusHistory)
		require.Equal(t, []entities.EventType{entities.EventOrderCreated}, f.events.Types())
	})

	t.Run("falls back to the rate source", func(t *testing.T) {
		f := newFixture(t)
		in := item(entities.RailUPI, 4000)
		in.BaseExchangeRate = nil

		o, err := f.orders.CreateOrder(ctx, usecases.CreateOrderInput{UserWalletAddress: "u1", OrderItem: in})
		require.NoError(t, err)
		requireDecimal(t, "4000", o.BaseExchangeRate)
		requireDecimal(t, "1.01", o.ZecAmount)
	})

	t.Run("validation happens before any write", func(t *testing.T) {
		f := newFixture(t)

		cases := map[string]struct {
			mutate func(*usecases.CreateOrderInput)
			want   error
		}{
			"missing wallet":   {func(in *usecases.CreateOrderInput) { in.UserWalletAddress = "" }, entities.ErrMissingField},
			"missing merchant": {func(in *usecases.CreateOrderInput) { in.MerchantCode = " " }, entities.ErrMissingField},
			"unknown rail":     {func(in *usecases.CreateOrderInput) { in.PaymentRail = "venmo" }, entities.ErrUnknownPaymentRail},
			"zero amount":      {func(in *usecases.CreateOrderInput) { in.FiatAmount = decimal.Zero }, entities.ErrInvalidAmount},
			"dust":             {func(in *usecases.CreateOrderInput) { in.FiatAmount = decimal.RequireFromString("0.001") }, entities.ErrAmountTooSmall},
			"amount below stored precision": {func(in *usecases.CreateOrderInput) {
				in.FiatAmount = decimal.RequireFromString("0.000000001")
			}, entities.ErrInvalidAmount},
			"amount with nine decimals": {func(in *usecases.CreateOrderInput) {
				in.FiatAmount = decimal.RequireFromString("100.123456789")
			}, entities.ErrInvalidAmount},
			"rate with nine decimals": {func(in *usecases.CreateOrderInput) {
				in.BaseExchangeRate = pointy.Pointer(decimal.RequireFromString("40.000000001"))
			}, entities.ErrInvalidExchangeRate},
			"no rate": {func(in *usecases.CreateOrderInput) {
				in.BaseExchangeRate = nil
				in.FiatCurrency = "THB"
			}, entities.ErrRateUnavailable},
		}

		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				in := usecases.CreateOrderInput{UserWalletAddress: "u1", OrderItem: item(entities.RailUPI, 100)}
				tc.mutate(&in)

				_, err := f.orders.CreateOrder(ctx, in)
				require.ErrorIs(t, err, tc.want)
			})
		}

		orders, err := f.orders.GetUserOrders(ctx, "u1")
		require.NoError(t, err)
		require.Empty(t, orders)
		require.Empty(t, f.events.Events())
	})
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.createOrder(t, "u1")

	f.clock.Advance(time.Second)
	accepted, err := f.orders.AcceptOrder(ctx, o.ID, usecases.AcceptInput{MerchantID: "m1", MerchantZecAddress: "zs1m1"})
	require.NoError(t, err)
	require.Equal(t, entities.OrderAccepted, accepted.Status)
	require.Equal(t, "m1", accepted.BoundMerchantID())

	t.Run("only the bound facilitator may report fiat", func(t *testing.T) {
		_, err := f.orders.MarkFiatSent(ctx, o.ID, usecases.FiatSentInput{MerchantID: "m2"})
		require.ErrorIs(t, err, entities.ErrForbidden)
	})

	t.Run("zec received needs fiat first", func(t *testing.T) {
		_, err := f.orders.MarkZecReceived(ctx, o.ID, usecases.ZecReceivedInput{MerchantID: "m1"})
		require.ErrorIs(t, err, entities.ErrInvalidTransition)
	})

	f.clock.Advance(time.Second)
	sent, err := f.orders.MarkFiatSent(ctx, o.ID, usecases.FiatSentInput{MerchantID: "m1", FiatPaymentReference: "UTR123", Notes: "paid"})
	require.NoError(t, err)
	require.Equal(t, entities.OrderFiatSent, sent.Status)
	require.Equal(t, "UTR123", sent.FiatPaymentReference)

	_, err = f.orders.MarkZecReceived(ctx, o.ID, usecases.ZecReceivedInput{MerchantID: "m2"})
	require.ErrorIs(t, err, entities.ErrForbidden)

	f.clock.Advance(time.Second)
	done, err := f.orders.MarkZecReceived(ctx, o.ID, usecases.ZecReceivedInput{MerchantID: "m1", ZecTxHash: "txhash"})
	require.NoError(t, err)
	require.Equal(t, entities.OrderCompleted, done.Status)

	stored := f.store.Order(o.ID)
	require.Equal(t, "txhash", stored.ZecTxHash)
	require.Equal(t, "paid", stored.StatusHistory[2].Note)
	requireHistoryConsistent(t, *stored)
	require.Len(t, stored.StatusHistory, 4)

	_, err = f.orders.MarkOrderFailed(ctx, o.ID, usecases.FailInput{Reason: "late"})
	require.ErrorIs(t, err, entities.ErrInvalidTransition)

	require.Equal(t, []entities.EventType{
		entities.EventOrderCreated,
		entities.EventOrderAccepted,
		entities.EventOrderFiatSent,
		entities.EventOrderCompleted,
	}, f.events.Types())
}

func TestAcceptOrderConcurrently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.createOrder(t, "u1")

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for i := 0; i < callers; i++ {
		merchantID := "m" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.AcceptOrder(ctx, o.ID, usecases.AcceptInput{MerchantID: merchantID, MerchantZecAddress: "zs1" + merchantID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, merchantID)
			case errors.Is(err, entities.ErrOrderNotPending):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, callers-1, losers)

	stored := f.store.Order(o.ID)
	require.Equal(t, entities.OrderAccepted, stored.Status)
	require.Equal(t, winners[0], stored.BoundMerchantID())
	require.Len(t, stored.StatusHistory, 2)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("owner cancels a pending order", func(t *testing.T) {
		f := newFixture(t)
		o := f.createOrder(t, "u1")

		cancelled, err := f.orders.CancelOrder(ctx, o.ID, usecases.CancelInput{UserWalletAddress: "u1", Reason: "changed mind"})
		require.NoError(t, err)
		require.Equal(t, entities.OrderCancelled, cancelled.Status)
		require.Equal(t, "changed mind", cancelled.StatusHistory[1].Note)
	})

	t.Run("other wallet cannot cancel", func(t *testing.T) {
		f := newFixture(t)
		o := f.createOrder(t, "u1")

		_, err := f.orders.CancelOrder(ctx, o.ID, usecases.CancelInput{UserWalletAddress: "u2"})
		require.ErrorIs(t, err, entities.ErrOrderNotCancellable)
		require.Equal(t, entities.OrderPending, f.store.Order(o.ID).Status)
	})

	t.Run("wallet must match exactly", func(t *testing.T) {
		f := newFixture(t)
		o := f.createOrder(t, "zs1UserWallet")

		_, err := f.orders.CancelOrder(ctx, o.ID, usecases.CancelInput{UserWalletAddress: "zs1userwallet"})
		require.ErrorIs(t, err, entities.ErrOrderNotCancellable)
		require.Equal(t, entities.OrderPending, f.store.Order(o.ID).Status)

		cancelled, err := f.orders.CancelOrder(ctx, o.ID, usecases.CancelInput{UserWalletAddress: " zs1UserWallet "})
		require.NoError(t, err)
		require.Equal(t, entities.OrderCancelled, cancelled.Status)
	})

	t.Run("non pending order is left untouched", func(t *testing.T) {
		f := newFixture(t)
		o := f.createOrder(t, "u1")
		_, err := f.orders.AcceptOrder(ctx, o.ID, usecases.AcceptInput{MerchantID: "m1", MerchantZecAddress: "zs1m1"})
		require.NoError(t, err)

		before := f.store.Order(o.ID)
		f.clock.Advance(time.Minute)

		_, err = f.orders.CancelOrder(ctx, o.ID, usecases.CancelInput{UserWalletAddress: "u1"})
		require.ErrorIs(t, err, entities.ErrOrderNotCancellable)
		require.True(t, entities.IsConflict(err))
		require.Equal(t, before, f.store.Order(o.ID))
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orders.CancelOrder(ctx, "nope", usecases.CancelInput{UserWalletAddress: "u1"})
		require.ErrorIs(t, err, entities.ErrOrderNotFound)
	})
}

func TestMarkOrderFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.createOrder(t, "u1")
	_, err := f.orders.AcceptOrder(ctx, o.ID, usecases.AcceptInput{MerchantID: "m1", MerchantZecAddress: "zs1m1"})
	require.NoError(t, err)

	failed, err := f.orders.MarkOrderFailed(ctx, o.ID, usecases.FailInput{Reason: "bridge timeout"})
	require.NoError(t, err)
	require.Equal(t, entities.OrderFailed, failed.Status)
	requireHistoryConsistent(t, *f.store.Order(o.ID))

	_, err = f.orders.MarkOrderFailed(ctx, o.ID, usecases.FailInput{})
	require.ErrorIs(t, err, entities.ErrInvalidTransition)
}

func TestMarkGroupedOrderFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	view := newGroupedBatch(t, f)
	groupID := view.Batch.MerchantGroups[0].GroupID
	failedID, keptID := view.Batch.OrderIDs[0], view.Batch.OrderIDs[1]

	failed, err := f.orders.MarkOrderFailed(ctx, failedID, usecases.FailInput{Reason: "qr rejected"})
	require.NoError(t, err)
	require.Equal(t, entities.OrderFailed, failed.Status)
	require.Nil(t, failed.Grouping)

	stored := f.store.Order(failedID)
	require.Equal(t, entities.OrderFailed, stored.Status)
	require.Nil(t, stored.Grouping)
	require.Equal(t, "qr rejected", stored.StatusHistory[len(stored.StatusHistory)-1].Note)
	requireHistoryConsistent(t, *stored)

	// the rest of the group is untouched and still reserved
	require.Equal(t, groupID, f.store.Order(keptID).ReservedGroupID())
	require.Contains(t, f.events.Types(), entities.EventOrderFailed)

	_, err = f.batches.AcceptGroup(ctx, groupID, usecases.AcceptInput{MerchantID: "m1", MerchantZecAddress: "zs1m1"})
	require.ErrorIs(t, err, entities.ErrGroupNotPending)

	kept := f.store.Order(keptID)
	require.Equal(t, entities.OrderPending, kept.Status)
	require.Equal(t, groupID, kept.ReservedGroupID())
	require.Equal(t, entities.GroupPending, f.store.Batch(view.Batch.ID).MerchantGroups[0].Status)
}

func TestAcceptGroupedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.facilitator(t, "m1", entities.RailUPI)

	view, err := f.batches.CreateBatchOrder(ctx, usecases.CreateBatchInput{
		UserWalletAddress: "u1",
		Items:             []usecases.OrderItem{item(entities.RailUPI, 100)},
	})
	require.NoError(t, err)
	orderID := view.Orders[0].ID

	t.Run("rejected while the group is open", func(t *testing.T) {
		_, err := f.orders.AcceptOrder(ctx, orderID, usecases.AcceptInput{MerchantID: "m2", MerchantZecAddress: "zs1m2"})
		require.ErrorIs(t, err, entities.ErrOrderGrouped)

		_, err = f.orders.CancelOrder(ctx, orderID, usecases.CancelInput{UserWalletAddress: "u1"})
		require.ErrorIs(t, err, entities.ErrOrderNotCancellable)
		require.ErrorIs(t, err, entities.ErrOrderGrouped)
	})

	t.Run("expired group is split lazily on accept", func(t *testing.T) {
		f.clock.Advance(11 * time.Second)

		accepted, err := f.orders.AcceptOrder(ctx, orderID, usecases.AcceptInput{MerchantID: "m2", MerchantZecAddress: "zs1m2"})
		require.NoError(t, err)
		require.Equal(t, "m2", accepted.BoundMerchantID())
		require.Nil(t, accepted.Grouping)

		batch := f.store.Batch(view.Batch.ID)
		require.Equal(t, entities.BatchSplit, batch.Status)
		require.Equal(t, entities.GroupExpired, batch.MerchantGroups[0].Status)
	})
}
