package emergency

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/marketgate/internal/platform/kalshi"
	"github.com/alanyoungcy/marketgate/internal/platform/polymarket"
)

// KalshiOrders is the slice of the Kalshi client the canceller needs.
type KalshiOrders interface {
	GetOrders(ctx context.Context, status string) ([]kalshi.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// PolyOrders is the slice of the Polymarket CLOB client the canceller needs.
type PolyOrders interface {
	GetOpenOrders(ctx context.Context) ([]polymarket.APIOrder, error)
	CancelAll(ctx context.Context) error
}

// OrderCanceller cancels all resting orders across both venues. Kalshi has
// no bulk-cancel endpoint so its orders go one by one; Polymarket gets a
// single cancel-all. Either client may be nil.
type OrderCanceller struct {
	kalshi KalshiOrders
	poly   PolyOrders
	logger *slog.Logger
}

// NewOrderCanceller creates a canceller over whichever venue clients exist.
func NewOrderCanceller(kalshiClient KalshiOrders, polyClient PolyOrders, logger *slog.Logger) *OrderCanceller {
	return &OrderCanceller{
		kalshi: kalshiClient,
		poly:   polyClient,
		logger: logger.With(slog.String("component", "order_canceller")),
	}
}

// CancelAll cancels resting orders on both venues in parallel and returns
// the total count. A venue failure is logged and does not block the other
// venue; partial counts still come back.
func (oc *OrderCanceller) CancelAll(ctx context.Context) (int, error) {
	var wg sync.WaitGroup
	var kalshiCount, polyCount int

	if oc.kalshi != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := oc.cancelKalshi(ctx)
			if err != nil {
				oc.logger.Error("failed to cancel orders",
					slog.String("venue", "kalshi"), slog.Any("error", err))
			}
			kalshiCount = n
		}()
	}

	if oc.poly != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := oc.cancelPolymarket(ctx)
			if err != nil {
				oc.logger.Error("failed to cancel orders",
					slog.String("venue", "polymarket"), slog.Any("error", err))
			}
			polyCount = n
		}()
	}

	wg.Wait()
	total := kalshiCount + polyCount
	oc.logger.Info("order cancellation complete",
		slog.Int("kalshi", kalshiCount),
		slog.Int("polymarket", polyCount))
	return total, nil
}

func (oc *OrderCanceller) cancelKalshi(ctx context.Context) (int, error) {
	orders, err := oc.kalshi.GetOrders(ctx, "resting")
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, o := range orders {
		if err := oc.kalshi.CancelOrder(ctx, o.OrderID); err != nil {
			oc.logger.Warn("failed to cancel order",
				slog.String("venue", "kalshi"),
				slog.String("order_id", o.OrderID),
				slog.Any("error", err))
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

func (oc *OrderCanceller) cancelPolymarket(ctx context.Context) (int, error) {
	orders, err := oc.poly.GetOpenOrders(ctx)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, nil
	}
	if err := oc.poly.CancelAll(ctx); err != nil {
		return 0, err
	}
	return len(orders), nil
}
