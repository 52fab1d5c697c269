// Package notify delivers committed trades to interested parties: the
// trader's open websockets and a Kafka topic for downstream consumers.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/xtrntr/papertrade/internal/exchange"
)

var (
	_ exchange.Notifier = Multi(nil)
	_ exchange.Notifier = (*Hub)(nil)
	_ exchange.Notifier = (*KafkaPublisher)(nil)
)

// TradeEvent is the payload pushed for every committed trade.
type TradeEvent struct {
	Type   string               `json:"type"`
	UserID int                  `json:"user_id"`
	Trade  exchange.TradeResult `json:"trade"`
	SentAt time.Time            `json:"sent_at"`
}

const eventTradeExecuted = "trade_executed"

func newTradeEvent(userID int, result exchange.TradeResult) TradeEvent {
	return TradeEvent{Type: eventTradeExecuted, UserID: userID, Trade: result, SentAt: time.Now().UTC()}
}

// Multi fans a trade out to every notifier and joins their errors.
type Multi []exchange.Notifier

func (m Multi) TradeExecuted(ctx context.Context, userID int, result exchange.TradeResult) error {
	var errs []error
	for _, n := range m {
		if err := n.TradeExecuted(ctx, userID, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
