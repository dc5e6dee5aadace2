package fixgateway

import (
	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/joripage/matchcore/pkg/orderbook"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/shopspring/decimal"
)

const qtyScale = 0

var (
	ordStatusMapping = map[orderbook.Status]enum.OrdStatus{
		orderbook.Placed:            enum.OrdStatus_NEW,
		orderbook.PartiallyExecuted: enum.OrdStatus_PARTIALLY_FILLED,
		orderbook.Executed:          enum.OrdStatus_FILLED,
		orderbook.Cancelled:         enum.OrdStatus_CANCELED,
		orderbook.Rejected:          enum.OrdStatus_REJECTED,
	}

	execTypeMapping = map[model.OrderExecType]enum.ExecType{
		model.ExecTypeNew:      enum.ExecType_NEW,
		model.ExecTypeTrade:    enum.ExecType_TRADE,
		model.ExecTypeCanceled: enum.ExecType_CANCELED,
		model.ExecTypeRejected: enum.ExecType_REJECTED,
	}

	sideMapping = map[enum.Side]model.OrderSide{
		enum.Side_BUY:  model.OrderSideBuy,
		enum.Side_SELL: model.OrderSideSell,
	}

	fixSideMapping = map[model.OrderSide]enum.Side{
		model.OrderSideBuy:  enum.Side_BUY,
		model.OrderSideSell: enum.Side_SELL,
	}
)

func orderEventToExecutionReport(ev *model.OrderEvent) executionreport.ExecutionReport {
	avgPx := decimal.Zero
	if ev.ExecType == model.ExecTypeTrade {
		avgPx = ev.LastPx
	}

	msg := executionreport.New(
		field.NewOrderID(ev.OrderID),
		field.NewExecID(ev.EventID),
		field.NewExecType(execTypeMapping[ev.ExecType]),
		field.NewOrdStatus(ordStatusMapping[ev.Status]),
		field.NewSide(fixSideMapping[ev.Side]),
		field.NewLeavesQty(decimal.NewFromInt(ev.LeavesQty), qtyScale),
		field.NewCumQty(decimal.NewFromInt(ev.CumQty), qtyScale),
		field.NewAvgPx(avgPx, 2),
	)
	msg.SetClOrdID(ev.OrderID)
	msg.SetSymbol(ev.Symbol)
	msg.SetOrderQty(decimal.NewFromInt(ev.Quantity), qtyScale)
	if ev.TraderID != "" {
		msg.SetAccount(ev.TraderID)
	}
	if ev.Price.Valid {
		msg.SetOrdType(enum.OrdType_LIMIT)
		msg.SetPrice(ev.Price.Decimal, 2)
	} else {
		msg.SetOrdType(enum.OrdType_MARKET)
	}
	if ev.ExecType == model.ExecTypeTrade {
		msg.SetLastQty(decimal.NewFromInt(ev.LastQty), qtyScale)
		msg.SetLastPx(ev.LastPx, 2)
	}
	if ev.Text != "" {
		msg.SetText(ev.Text)
	}
	msg.SetTransactTime(ev.Timestamp)
	return msg
}

// orderRejectToExecutionReport reports an order refused before it reached a
// book.
func orderRejectToExecutionReport(nos *NewOrderSingle, text string) executionreport.ExecutionReport {
	orderID := nos.ClOrdID
	if orderID == "" {
		orderID = "NONE"
	}
	msg := executionreport.New(
		field.NewOrderID(orderID),
		field.NewExecID(orderID+"-"+string(model.ExecTypeRejected)),
		field.NewExecType(enum.ExecType_REJECTED),
		field.NewOrdStatus(enum.OrdStatus_REJECTED),
		field.NewSide(nos.Side),
		field.NewLeavesQty(decimal.Zero, qtyScale),
		field.NewCumQty(decimal.Zero, qtyScale),
		field.NewAvgPx(decimal.Zero, 2),
	)
	msg.SetClOrdID(nos.ClOrdID)
	msg.SetSymbol(nos.Symbol)
	msg.SetOrderQty(nos.OrderQty, qtyScale)
	msg.SetOrdRejReason(enum.OrdRejReason_OTHER)
	msg.SetText(text)
	return msg
}

func cancelReject(req *OrderCancelRequest, status enum.OrdStatus, reason enum.CxlRejReason, text string) ordercancelreject.OrderCancelReject {
	msg := ordercancelreject.New(
		field.NewOrderID(req.OrigClOrdID),
		field.NewClOrdID(req.ClOrdID),
		field.NewOrigClOrdID(req.OrigClOrdID),
		field.NewOrdStatus(status),
		field.NewCxlRejResponseTo(enum.CxlRejResponseTo_ORDER_CANCEL_REQUEST),
	)
	msg.SetCxlRejReason(reason)
	msg.SetText(text)
	return msg
}
