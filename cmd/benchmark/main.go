package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/matchcore/pkg/oms"
	"github.com/joripage/matchcore/pkg/oms/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	minPrice = 10_000 // cents
	maxPrice = 20_000
	minQty   = 1
	maxQty   = 100
)

var symbols = []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF", "GGG", "HHH"}

func randomOrder(r *rand.Rand, id int) *model.SimpleOrderRequest {
	side := model.OrderSideBuy
	if r.Intn(2) == 0 {
		side = model.OrderSideSell
	}
	req := &model.SimpleOrderRequest{
		ID:       fmt.Sprintf("ORD-%07d", id),
		TraderID: fmt.Sprintf("T%d", r.Intn(50)),
		Symbol:   symbols[r.Intn(len(symbols))],
		Side:     side,
		Quantity: int64(r.Intn(maxQty-minQty+1) + minQty),
	}
	// one order in twenty is a market order
	if r.Intn(20) != 0 {
		cents := int64(minPrice + r.Intn(maxPrice-minPrice))
		req.Price = decimal.NewNullDecimal(decimal.New(cents, -2))
	}
	return req
}

func main() {
	var numOrders, clients int
	flag.IntVar(&numOrders, "orders", 1_000_000, "Number of orders")
	flag.IntVar(&clients, "clients", 8, "Concurrent submitters")
	flag.Parse()

	engine := oms.NewOMS(&oms.Config{AutoRegisterSymbols: true}, zap.NewNop())
	defer engine.Stop()
	for _, s := range symbols {
		// a reference price lets market orders trade against each other
		_ = engine.RegisterInstrument(s, decimal.NewNullDecimal(decimal.NewFromInt(150)))
	}

	var totalMatched, totalQty atomic.Int64
	trades := engine.SubscribeTrades(context.Background())
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for t := range trades {
			if n := totalMatched.Add(1); n <= 5 {
				fmt.Printf("Match: BUY[%s] <=> SELL[%s] @ %s Qty %d\n", t.BuyOrderID, t.SellOrderID, t.Price, t.Qty)
			}
			totalQty.Add(t.Qty)
		}
	}()

	var wg sync.WaitGroup
	var next atomic.Int64
	var failed atomic.Int64
	start := time.Now()
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for {
				id := int(next.Add(1))
				if id > numOrders {
					return
				}
				if _, err := engine.SubmitOrder(context.Background(), randomOrder(r, id)); err != nil {
					failed.Add(1)
				}
			}
		}(time.Now().UnixNano() + int64(c))
	}
	wg.Wait()
	elapsed := time.Since(start)

	engine.Stop()
	<-drained

	fmt.Println("--------")
	fmt.Printf("Total Orders     : %d\n", numOrders)
	fmt.Printf("Failed Orders    : %d\n", failed.Load())
	fmt.Printf("Total Matches    : %d\n", totalMatched.Load())
	fmt.Printf("Total Matched Qty: %d\n", totalQty.Load())
	fmt.Printf("Time Taken       : %s\n", elapsed)
	fmt.Printf("Throughput       : %.0f orders/s\n", float64(numOrders)/elapsed.Seconds())
}
