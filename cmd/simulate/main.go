package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/infrastructure/payment"
	"canteen-sync/internal/logger"
	"canteen-sync/internal/repo"
	"canteen-sync/internal/service"
	"canteen-sync/internal/worker"

	"github.com/rs/zerolog/log"
)

var menu = []service.CatalogItem{
	{ID: "f1", Name: "Nasi Goreng", Price: 15000, Canteen: "A"},
	{ID: "f2", Name: "Mie Ayam", Price: 12000, Canteen: "B"},
	{ID: "f3", Name: "Soto Betawi", Price: 18000, Canteen: "c"},
	{ID: "f4", Name: "Es Teh", Price: 4000, Canteen: "D"},
	{ID: "f5", Name: "Bakso", Price: 14000, Canteen: "E"},
}

func main() {
	orders := flag.Int("orders", 20, "number of orders to submit")
	maxWait := flag.Duration("max-wait", 30*time.Second, "how long to let the worker reconcile")
	flag.Parse()

	logger.Setup("warn", "console", "simulate")
	ctx := context.Background()

	store := repo.NewMemoryStore()
	gateway := payment.NewMockGateway(payment.DefaultMockOptions)
	orderService := service.NewOrderService(store, gateway, service.Options{
		Backoff: []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 600 * time.Millisecond},
	})

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", *orders)
	var refs []string
	for i := 0; i < *orders; i++ {
		item := menu[i%len(menu)]
		fmt.Printf("[%d] %s from canteen %q ... ", i+1, item.Name, item.Canteen)

		res, err := orderService.Submit(ctx, service.SubmitRequest{
			Requester: domain.Requester{ID: fmt.Sprintf("u%d", i), Name: fmt.Sprintf("Customer %d", i)},
			Item:      item,
			Quantity:  fmt.Sprint(1 + i%3),
		})
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			continue
		}
		refs = append(refs, res.PaymentReference)
		fmt.Printf("SUBMITTED %s (total %d)\n", res.PaymentReference, res.Order.Total)
	}

	printCounts(store)

	fmt.Println("--- RECONCILING ---")
	rw := worker.NewReconciliationWorker(orderService, time.Second)
	h := rw.Start(ctx)
	select {
	case <-h.Done():
		fmt.Println("worker stopped: nothing left pending")
	case <-time.After(*maxWait):
		h.Stop()
		fmt.Println("worker stopped: time limit reached")
	}

	fmt.Println("--- FINAL STATE ---")
	for _, ref := range refs {
		orders, err := store.Query(ctx, domain.GlobalCollection, repo.Filter{PaymentReference: ref})
		if err != nil || len(orders) == 0 {
			log.Warn().Str("payment_reference", ref).Msg("simulate: global copy missing")
			continue
		}
		o := orders[0]
		fmt.Printf("%s  order=%-10s payment=%-8s source=%s\n", ref, o.Status, o.PaymentStatus, o.StatusSource)
	}
	printCounts(store)
}

func printCounts(store *repo.MemoryStore) {
	for _, c := range domain.Canteens {
		fmt.Printf("    %s: %d  ", c.Collection(), store.Count(c.Collection()))
	}
	fmt.Printf("    %s: %d\n", domain.GlobalCollection, store.Count(domain.GlobalCollection))
}
