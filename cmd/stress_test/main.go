package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/storefront/internal/adapter/handler"
)

// Hammers a running storefront over gRPC. Many shoppers race for one
// product, then one shopper fires concurrent reserve/release calls at it,
// and the cart must match the calls that succeeded.
func main() {
	addr := flag.String("addr", "localhost:50051", "storefront gRPC address")
	productID := flag.String("product", "1", "product to race for")
	shoppers := flag.Int("shoppers", 50, "concurrent shoppers")
	calls := flag.Int("calls", 40, "concurrent calls from a single shopper")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	client := handler.NewStorefrontClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	initialStock, err := stockOf(ctx, client, *productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}

	// Many shoppers, one unit each
	sessions := make([]context.Context, *shoppers)
	for i := range sessions {
		sessions[i] = handler.WithSession(ctx, uuid.NewString())
	}

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *shoppers; i++ {
		wg.Add(1)
		go func(sctx context.Context) {
			defer wg.Done()
			if _, err := client.Reserve(sctx, &handler.ReserveRequest{ProductID: *productID, Quantity: 1}); err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(sessions[i])
	}
	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	fail := int(failCount.Load())
	expected := min(initialStock, *shoppers)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Shoppers:         %d\n", *shoppers)
	fmt.Printf("Reserved:         %d\n", success)
	fmt.Printf("Refused:          %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == expected {
		fmt.Printf("PASS: exactly %d reservations granted\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d reservations, got %d\n", expected, success)
	}

	for _, sctx := range sessions {
		if _, err := client.ReleaseAll(sctx, &handler.ReleaseAllRequest{}); err != nil {
			log.Printf("release all failed: %v", err)
		}
	}

	finalStock, err := stockOf(ctx, client, *productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	if finalStock == initialStock {
		fmt.Println("PASS: stock restored after release")
	} else {
		fmt.Printf("FAIL: expected stock %d after release, got %d\n", initialStock, finalStock)
	}

	// One shopper, interleaved reserve and release of the same product
	single := handler.WithSession(ctx, uuid.NewString())
	var reserved, released atomic.Int32
	for i := 0; i < *calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := client.Reserve(single, &handler.ReserveRequest{ProductID: *productID, Quantity: 1}); err == nil {
					reserved.Add(1)
				}
				return
			}
			if _, err := client.Release(single, &handler.ReleaseRequest{ProductID: *productID, Quantity: 1}); err == nil {
				released.Add(1)
			}
		}(i)
	}
	wg.Wait()

	held := int(reserved.Load() - released.Load())
	fmt.Printf("Single shopper:   %d reserved, %d released, %d held\n", reserved.Load(), released.Load(), held)

	midStock, err := stockOf(ctx, client, *productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	if midStock == initialStock-held {
		fmt.Println("PASS: held units match successful calls")
	} else {
		fmt.Printf("FAIL: expected stock %d while holding %d, got %d\n", initialStock-held, held, midStock)
	}

	if _, err := client.Start(single, &handler.StartRequest{}); err != nil {
		log.Fatalf("failed to reset shopper: %v", err)
	}

	afterStock, err := stockOf(ctx, client, *productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	if afterStock == initialStock {
		fmt.Println("PASS: stock matches the initial stock")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", initialStock, afterStock)
	}
}

func stockOf(ctx context.Context, client *handler.StorefrontClient, productID string) (int, error) {
	sctx := handler.WithSession(ctx, "stress-observer")
	if _, err := client.Start(sctx, &handler.StartRequest{}); err != nil {
		return 0, err
	}
	for page := 1; ; page++ {
		reply, err := client.Query(sctx, &handler.QueryRequest{Page: page, PageSize: 50})
		if err != nil {
			return 0, err
		}
		for _, p := range reply.Items {
			if p.ID == productID {
				return p.Stock, nil
			}
		}
		if reply.Page >= reply.TotalPages {
			return 0, fmt.Errorf("product %s not in catalog", productID)
		}
	}
}
