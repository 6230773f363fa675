// Command quote_blast submits generated quote requests against a running
// gateway, exercising the delivery client's retry, dedup and bulk paths. It is
// a load and smoke tool for staging environments.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/quotelane/quotelane-api/pkg/delivery"
)

func main() {
	var (
		baseURL   string
		token     string
		workshops string
		count     int
		bulk      bool
		timeout   time.Duration
	)

	flag.StringVar(&baseURL, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&token, "token", "", "Bearer token of a customer account")
	flag.StringVar(&workshops, "workshops", "", "Comma separated workshop ids (empty = open request)")
	flag.IntVar(&count, "count", 1, "Number of requests to send")
	flag.BoolVar(&bulk, "bulk", false, "Use one bulk send per request instead of per-workshop sends")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout per request")
	flag.Parse()

	client := delivery.NewClient(delivery.Config{
		BaseURL:   baseURL,
		AuthToken: token,
		OnRetry: func(workshopID string, attempt int, err error) {
			log.Printf("retrying workshop=%s attempt=%d: %v", workshopID, attempt, err)
		},
		OnStateChange: func(workshopID string, state delivery.State) {
			log.Printf("workshop=%s state=%s", workshopID, state)
		},
	})

	workshopIDs := splitIDs(workshops)
	if len(workshopIDs) == 0 {
		log.Fatal("at least one workshop id is required (-workshops)")
	}

	for i := 0; i < count; i++ {
		car := delivery.Car{
			ID:    uuid.NewString(),
			Make:  gofakeit.CarMaker(),
			Model: gofakeit.CarModel(),
			Year:  gofakeit.Number(1995, 2025),
			Plate: strings.ToUpper(gofakeit.LetterN(3)) + fmt.Sprintf("-%d", gofakeit.Number(100, 999)),
		}
		budget := gofakeit.Price(200, 5000)
		opts := delivery.Options{
			DamageDescriptions: []string{gofakeit.Sentence(8)},
			RequestedServices:  []string{"inspection", "repair"},
			Budget:             &budget,
			Priority:           "NORMAL",
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if bulk {
			result, err := client.SendBulk(ctx, workshopIDs, car, opts)
			if err != nil {
				log.Printf("bulk send failed car=%s: %v", car.ID, err)
			} else {
				log.Printf("bulk sent quotation=%s ok=%d failed=%d", result.QuotationID, result.Succeeded, result.Failed)
			}
		} else {
			for _, workshopID := range workshopIDs {
				quotationID, err := client.SendSingle(ctx, workshopID, car, opts)
				if err != nil {
					log.Printf("send failed car=%s workshop=%s: %v", car.ID, workshopID, err)
					continue
				}
				log.Printf("sent quotation=%s workshop=%s", quotationID, workshopID)
			}
		}
		cancel()
	}
}

func splitIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
