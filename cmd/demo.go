package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hfujita/wastematch/app"
	"github.com/hfujita/wastematch/config"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/infra/store/memory"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a seeded end-to-end assignment flow in memory",
	RunE:  runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg := &config.Config{}
	cfg.Storage.Backend = "memory"
	cfg.Audit.Backend = "none"
	cfg.SetDefaults()

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	carriers, ok := svc.Stores.Carriers.(*memory.CarrierStore)
	if !ok {
		return fmt.Errorf("demo requires the memory backend")
	}
	seedDemoCarriers(carriers)

	ctx := context.Background()
	end := time.Now().Add(time.Hour)
	cs, err := svc.Coordinator.CreateCase(ctx, &model.Case{
		Site:           model.Point{Lat: 35.6812, Lng: 139.7671},
		WasteType:      "industrial",
		AuctionEnabled: true,
		AuctionEndAt:   &end,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created case %s (%s)\n", cs.ID, cs.CaseNumber)

	if _, err := svc.Coordinator.UpdateStatus(ctx, cs.ID, model.CaseMatching, "demo", "matching started"); err != nil {
		return err
	}
	results, err := svc.Engine.FindMatchingCarriers(ctx, cs.ID, nil)
	if err != nil {
		return err
	}
	fmt.Printf("matched %d carriers:\n", len(results))
	for _, r := range results {
		fmt.Printf("  %-20s score %.1f\n", r.Carrier.Name, r.Score)
	}

	for _, bid := range []struct {
		carrier string
		amount  float64
	}{
		{"tokyo-eco", 52000},
		{"kanto-haul", 45000},
		{"bay-disposal", 58000},
	} {
		if _, err := svc.Ledger.SubmitBid(ctx, cs.ID, bid.carrier, bid.amount, ""); err != nil {
			return err
		}
		fmt.Printf("bid: %s offers %.0f\n", bid.carrier, bid.amount)
	}

	winner, err := svc.Manager.Close(ctx, cs.ID, "demo")
	if err != nil {
		return err
	}
	fmt.Printf("auction closed: %s wins at %.0f\n", winner.CarrierID, winner.Amount)

	for _, status := range []model.CaseStatus{model.CaseCollected, model.CaseDisposed} {
		if _, err := svc.Coordinator.UpdateStatus(ctx, cs.ID, status, winner.CarrierID, ""); err != nil {
			return err
		}
		fmt.Printf("case %s -> %s\n", cs.ID, status)
	}
	return nil
}

func seedDemoCarriers(store *memory.CarrierStore) {
	permit := func(id string) []model.Permit {
		return []model.Permit{{
			Number:     "P-" + id,
			ValidFrom:  time.Now().Add(-24 * time.Hour),
			ValidTo:    time.Now().AddDate(1, 0, 0),
			WasteTypes: []string{"industrial", "construction"},
		}}
	}
	area := func(lat, lng, radius float64) []model.ServiceArea {
		return []model.ServiceArea{{
			Kind:    model.AreaRadius,
			Center:  &model.Point{Lat: lat, Lng: lng},
			RadiusM: radius,
		}}
	}
	price := []model.PriceEntry{{WasteType: "industrial", BasePrice: 20000, PricePerUnit: 25}}

	store.Put(model.Carrier{
		ID: "tokyo-eco", Name: "Tokyo Eco Services", Active: true, ReliabilityScore: 0.92,
		Permits: permit("tokyo-eco"), ServiceAreas: area(35.69, 139.70, 40000), PriceMatrix: price,
	})
	store.Put(model.Carrier{
		ID: "kanto-haul", Name: "Kanto Haulage", Active: true, ReliabilityScore: 0.85,
		Permits: permit("kanto-haul"), ServiceAreas: area(35.60, 139.75, 60000), PriceMatrix: price,
	})
	store.Put(model.Carrier{
		ID: "bay-disposal", Name: "Bay Disposal KK", Active: true, ReliabilityScore: 0.78,
		Permits: permit("bay-disposal"), ServiceAreas: area(35.65, 139.80, 30000), PriceMatrix: price,
	})
}
