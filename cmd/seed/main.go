package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"bulc-license-server/internal/config"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
	pg "bulc-license-server/internal/infra/db/postgres"
	"bulc-license-server/internal/usecase"
)

func main() {
	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	productRepo := pg.NewProductRepo(pool)
	planUC := usecase.NewPlanUseCase(pg.NewPlanRepo(pool))

	// If plans already exist, do nothing
	plans, err := planUC.List(ctx, "", false)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(plans) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(plans))
		for _, p := range plans {
			fmt.Printf("  - %s [%s] (type=%s, days=%d, devices=%d, sessions=%d)\n",
				p.Name, p.Code, p.LicenseType, p.DurationDays, p.MaxActivations, p.MaxConcurrentSessions)
		}
		return
	}

	// Seed the product catalog
	products := []*model.Product{
		{ID: uuid.NewString(), Code: "CAD_PRO", Name: "CAD Studio Pro", Active: true, CreatedAt: time.Now()},
		{ID: uuid.NewString(), Code: "CAD_VIEWER", Name: "CAD Studio Viewer", Active: true, CreatedAt: time.Now()},
	}
	for _, p := range products {
		if err := productRepo.Save(ctx, repository.NoTX, p); err != nil {
			log.Fatalf("seed product %q: %v", p.Code, err)
		}
		fmt.Printf("seeded product: %s (id=%s)\n", p.Code, p.ID)
	}

	// Seed a few sample plans
	seed := []usecase.CreatePlanRequest{
		{
			ProductID:             products[0].ID,
			Code:                  "PRO_TRIAL",
			Name:                  "Pro Trial",
			LicenseType:           model.LicenseTypeTrial,
			DurationDays:          14,
			GraceDays:             0,
			MaxActivations:        1,
			MaxConcurrentSessions: 1,
			AllowOfflineDays:      3,
			Entitlements:          []string{"core"},
		},
		{
			ProductID:             products[0].ID,
			Code:                  "PRO_ANNUAL",
			Name:                  "Pro Annual",
			LicenseType:           model.LicenseTypeSubscription,
			DurationDays:          365,
			GraceDays:             14,
			MaxActivations:        3,
			MaxConcurrentSessions: 2,
			AllowOfflineDays:      30,
			Entitlements:          []string{"core", "render", "simulation"},
		},
		{
			ProductID:             products[0].ID,
			Code:                  "PRO_PERPETUAL",
			Name:                  "Pro Perpetual",
			LicenseType:           model.LicenseTypePerpetual,
			GraceDays:             0,
			MaxActivations:        2,
			MaxConcurrentSessions: 1,
			AllowOfflineDays:      90,
			Entitlements:          []string{"core", "render"},
		},
	}

	for _, req := range seed {
		p, err := planUC.Create(ctx, req)
		if err != nil {
			log.Fatalf("create plan %q: %v", req.Code, err)
		}
		fmt.Printf("seeded plan: %s [%s] (id=%s, type=%s, days=%d)\n",
			p.Name, p.Code, p.ID, p.LicenseType, p.DurationDays)
	}

	fmt.Println("✅ Seeding complete.")
}
