package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/dinein/internal/auth"
	"github.com/kiwari-pos/dinein/internal/config"
)

type seedItem struct {
	name    string
	station string
	prices  [][2]string // label, price
	options [][2]string // name, extra price
}

var menu = []seedItem{
	{"Nasi Bakar Ayam", "GRILL", [][2]string{{"Regular", "25000"}, {"Jumbo", "32000"}}, [][2]string{{"Extra Sambal", "3000"}, {"Telur", "5000"}}},
	{"Nasi Bakar Cumi", "GRILL", [][2]string{{"Regular", "30000"}}, [][2]string{{"Extra Sambal", "3000"}}},
	{"Es Teh Manis", "BAR", [][2]string{{"Regular", "8000"}, {"Large", "12000"}}, [][2]string{{"Less Sugar", "0"}}},
	{"Kopi Susu", "BAR", [][2]string{{"Hot", "15000"}, {"Iced", "18000"}}, nil},
}

func main() {
	name := flag.String("outlet", "Kiwari Nasi Bakar", "Outlet name")
	tables := flag.Int("tables", 10, "Number of tables to create (T01..Tnn)")
	role := flag.String("role", auth.RoleOwner, "Role for the printed dev token")
	flag.Parse()

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Seed in a transaction (all or nothing)
	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	outletID, created, err := seedOutlet(ctx, tx, *name)
	if err != nil {
		log.Fatalf("Failed to seed outlet: %v", err)
	}
	if created {
		if err := seedTables(ctx, tx, outletID, *tables); err != nil {
			log.Fatalf("Failed to seed tables: %v", err)
		}
		if err := seedMenu(ctx, tx, outletID); err != nil {
			log.Fatalf("Failed to seed menu: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, uuid.New(), outletID, *role, 24*time.Hour)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	log.Println("Seed completed successfully")
	log.Printf("Outlet ID: %s", outletID)
	fmt.Fprintf(os.Stdout, "%s token (24h): %s\n", *role, token)
}

// seedOutlet creates the outlet if it doesn't exist.
func seedOutlet(ctx context.Context, tx pgx.Tx, name string) (uuid.UUID, bool, error) {
	var existingID uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM outlets WHERE name = $1 LIMIT 1`, name).Scan(&existingID)
	if err == nil {
		log.Printf("Outlet '%s' already exists (ID: %s), skipping", name, existingID)
		return existingID, false, nil
	}
	if err != pgx.ErrNoRows {
		return uuid.Nil, false, fmt.Errorf("check outlet: %w", err)
	}

	var newID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO outlets (tenant_id, name) VALUES ($1, $2) RETURNING id`,
		uuid.New(), name,
	).Scan(&newID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert outlet: %w", err)
	}

	log.Printf("Created outlet '%s' (ID: %s)", name, newID)
	return newID, true, nil
}

func seedTables(ctx context.Context, tx pgx.Tx, outletID uuid.UUID, n int) error {
	for i := 1; i <= n; i++ {
		code := fmt.Sprintf("T%02d", i)
		_, err := tx.Exec(ctx,
			`INSERT INTO tables (outlet_id, code, name, qr_code) VALUES ($1, $2, $3, $4)`,
			outletID, code, fmt.Sprintf("Table %d", i), fmt.Sprintf("/outlets/%s/qr/tables/%s", outletID, code),
		)
		if err != nil {
			return fmt.Errorf("insert table %s: %w", code, err)
		}
	}
	log.Printf("Created %d tables", n)
	return nil
}

func seedMenu(ctx context.Context, tx pgx.Tx, outletID uuid.UUID) error {
	for _, item := range menu {
		var itemID uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO menu_items (outlet_id, name, station) VALUES ($1, $2, $3) RETURNING id`,
			outletID, item.name, item.station,
		).Scan(&itemID)
		if err != nil {
			return fmt.Errorf("insert menu item %s: %w", item.name, err)
		}
		for _, p := range item.prices {
			if _, err := tx.Exec(ctx,
				`INSERT INTO menu_item_prices (menu_item_id, label, price) VALUES ($1, $2, $3::numeric)`,
				itemID, p[0], p[1],
			); err != nil {
				return fmt.Errorf("insert price %s/%s: %w", item.name, p[0], err)
			}
		}
		for _, o := range item.options {
			if _, err := tx.Exec(ctx,
				`INSERT INTO menu_item_options (menu_item_id, name, extra_price) VALUES ($1, $2, $3::numeric)`,
				itemID, o[0], o[1],
			); err != nil {
				return fmt.Errorf("insert option %s/%s: %w", item.name, o[0], err)
			}
		}
	}
	log.Printf("Created %d menu items", len(menu))
	return nil
}
