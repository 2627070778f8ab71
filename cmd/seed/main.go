package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greenloop/pickup-coordinator/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	materialIDs, err := seedMaterials(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed materials: %v", err)
	}
	producerIDs, err := seedUsers(context.Background(), pool, "producer", 2000)
	if err != nil {
		log.Fatalf("seed producers: %v", err)
	}
	if _, err := seedUsers(context.Background(), pool, "collector", 500); err != nil {
		log.Fatalf("seed collectors: %v", err)
	}
	if err := seedRequests(context.Background(), pool, producerIDs, materialIDs, 5000); err != nil {
		log.Fatalf("seed requests: %v", err)
	}

	log.Println("seed complete")
}

func seedMaterials(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	materials := []struct {
		name     string
		category string
	}{
		{"Cardboard", "paper"},
		{"Newspaper", "paper"},
		{"PET bottles", "plastic"},
		{"HDPE containers", "plastic"},
		{"Aluminium cans", "metal"},
		{"Scrap steel", "metal"},
		{"Clear glass", "glass"},
		{"Electronics", "e-waste"},
		{"Used cooking oil", "organic"},
		{"Textiles", "textile"},
	}

	log.Printf("seeding %d materials", len(materials))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(materials))
	for _, m := range materials {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO materials (id, name, category, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, m.name, m.category)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("materials seeded")
	return ids, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, role string, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d %ss", count, role)

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, email, role)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Printf("%ss seeded: %d/%d", role, end, count)
	}

	return ids, nil
}

func seedRequests(ctx context.Context, pool *pgxpool.Pool, owners, materials []uuid.UUID, count int) error {
	log.Printf("seeding %d requests", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			owner := owners[gofakeit.Number(0, len(owners)-1)]
			material := materials[gofakeit.Number(0, len(materials)-1)]
			description := gofakeit.Sentence(8)
			lat := gofakeit.Latitude()
			lng := gofakeit.Longitude()

			_, err := tx.Exec(ctx, `
				INSERT INTO requests (id, owner_id, material_id, description, latitude, longitude, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, 'open', now(), now())
			`, id, owner, material, description, lat, lng)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("requests seeded: %d/%d", end, count)
	}

	log.Println("requests seeded")
	return nil
}
