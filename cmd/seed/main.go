package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medagenda/clinic-scheduling/internal/db"
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

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providerIDs, err := seedProviders(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedWorkingHours(context.Background(), pool, providerIDs); err != nil {
		log.Fatalf("seed working hours: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	durations := []int{15, 20, 30, 45, 60}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		duration := durations[gofakeit.Number(0, len(durations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, slot_duration_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, spec, duration)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return ids, nil
}

// seedWorkingHours gives every provider a weekday schedule: a morning block,
// and for most of them an afternoon block after lunch.
func seedWorkingHours(ctx context.Context, pool *pgxpool.Pool, providerIDs []uuid.UUID) error {
	log.Printf("seeding working hours for %d providers", len(providerIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, providerID := range providerIDs {
		for weekday := 1; weekday <= 5; weekday++ {
			morningStart := 8*60 + gofakeit.Number(0, 2)*30 // 08:00..09:00
			_, err := tx.Exec(ctx, `
				INSERT INTO working_hours_rules (id, provider_id, weekday, start_minute, end_minute, created_at)
				VALUES ($1, $2, $3, $4, $5, now())
			`, uuid.New(), providerID, weekday, morningStart, 12*60)
			if err != nil {
				return err
			}

			if gofakeit.Number(0, 9) < 8 {
				afternoonEnd := 17*60 + gofakeit.Number(0, 2)*30 // 17:00..18:00
				_, err := tx.Exec(ctx, `
					INSERT INTO working_hours_rules (id, provider_id, weekday, start_minute, end_minute, created_at)
					VALUES ($1, $2, $3, $4, $5, now())
				`, uuid.New(), providerID, weekday, 13*60, afternoonEnd)
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("working hours seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

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
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, consecutive_absences, blocked, created_at, updated_at)
				VALUES ($1, $2, $3, 0, false, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
