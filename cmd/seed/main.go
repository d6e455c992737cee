package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/pkg/logging"
)

const (
	slotMinutes = 15
	dayStart    = 9
	dayEnd      = 17
)

var log zerolog.Logger

func main() {
	log = logging.New(os.Getenv("LOG_LEVEL"), "dev")
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors := envInt("SEED_DOCTORS", 5)
	patients := envInt("SEED_PATIENTS", 500)
	days := envInt("SEED_DAYS", 7)

	bg := context.Background()
	clinicID, err := seedClinic(bg, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("seed clinic")
	}
	doctorIDs, err := seedDoctors(bg, pool, clinicID, doctors)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(bg, pool, clinicID, patients); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedSlots(bg, pool, clinicID, doctorIDs, days); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}

	log.Info().Str("clinic_id", clinicID.String()).Msg("seed complete; set DEFAULT_CLINIC_ID to this clinic")
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, error) {
	id := uuid.New()
	name := gofakeit.LastName() + " Family Clinic"
	_, err := pool.Exec(ctx, `
		INSERT INTO clinics (id, name, created_at)
		VALUES ($1, $2, now())
	`, id, name)
	if err != nil {
		return uuid.Nil, err
	}
	log.Info().Str("name", name).Msg("clinic seeded")
	return id, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
		"General Practice",
		"Family Medicine",
		"Pediatrics",
		"Dermatology",
		"Women's Health",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, name, specialty, created_at)
			VALUES ($1, $2, $3, $4, now())
		`, id, clinicID, name, specialty)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// seedPatients creates patients whose user_id is "user-<n>" so the simulator
// and manual curl calls can book with a predictable X-User-ID.
func seedPatients(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

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
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, clinic_id, user_id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			`, uuid.New(), clinicID, fmt.Sprintf("user-%d", i+1), gofakeit.Name(), gofakeit.Email(), gofakeit.Numerify("9#######"))
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, doctorIDs []uuid.UUID, days int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	today := time.Now().Truncate(24 * time.Hour)
	total := 0
	for d := 1; d <= days; d++ {
		day := today.AddDate(0, 0, d)
		if day.Weekday() == time.Sunday {
			continue
		}
		for _, doctorID := range doctorIDs {
			for minute := dayStart * 60; minute < dayEnd*60; minute += slotMinutes {
				slotTime := fmt.Sprintf("%02d:%02d", minute/60, minute%60)
				_, err := tx.Exec(ctx, `
					INSERT INTO appointment_slots (id, clinic_id, doctor_id, slot_date, slot_time, duration_minutes, is_available)
					VALUES ($1, $2, $3, $4::date, $5::time, $6, true)
					ON CONFLICT (clinic_id, doctor_id, slot_date, slot_time) DO NOTHING
				`, uuid.New(), clinicID, doctorID, day.Format(time.DateOnly), slotTime, slotMinutes)
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Info().Int("count", total).Int("days", days).Msg("slots seeded")
	return nil
}
