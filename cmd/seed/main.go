package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/storage"
)

var specialties = []string{
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

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage init error", zap.Error(err))
	}
	defer store.Close()

	svc := clinic.NewService(store, nil, logger, clinic.Options{})
	authSvc := auth.NewService(store, cfg.JWTSecret, cfg.TokenTTL, logger)
	faker := gofakeit.New(0)

	doctors := getInt("SEED_DOCTORS", 10)
	slotsPer := getInt("SEED_SLOTS_PER_DOCTOR", 5)
	citizens := getInt("SEED_CITIZENS", 25)
	password := getEnv("SEED_PASSWORD", "password")

	if err := seedDoctors(ctx, svc, faker, doctors, slotsPer, logger); err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedCitizens(ctx, authSvc, faker, citizens, password, logger); err != nil {
		logger.Fatal("seed citizens", zap.Error(err))
	}

	logger.Info("seed complete", zap.String("driver", store.Driver))
}

// seedDoctors adds doctors with open slots on the next working days, on the
// hour between 09:00 and 16:00 UTC.
func seedDoctors(ctx context.Context, svc *clinic.Service, faker *gofakeit.Faker, count, slotsPer int, logger *zap.Logger) error {
	logger.Info("seeding doctors", zap.Int("count", count), zap.Int("slots_per_doctor", slotsPer))

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	places := []string{"Room 1", "Room 2", "Room 3", "East Wing", "Telehealth"}

	for i := 0; i < count; i++ {
		d, err := svc.CreateDoctor(ctx, "Dr. "+faker.Name(), specialties[faker.Number(0, len(specialties)-1)])
		if err != nil {
			return err
		}

		added := 0
		for offset := 0; added < slotsPer; offset++ {
			at := day.Add(time.Duration(offset/8) * 24 * time.Hour).Add(time.Duration(9+offset%8) * time.Hour)
			if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			if faker.Bool() {
				continue
			}
			place := places[faker.Number(0, len(places)-1)]
			if _, err := svc.AddSlot(ctx, d.ID, at, place); err != nil && !errors.Is(err, clinic.ErrSlotExists) {
				return err
			}
			added++
		}
	}

	logger.Info("doctors seeded")
	return nil
}

func seedCitizens(ctx context.Context, authSvc *auth.Service, faker *gofakeit.Faker, count int, password string, logger *zap.Logger) error {
	logger.Info("seeding citizens", zap.Int("count", count))

	created := 0
	for i := 0; i < count; i++ {
		_, err := authSvc.Register(ctx, faker.Name(), faker.Email(), password)
		if errors.Is(err, clinic.ErrEmailTaken) {
			continue
		}
		if err != nil {
			return err
		}
		created++
	}

	logger.Info("citizens seeded", zap.Int("created", created))
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
