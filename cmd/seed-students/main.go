package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/database"
	"github.com/edutrack/edutrack-backend/internal/lock"
	"github.com/edutrack/edutrack-backend/internal/logger"
	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/repository"
	"github.com/edutrack/edutrack-backend/internal/service"
)

var departments = []model.Department{
	model.DeptComputerScience,
	model.DeptInformationTech,
	model.DeptElectronicsComm,
	model.DeptMechanical,
	model.DeptAIDataScience,
}

var names = []string{
	"Aarav Sharma", "Diya Patel", "Karthik Raman", "Meera Iyer", "Rohan Gupta",
	"Ananya Reddy", "Vikram Nair", "Priya Menon", "Arjun Pillai", "Kavya Krishnan",
	"Siddharth Rao", "Lakshmi Subramanian", "Nikhil Verma", "Sneha Joshi", "Harish Kumar",
	"Divya Bhat", "Pranav Desai", "Aishwarya Naidu", "Rahul Mehta", "Pooja Srinivasan",
}

var courseTitles = []string{
	"Engineering Mathematics", "Programming in C", "Data Structures", "Digital Logic",
	"Computer Networks", "Operating Systems", "Database Systems", "Compiler Design",
	"Machine Learning", "Software Engineering", "Environmental Science", "Technical English",
}

// seed-students registers demo students and submits randomised semesters
// through the academic service, so every aggregate is computed the same
// way the API computes it.
func main() {
	var count, seed int
	flag.IntVar(&count, "n", 20, "Number of students to create")
	flag.IntVar(&seed, "seed", 1, "Random seed")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	scale, err := cfg.GradeScale()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid grade scale")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Same student lock as the server.
	var rdb *redis.Client
	if cfg.LockBackend == lock.BackendRedis {
		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	}

	locker, err := lock.New(cfg.LockBackend, rdb, cfg.LockTTL, cfg.LockWait, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create student locker")
	}

	academicService := service.NewAcademicService(repository.NewStore(pool), locker, scale, nil, log)

	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	symbols := scale.Symbols()

	fmt.Printf("=== Seeding %d Students ===\n", count)

	successCount := 0
	for i := 0; i < count; i++ {
		current := 1 + rng.IntN(model.MaxSemesterNum)
		student, err := academicService.CreateStudent(ctx, model.CreateStudentRequest{
			RegisterNumber:  fmt.Sprintf("SEED%05d", i+1),
			Name:            names[i%len(names)],
			Email:           fmt.Sprintf("seed%05d@edutrack.local", i+1),
			Department:      departments[rng.IntN(len(departments))],
			CurrentSemester: current,
		})
		if err != nil {
			if errors.Is(err, service.ErrDuplicateStudent) {
				fmt.Printf("Student SEED%05d already exists, skipping\n", i+1)
				continue
			}
			log.Fatal().Err(err).Msg("Failed to create student")
		}

		for num := 1; num < current; num++ {
			subjects := make([]model.Subject, 4+rng.IntN(3))
			for j := range subjects {
				subjects[j] = model.Subject{
					Code:    fmt.Sprintf("S%d%02d", num, j+1),
					Title:   courseTitles[rng.IntN(len(courseTitles))],
					Credits: float64(2 + rng.IntN(3)),
					Grade:   symbols[rng.IntN(len(symbols))],
				}
			}
			if _, err := academicService.SubmitSemester(ctx, student.ID, num, subjects); err != nil {
				log.Fatal().Err(err).Int("student_id", student.ID).Int("num", num).Msg("Failed to submit semester")
			}
		}

		successCount++
		if successCount%10 == 0 {
			fmt.Printf("Created %d students...\n", successCount)
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d students.\n", successCount, count)
}
