package main

import (
	"context"
	"fmt"
	"time"

	"github.com/openwallet/ewallet-service/internal/config"
	"github.com/openwallet/ewallet-service/internal/logger"
	"github.com/openwallet/ewallet-service/internal/repo"
	"github.com/openwallet/ewallet-service/internal/service"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/segmentio/kafka-go"
)

// The accrual job credits daily interest on active saving accounts and pays
// out the ones that reached end of term. The per-day guard inside the
// service makes an extra run harmless.
func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)
	saving := service.NewSavingService(repository, log)

	run := func() {
		ctx := context.Background()
		if err := saving.RunDaily(ctx, time.Now()); err != nil {
			log.Errorf("daily accrual: %v", err)
		}
	}

	c := cron.New()
	// hourly, not just at midnight, so a missed run catches up the same day
	if _, err := c.AddFunc("@hourly", run); err != nil {
		log.Fatalf("schedule accrual: %v", err)
	}

	log.Info("ewallet-accrual started")
	run()
	c.Run()
}
