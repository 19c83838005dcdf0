package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openwallet/ewallet-service/internal/config"
	"github.com/openwallet/ewallet-service/internal/logger"
	"github.com/openwallet/ewallet-service/internal/model"
	"github.com/openwallet/ewallet-service/internal/notify"
	"github.com/openwallet/ewallet-service/internal/otp"
	"github.com/openwallet/ewallet-service/internal/repo"
	"github.com/openwallet/ewallet-service/internal/service"
	httptransport "github.com/openwallet/ewallet-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Customer{}, &model.PaymentAccount{}, &model.BankAccount{},
		&model.SavingAccount{}, &model.InterestRate{},
		&model.Transaction{}, &model.TransactionCustomer{}, &model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	sweeper := service.NewSweeper(repository, cfg.Sweeper.Window(), log)
	engine := service.NewEngine(repository, sweeper, log)
	saving := service.NewSavingService(repository, log)
	history := service.NewHistoryService(repository, log)
	gate := otp.NewGate(rdb, cfg.OTP.TTL(), cfg.OTP.MaxAttempts, log)
	notifier := notify.NewEmailNotifier(cfg.SMTP)

	// 7. gin router
	handlers := httptransport.NewHandlers(engine, saving, history, gate, notifier, repository, cfg.OTP.TTL(), log)
	router := httptransport.NewRouter(handlers, cfg, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("ewallet-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
