package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/dinein/internal/config"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/kiwari-pos/dinein/internal/messaging"
	"github.com/kiwari-pos/dinein/internal/router"
	"github.com/kiwari-pos/dinein/internal/service"
	"github.com/kiwari-pos/dinein/internal/ws"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	var wg sync.WaitGroup
	bg, cancelBg := context.WithCancel(context.Background())

	hub := ws.NewHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(bg)
	}()

	notifier := service.MultiNotifier{hub}
	var publisher *messaging.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = messaging.Dial(cfg.AMQPURL, cfg.EventExchange)
		if err != nil {
			log.Fatalf("Unable to connect to broker: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			publisher.Run(bg)
		}()
		notifier = append(notifier, publisher)
		log.Printf("Publishing events to exchange %s", cfg.EventExchange)
	}

	clock := service.SystemClock{}
	queries := database.New(pool)
	svc := router.Services{
		Tables: service.NewTableService(queries, clock, cfg.QRSessionTTL),
		Orders: service.NewOrderService(pool, func(db database.DBTX) service.OrderStore {
			return database.New(db)
		}, clock, notifier),
		Kitchen: service.NewKitchenService(pool, func(db database.DBTX) service.KitchenStore {
			return database.New(db)
		}, clock, notifier),
		Groups: service.NewGroupService(pool, func(db database.DBTX) service.GroupStore {
			return database.New(db)
		}, clock, notifier),
		Payments: service.NewPaymentService(pool, func(db database.DBTX) service.PaymentStore {
			return database.New(db)
		}, clock, notifier, cfg.PaymentTTL),
		Billing: service.NewBillingService(queries),
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.ExpirePaymentsSchedule, func() {
		n, err := svc.Payments.ExpireStalePending(bg)
		if err != nil {
			log.Printf("ERROR: expire pending payments: %v", err)
			return
		}
		if n > 0 {
			log.Printf("Expired %d pending payments", n)
		}
	}); err != nil {
		log.Fatalf("Invalid EXPIRE_PAYMENTS_SCHEDULE: %v", err)
	}
	if _, err := c.AddFunc(cfg.CloseSessionsSchedule, func() {
		n, err := svc.Tables.CloseExpiredSessions(bg)
		if err != nil {
			log.Printf("ERROR: close expired sessions: %v", err)
			return
		}
		if n > 0 {
			log.Printf("Closed %d expired QR sessions", n)
		}
	}); err != nil {
		log.Fatalf("Invalid CLOSE_SESSIONS_SCHEDULE: %v", err)
	}
	c.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router.New(cfg, svc, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: shutdown: %v", err)
	}
	<-c.Stop().Done()

	cancelBg()
	wg.Wait()
	if publisher != nil {
		publisher.Close()
	}
}
