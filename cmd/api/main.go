package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abjerry97/p2pvps_server/internal/auth"
	"github.com/abjerry97/p2pvps_server/internal/market"
	"github.com/abjerry97/p2pvps_server/internal/monitoring"
	"github.com/abjerry97/p2pvps_server/internal/processors"
	"github.com/abjerry97/p2pvps_server/internal/refund"
	"github.com/abjerry97/p2pvps_server/internal/server"
	"github.com/abjerry97/p2pvps_server/internal/tools"
	log "github.com/sirupsen/logrus"
)

func main() {
	config := tools.LoadConfig()
	tools.SetupLogging(config.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := monitoring.InitTracer(ctx, config.ServiceName, config.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	db, err := tools.NewDatabaseService(ctx, config.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisService, err := tools.NewRedisService(config.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()

	httpClient := tools.NewHTTPClient(config.HTTPTimeout)
	store := market.NewStoreClient(httpClient, config.OpenBazaarURL)
	admin := auth.NewAdminSession(httpClient, config.AuthURL, auth.Credentials{
		Username: config.AdminUsername,
		Password: config.AdminPassword,
	})
	lister := market.NewLister(market.NewContractClient(httpClient, config.ObContractURL), store, admin, db)

	refunds := refund.NewService(db, store, redisService, config.RentalPeriod)
	settler := refund.NewLockedSettler(refunds, redisService, config.LockTTL)

	processor := processors.NewSettlementProcessor(redisService, settler, config.WorkerCount)
	processor.Start(ctx)

	jwtManager := auth.NewJWTManager(config.JWTSecret, time.Duration(config.JWTExpirationHours)*time.Hour, config.JWTIssuer)

	api := server.NewAPIServer(server.Deps{
		Login:       auth.NewAuthenticator(db, jwtManager),
		JWT:         jwtManager,
		Devices:     db,
		Settler:     settler,
		Queue:       redisService,
		Ports:       market.NewPortClient(httpClient, config.PortControlURL),
		Listings:    lister,
		Period:      config.RentalPeriod,
		ServiceName: config.ServiceName,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		cancel()
		processor.Stop()
		shutdownTracing(context.Background())
		os.Exit(0)
	}()

	log.WithFields(log.Fields{
		"port":          config.Port,
		"rental_period": config.RentalPeriod.String(),
		"workers":       config.WorkerCount,
	}).Info("Server starting")
	if err := api.Run(":" + config.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
