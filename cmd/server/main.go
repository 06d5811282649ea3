package main // Entry point package

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/prizedraw/ticket-redemption/internal/config"
	"github.com/prizedraw/ticket-redemption/internal/database"
	"github.com/prizedraw/ticket-redemption/internal/engine"
	"github.com/prizedraw/ticket-redemption/internal/handler"
	"github.com/prizedraw/ticket-redemption/internal/notifier"
	"github.com/prizedraw/ticket-redemption/internal/queue"
	"github.com/prizedraw/ticket-redemption/internal/repository"
	"github.com/prizedraw/ticket-redemption/internal/router"
	queue_publisher "github.com/prizedraw/ticket-redemption/internal/service"
	"github.com/prizedraw/ticket-redemption/internal/utils"
)

func main() {
	// Load .env when present; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("godotenv: %v", err)
	}
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	tickets := repository.NewTicketRepo(db)
	codec := utils.NewCodec(cfg.TokenSecret, cfg.RedemptionTTL, cfg.SessionTTL)
	eng := engine.New(tickets, codec, cfg.SessionTTL)

	redeemH := handler.NewRedeemHandler(eng)
	prizeH := handler.NewPrizeHandler(eng, cfg.StageHoldWindow, cfg.ClaimHoldWindow)
	sessionH := handler.NewSessionHandler(eng)
	checkoutH := handler.NewCheckoutHandler(eng, queue_publisher.PublishPremiumRedeemed)
	importH := handler.NewImportHandler(tickets)

	// Background consumer feeding the informational-email collaborator.
	go func() {
		if err := queue.StartPremiumConsumer(os.Getenv("RABBITMQ_URL"), notifier.LogNotifier{}); err != nil {
			log.Printf("premium consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	rlCfg := config.LoadRateLimitConfig()
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; redemption rate limiting disabled")
	}
	router.RegisterRoutes(e, redeemH, rlCfg, rdb)
	router.RegisterSession(e, codec, sessionH, prizeH)
	router.RegisterInternal(e, checkoutH, importH)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
