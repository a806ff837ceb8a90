package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"amoura/m/v2/app/ai"
	"amoura/m/v2/app/alerts"
	"amoura/m/v2/app/api"
	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/payments"
	"amoura/m/v2/app/util"
	"amoura/m/v2/app/workers"
	"amoura/m/v2/app/workers/onstart"
	"amoura/m/v2/app/workers/status"
	"amoura/m/v2/app/workers/trialsweep"

	"github.com/DataDog/datadog-go/v5/statsd"
	fasthttpprom "github.com/carousell/fasthttp-prometheus-middleware"
	"github.com/fasthttp/router"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/valyala/fasthttp"
)

func main() {
	done := make(chan struct{}, 1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	env := util.Env("ENV", "dev")
	dataDogClient, err := statsd.New("datadog-agent.default.svc.cluster.local:8125", statsd.WithNamespace("amoura."))
	if err != nil && env == "production" {
		log.Fatalf("error creating main DataDog client: %v", err)
	}

	config.CONFIG = &config.Config{
		AppName:              "amoura",
		AppUrl:               util.Env("APP_URL", "https://amoura.app"),
		DataDogClient:        dataDogClient,
		Environment:          env,
		MongoDBConnection:    util.Env("MONGO_DB_CONNECTION_STRING"),
		MongoDBName:          util.Env("MONGO_DB_NAME", "amoura"),
		Redis: config.Redis{
			Host:     util.Env("REDIS_HOST"),
			Port:     "6379",
			Password: util.Env("REDIS_PASSWORD"),
		},
		StatusWorkerInterval: time.Minute,
		TrialSweepInterval:   time.Hour,

		StripeToken:          util.Env("STRIPE_TOKEN"),
		StripeEndpointSecret: util.Env("STRIPE_ENDPOINT_SECRET"),
		StripeEndpointSuffix: util.Env("STRIPE_ENDPOINT_SUFFIX", ""),
		PaypalBaseURL:        util.Env("PAYPAL_BASE_URL", "https://api-m.paypal.com"),
		PaypalClientID:       util.Env("PAYPAL_CLIENT_ID"),
		PaypalClientSecret:   util.Env("PAYPAL_CLIENT_SECRET"),
		PaypalWebhookID:      util.Env("PAYPAL_WEBHOOK_ID"),
		AsaasBaseURL:         util.Env("ASAAS_BASE_URL", "https://api.asaas.com"),
		AsaasAPIKey:          util.Env("ASAAS_API_KEY"),
		AsaasWebhookToken:    util.Env("ASAAS_WEBHOOK_TOKEN"),
		PicpayBaseURL:        util.Env("PICPAY_BASE_URL", "https://appws.picpay.com"),
		PicpayToken:          util.Env("PICPAY_TOKEN"),
		PicpaySellerToken:    util.Env("PICPAY_SELLER_TOKEN"),

		GeminiAPIKey:       util.Env("GEMINI_API_KEY"),
		ElevenLabsAPIKey:   util.Env("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:  util.Env("ELEVENLABS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		WhisperAPIEndpoint: util.Env("WHISPER_API_ENDPOINT", "https://api.openai.com/v1/audio/"),
		WhisperAPIKey:      util.Env("WHISPER_API_KEY"),

		TelegramSystemBotToken: util.Env("TELEGRAM_SYSTEM_TOKEN"),
		TelegramSystemTo:       util.Env("TELEGRAM_SYSTEM_TO"),
		SlackBotToken:          util.Env("SLACK_BOT_TOKEN", ""),
		SlackSecurityChannel:   util.Env("SLACK_SECURITY_CHANNEL", "#amoura-security"),
	}

	err = dataDogClient.Count("main.start", 1, []string{"env:" + config.CONFIG.Environment}, 1)
	if err != nil {
		log.Errorf("error sending metric: %v", err)
	}
	if config.CONFIG.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{
			DisableTimestamp: true,
		})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
			DisableColors: false,
		})
		log.SetLevel(log.TraceLevel)
	}

	redis.RedisClient = redis.NewClient(config.CONFIG.Redis)
	mongo.MongoDBClient = mongo.NewClient(config.CONFIG.MongoDBConnection)

	// create system bot for alerts, stubbed outside production
	if env == "production" {
		bot, chatID, err := alerts.NewSystemBot(config.CONFIG)
		if err != nil {
			log.Fatalf("ERROR creating system bot: %v", err)
		}
		payments.SystemBot = bot
		payments.SystemChatID = chatID
	} else {
		bot, chatID := alerts.NewStubSystemBot(config.CONFIG)
		payments.SystemBot = bot
		payments.SystemChatID = chatID
	}
	payments.SecuritySlackClient = alerts.NewSecuritySlackClient(config.CONFIG)

	// stripe client + payment rails
	stripe.Key = config.CONFIG.StripeToken
	stripe.SetAppInfo(&stripe.AppInfo{
		Name:    "amoura",
		Version: "0.0.1",
		URL:     config.CONFIG.AppUrl,
	})
	payments.Register(&payments.StripeProvider{})
	payments.Register(payments.NewPaypalProvider())
	payments.Register(payments.NewAsaasProvider())
	payments.Register(payments.NewPicpayProvider())

	api.AI = ai.NewAPI(config.CONFIG)

	rtr := router.New()
	rtr.GET("/health", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		_, _ = ctx.WriteString("❤️ from amoura")
	})

	rtr.POST("/checkout/{provider}", api.CreateCheckout)
	rtr.GET("/payments/stripe/poll", api.PollStripeSession)
	rtr.POST(fmt.Sprintf("/webhooks/stripe%s", config.CONFIG.StripeEndpointSuffix), payments.WebhookHandler(payments.Providers["stripe"]))
	rtr.POST("/webhooks/paypal", payments.WebhookHandler(payments.Providers["paypal"]))
	rtr.POST("/webhooks/asaas", payments.WebhookHandler(payments.Providers["asaas"]))
	rtr.POST("/webhooks/picpay", payments.WebhookHandler(payments.Providers["picpay"]))

	rtr.GET("/credits/balance", api.GetCreditBalance)
	rtr.POST("/credits/consume", api.ConsumeCredits)
	rtr.GET("/trial/status", api.GetTrialStatus)
	rtr.POST("/trial/start", api.StartTrial)
	rtr.GET("/catalog/plans", api.GetPlans)
	rtr.GET("/catalog/packages", api.GetCreditPackages)
	rtr.GET("/catalog/gifts", api.GetGifts)
	rtr.POST("/profile", api.UpdateProfile)
	rtr.POST("/chat/message", api.ChatMessage)
	rtr.POST("/chat/audio", api.ChatAudio)
	rtr.GET("/voice/session", api.VoiceSession)

	// run onstart worker once
	onstart.Run()

	// create status worker
	status.WORKER = workers.NewWorker(payments.SystemBot, config.CONFIG, config.CONFIG.StatusWorkerInterval, status.Run)
	go status.WORKER.Start()

	// create trial sweeping worker
	trialsweep.WORKER = workers.NewWorker(payments.SystemBot, config.CONFIG, config.CONFIG.TrialSweepInterval, trialsweep.Run)
	go trialsweep.WORKER.Start()

	go TearDown(sigs, done, status.WORKER, trialsweep.WORKER)

	p := fasthttpprom.NewPrometheus("")
	p.Use(rtr)
	server := &fasthttp.Server{
		Handler: fasthttp.TimeoutHandler(p.Handler, time.Second*30, "Request timeout"),
	}
	go func() {
		err = server.ListenAndServe(util.Env("BACKEND_LISTEN_ADDRESS"))
		util.Assert(err == nil, "ListenAndServe:", err)
	}()

	successfulStartMessage := fmt.Sprintf("🤖 %s started successfully 🚀 inside %s", config.CONFIG.AppName, util.Env("POD_NAME", "unknown"))
	_, err = payments.SystemBot.SendMessage(tu.Message(payments.SystemChatID, successfulStartMessage))
	if err != nil {
		log.Errorf("Failed to send start message to system bot: %s", err)
	}
	log.Info(successfulStartMessage)

	<-done
	log.Info("Done")
}

func TearDown(sigs chan os.Signal, done chan struct{}, statusWorker *workers.Worker, trialSweepWorker *workers.Worker) {
	<-sigs
	exitMessage := fmt.Sprintf("🤖 %s bids farewell ❌ inside %s", config.CONFIG.AppName, util.Env("POD_NAME", "unknown"))
	log.Info(exitMessage)
	payments.SystemBot.SendMessage(tu.Message(payments.SystemChatID, exitMessage))
	statusWorker.StopWorker()
	trialSweepWorker.StopWorker()

	err := mongo.MongoDBClient.Disconnect(context.Background())
	if err != nil {
		log.Errorf("TearDown: Disconnecting from MongoDB: %v", err)
	}
	done <- struct{}{}
}
