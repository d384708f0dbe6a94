package main

import (
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"net/smtp"
	"os"

	"github.com/zllovesuki/bmc/account"
	"github.com/zllovesuki/bmc/auth"
	"github.com/zllovesuki/bmc/broker"
	"github.com/zllovesuki/bmc/budget"
	"github.com/zllovesuki/bmc/client"
	"github.com/zllovesuki/bmc/db"
	"github.com/zllovesuki/bmc/external"
	"github.com/zllovesuki/bmc/subscription"

	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	defer logger.Sync()

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	db, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	smtpAuth := smtp.PlainAuth("", os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_HOST"))

	authManager, err := auth.New(auth.Options{
		Redis:  rdb,
		Logger: logger,

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),

		Environment: authEnvironment,
		SMTPAuth:    smtpAuth,
		From:        os.Getenv("SMTP_FROM"),
		Hostname:    os.Getenv("SMTP_HOST") + ":" + os.Getenv("SMTP_PORT"),
		EmailOption: auth.EmailOption{
			Name: os.Getenv("SITE_NAME"),
			LinkGenerator: func(uid, token string) string {
				return fmt.Sprintf("%s/login/%s/%s", os.Getenv("SITE_URL"), uid, token)
			},
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	accountManager, err := account.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize AccountManager",
			zap.Error(err),
		)
	}

	clientManager, err := client.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize ClientManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	budgetManager, err := budget.NewManager(budget.ManagerOptions{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize BudgetManager",
			zap.Error(err),
		)
	}

	catalogPath := os.Getenv("PLAN_CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = "plans.json"
	}
	catalog, err := subscription.LoadCatalogFromFile(catalogPath)
	if err != nil {
		logger.Fatal("Cannot load plan catalog",
			zap.Error(err),
		)
	}

	normalizer, err := subscription.NewNormalizer(os.Getenv("STRIPE_WEBHOOK_SECRET"))
	if err != nil {
		logger.Fatal("Cannot initialize Normalizer",
			zap.Error(err),
		)
	}

	reconciler, err := subscription.NewReconciler(subscription.ReconcilerOptions{
		DB:              db,
		Catalog:         catalog,
		SubscriptionAPI: stripeClient.Subscriptions,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Reconciler",
			zap.Error(err),
		)
	}

	accountRouter, err := account.NewService(account.ServiceOptions{
		Auth:           authManager,
		AccountManager: accountManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Account Service Router",
			zap.Error(err),
		)
	}

	clientRouter, err := client.NewService(client.ServiceOptions{
		ClientManager: clientManager,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Client Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		SubscriptionManager: subscriptionManager,
		Normalizer:          normalizer,
		Reconciler:          reconciler,
		CheckoutAPI:         stripeClient.CheckoutSessions,
		PortalAPI:           stripeClient.BillingPortalSessions,
		SiteURL:             os.Getenv("SITE_URL"),
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	budgetRouter, err := budget.NewService(budget.ServiceOptions{
		AccountManager: accountManager,
		ClientManager:  clientManager,
		BudgetManager:  budgetManager,
		Producer:       amqpBroker,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Budget Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{os.Getenv("SITE_URL")},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	rootRouter.Mount("/accounts", accountRouter.Router())
	rootRouter.Mount("/public/budgets", budgetRouter.PublicRouter())

	rootRouter.Group(func(r chi.Router) {
		r.Use(authManager.Middleware())
		r.Mount("/clients", clientRouter.Router())
		r.Mount("/budgets", budgetRouter.Router())
		r.Mount("/subscriptions", subscriptionRouter.Router())
	})

	// signature-verified, therefore outside the auth middleware
	rootRouter.Post("/webhooks/stripe", subscriptionRouter.WebhookHandler())

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":42069",
	}

	log.Fatalln(srv.ListenAndServe())
}
