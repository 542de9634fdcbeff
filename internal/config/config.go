package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"avtoborsa/internal/logger"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	AppPort     string
	AppEnv      string // "production" hardens webhook verification
	DatabaseURL string
	JWTSecret   string

	// Payment processor
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIBase       string
	StripeTimeout       time.Duration
	WebhookTolerance    time.Duration

	// Checkout limits and defaults
	MaxAmount          decimal.Decimal
	DefaultCurrency    string
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	// Post-credit side effects
	InvoiceMailerURL string
	KafkaBrokers     []string

	// Rate limiting
	APIRateLimit  int
	APIRateWindow time.Duration
}

// Load reads configuration from the environment. Required variables are
// fatal when missing; the rest fall back to safe defaults.
func Load() *Config {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET is not set")
	}

	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey == "" {
		logger.Fatal("STRIPE_SECRET_KEY is not set")
	}

	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "development"
	}

	// An unverified webhook endpoint must be impossible in production.
	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		if appEnv == "production" {
			logger.Fatal("STRIPE_WEBHOOK_SECRET is required when APP_ENV=production")
		}
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set, webhook payloads will be trusted (dev only)")
	}

	apiBase := os.Getenv("STRIPE_API_BASE")
	if apiBase == "" {
		apiBase = "https://api.stripe.com"
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	tolerance := 300
	if v := os.Getenv("WEBHOOK_TOLERANCE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tolerance = n
		}
	}

	stripeTimeout := 20
	if v := os.Getenv("STRIPE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			stripeTimeout = n
		}
	}

	maxAmount := decimal.New(99999999, -2) // 999999.99
	if v := os.Getenv("PAYMENT_MAX_AMOUNT"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			maxAmount = d
		}
	}

	currency := strings.ToLower(os.Getenv("DEFAULT_CURRENCY"))
	if currency == "" {
		currency = "eur"
	}

	successURL := os.Getenv("CHECKOUT_SUCCESS_URL")
	if successURL == "" {
		successURL = "https://avtoborsa.example/payments/success"
	}
	cancelURL := os.Getenv("CHECKOUT_CANCEL_URL")
	if cancelURL == "" {
		cancelURL = "https://avtoborsa.example/payments/cancel"
	}

	apiRateLimit := 60
	if v := os.Getenv("API_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			apiRateLimit = n
		}
	}
	apiRateWindow := 60
	if v := os.Getenv("API_RATE_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			apiRateWindow = n
		}
	}

	// Kafka brokers !! COMMA SEPARATED IN ENV !!
	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			b = strings.TrimSpace(b)
			if b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return &Config{
		AppPort:             port,
		AppEnv:              appEnv,
		DatabaseURL:         dbURL,
		JWTSecret:           jwtSecret,
		StripeSecretKey:     stripeKey,
		StripeWebhookSecret: webhookSecret,
		StripeAPIBase:       apiBase,
		StripeTimeout:       time.Duration(stripeTimeout) * time.Second,
		WebhookTolerance:    time.Duration(tolerance) * time.Second,
		MaxAmount:           maxAmount,
		DefaultCurrency:     currency,
		CheckoutSuccessURL:  successURL,
		CheckoutCancelURL:   cancelURL,
		InvoiceMailerURL:    os.Getenv("INVOICE_MAILER_URL"),
		KafkaBrokers:        brokers,
		APIRateLimit:        apiRateLimit,
		APIRateWindow:       time.Duration(apiRateWindow) * time.Second,
	}
}
