package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/khqr"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type KHQRConfig struct {
	MerchantID    string
	TerminalID    string
	MerchantName  string
	City          string
	PostalCode    string
	Bank          string
	WebhookSecret string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

type SendGridConfig struct {
	APIKey string
	From   string
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

type Config struct {
	Env             string
	HTTPAddr        string
	GRPCAddr        string
	PostgresDSN     string
	RedisAddr       string
	AMQPURL         string
	JWTSecret       string
	ClientURL       string
	GatewayTimeout  time.Duration
	DefaultCurrency string

	Stripe    StripeConfig
	KHQR      KHQRConfig
	Telegram  TelegramConfig
	SendGrid  SendGridConfig
	RateLimit RateLimitConfig

	// ManualVerifyAdminOnly restricts PUT /orders/:id/verify-payment to admins.
	ManualVerifyAdminOnly bool
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8082")
	v.SetDefault("GRPC_ADDR", ":50052")
	v.SetDefault("CLIENT_URL", "http://localhost:3000")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("DEFAULT_CURRENCY", "USD")
	v.SetDefault("KHQR_BANK", "ABA")
	v.SetDefault("KHQR_POSTAL_CODE", "12000")
	v.SetDefault("STORE_NAME", "Ordenes Store")
	v.SetDefault("STORE_CITY", "Phnom Penh")
	v.SetDefault("MAIL_FROM", "orders@example.com")
	v.SetDefault("PAYMENT_RATE_LIMIT", 10)
	v.SetDefault("PAYMENT_RATE_WINDOW", "15m")
	v.SetDefault("MANUAL_VERIFY_ADMIN_ONLY", false)
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	_ = godotenv.Load() // load .env if it exists
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Env:             strings.ToLower(v.GetString("APP_ENV")),
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		GRPCAddr:        v.GetString("GRPC_ADDR"),
		PostgresDSN:     v.GetString("POSTGRES_DSN"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		AMQPURL:         v.GetString("AMQP_URL"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		ClientURL:       strings.TrimRight(v.GetString("CLIENT_URL"), "/"),
		GatewayTimeout:  v.GetDuration("GATEWAY_TIMEOUT"),
		DefaultCurrency: strings.ToUpper(v.GetString("DEFAULT_CURRENCY")),
		Stripe: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		},
		KHQR: KHQRConfig{
			MerchantID:    v.GetString("KHQR_MERCHANT_ID"),
			TerminalID:    v.GetString("KHQR_TERMINAL_ID"),
			MerchantName:  v.GetString("STORE_NAME"),
			City:          v.GetString("STORE_CITY"),
			PostalCode:    v.GetString("KHQR_POSTAL_CODE"),
			Bank:          strings.ToUpper(v.GetString("KHQR_BANK")),
			WebhookSecret: v.GetString("KHQR_WEBHOOK_SECRET"),
		},
		Telegram: TelegramConfig{
			BotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID:   v.GetInt64("TELEGRAM_CHAT_ID"),
		},
		SendGrid: SendGridConfig{
			APIKey: v.GetString("SENDGRID_API_KEY"),
			From:   v.GetString("MAIL_FROM"),
		},
		RateLimit: RateLimitConfig{
			Max:    v.GetInt("PAYMENT_RATE_LIMIT"),
			Window: v.GetDuration("PAYMENT_RATE_WINDOW"),
		},
		ManualVerifyAdminOnly: v.GetBool("MANUAL_VERIFY_ADMIN_ONLY"),
	}
}

func (c Config) IsProduction() bool { return c.Env == "production" }

// Validate fails closed on settings that would make payments unverifiable
// or route QR transfers to the wrong bank.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultCurrency != "USD" && c.DefaultCurrency != "KHR" {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY %q not supported", c.DefaultCurrency))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("PAYMENT_RATE_LIMIT must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("PAYMENT_RATE_WINDOW must be positive"))
	}
	if c.KHQR.MerchantID != "" {
		if _, ok := khqr.BankCode(c.KHQR.Bank); !ok {
			errs = append(errs, fmt.Errorf("KHQR_BANK %q is not a known bank", c.KHQR.Bank))
		}
		if c.KHQR.TerminalID == "" {
			errs = append(errs, errors.New("KHQR_TERMINAL_ID is required with KHQR_MERCHANT_ID"))
		}
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		}
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required in production"))
		}
		if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required in production"))
		}
		if c.KHQR.MerchantID != "" && c.KHQR.WebhookSecret == "" {
			errs = append(errs, errors.New("KHQR_WEBHOOK_SECRET is required in production"))
		}
	}
	return errors.Join(errs...)
}

// Log writes the effective, non-secret settings.
func (c Config) Log(l *zap.Logger) {
	l.Info("[config] loaded",
		zap.String("env", c.Env),
		zap.String("http_addr", c.HTTPAddr),
		zap.String("grpc_addr", c.GRPCAddr),
		zap.Bool("postgres", c.PostgresDSN != ""),
		zap.Bool("redis", c.RedisAddr != ""),
		zap.Bool("amqp", c.AMQPURL != ""),
		zap.Bool("stripe", c.Stripe.SecretKey != ""),
		zap.Bool("khqr", c.KHQR.MerchantID != ""),
		zap.String("khqr_bank", c.KHQR.Bank),
		zap.Duration("gateway_timeout", c.GatewayTimeout),
	)
}
