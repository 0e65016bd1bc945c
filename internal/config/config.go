package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	WebhookSecret  string        `mapstructure:"WEBHOOK_SECRET"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	SentryDSN      string        `mapstructure:"SENTRY_DSN"`

	AIURL         string        `mapstructure:"AI_URL"`
	OpenAIAPIKey  string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel   string        `mapstructure:"OPENAI_MODEL"`
	AITimeout     time.Duration `mapstructure:"AI_TIMEOUT"`
	SystemPrompt  string        `mapstructure:"AI_SYSTEM_PROMPT"`

	MessagingProvider  string        `mapstructure:"MESSAGING_PROVIDER"`
	WhatsAppAPIBaseURL string        `mapstructure:"WHATSAPP_API_BASE_URL"`
	WhatsAppAPIVersion string        `mapstructure:"WHATSAPP_API_VERSION"`
	TwilioAccountSID   string        `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string        `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFrom         string        `mapstructure:"TWILIO_FROM"`
	SendTimeout        time.Duration `mapstructure:"SEND_TIMEOUT"`

	DefaultTimezone string        `mapstructure:"DEFAULT_TIMEZONE"`
	DefaultRegion   string        `mapstructure:"DEFAULT_REGION"`
	HandoffMessage  string        `mapstructure:"HANDOFF_MESSAGE"`
	IdempotencyTTL  time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	ConversationTTL time.Duration `mapstructure:"CONVERSATION_TTL"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SENTRY_DSN", "")

	v.SetDefault("AI_URL", "")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_TIMEOUT", "45s")
	v.SetDefault("AI_SYSTEM_PROMPT", "")

	v.SetDefault("MESSAGING_PROVIDER", "whatsapp")
	v.SetDefault("WHATSAPP_API_BASE_URL", "https://graph.facebook.com")
	v.SetDefault("WHATSAPP_API_VERSION", "v18.0")
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_FROM", "")
	v.SetDefault("SEND_TIMEOUT", "10s")

	v.SetDefault("DEFAULT_TIMEZONE", "America/Mexico_City")
	v.SetDefault("DEFAULT_REGION", "MX")
	v.SetDefault("HANDOFF_MESSAGE", "Gracias. Un asesor de nuestro equipo continuará la conversación contigo en breve.")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("CONVERSATION_TTL", "720h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
