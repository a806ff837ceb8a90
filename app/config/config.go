package config

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

var CONFIG *Config

type Config struct {
	AppName              string
	AppUrl               string
	DataDogClient        *statsd.Client
	Environment          string
	MongoDBName          string
	MongoDBConnection    string
	Redis                Redis
	StatusWorkerInterval time.Duration
	TrialSweepInterval   time.Duration

	// payment providers
	StripeToken          string
	StripeEndpointSecret string
	StripeEndpointSuffix string
	PaypalBaseURL        string
	PaypalClientID       string
	PaypalClientSecret   string
	PaypalWebhookID      string
	AsaasBaseURL         string
	AsaasAPIKey          string
	AsaasWebhookToken    string
	PicpayBaseURL        string
	PicpayToken          string
	PicpaySellerToken    string

	// AI and voice providers
	GeminiAPIKey       string
	ElevenLabsAPIKey   string
	ElevenLabsVoiceID  string
	WhisperAPIEndpoint string
	WhisperAPIKey      string

	// ops alerting
	TelegramSystemBotToken string
	TelegramSystemTo       string
	SlackBotToken          string
	SlackSecurityChannel   string
}

type Redis struct {
	Host     string
	Port     string
	Password string
}
