package alerts

import (
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/models"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// The system bot pages ops about startup, shutdown and reconciliation
// trouble; the slack client feeds the security channel. Neither is on any
// user-facing path.

func NewSystemBot(cfg *config.Config) (*telego.Bot, telego.ChatID, error) {
	chatId, _ := strconv.ParseInt(cfg.TelegramSystemTo, 10, 64)
	bot, err := telego.NewBot(cfg.TelegramSystemBotToken, loggerOption(cfg))
	if err != nil {
		return nil, telego.ChatID{}, err
	}
	return bot, tu.ID(chatId), nil
}

// NewStubSystemBot swallows every send, used outside production and in
// tests.
func NewStubSystemBot(cfg *config.Config) (*telego.Bot, telego.ChatID) {
	chatId, _ := strconv.ParseInt(cfg.TelegramSystemTo, 10, 64)
	stubBot, err := telego.NewBot(generateStubToken(), telego.WithHTTPClient(&http.Client{
		Transport: models.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"ok": true, "result": {}}`)),
			}, nil
		}),
	}), loggerOption(cfg))
	if err != nil {
		log.Fatalf("Failed to create stub bot: %v", err)
	}
	return stubBot, tu.ID(chatId)
}

func NewSecuritySlackClient(cfg *config.Config) *slack.Client {
	if cfg.SlackBotToken == "" {
		return nil
	}
	return slack.New(cfg.SlackBotToken)
}

func loggerOption(cfg *config.Config) telego.BotOption {
	if cfg.Environment == "production" {
		return telego.WithDefaultLogger(false, true)
	}
	return telego.WithDefaultDebugLogger()
}

// stub token that matches the pattern ^\d{9,10}:[\w-]{35}$
func generateStubToken() string {
	const digits = "0123456789"
	const alphaNum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteByte(digits[rand.Intn(len(digits))])
	}
	b.WriteByte(':')
	for i := 0; i < 35; i++ {
		b.WriteByte(alphaNum[rand.Intn(len(alphaNum))])
	}
	return b.String()
}
