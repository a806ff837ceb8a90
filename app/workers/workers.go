package workers

import (
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"amoura/m/v2/app/config"
)

// Worker runs a job on a fixed interval until stopped. The system bot is
// carried so jobs can raise ops alerts.
type Worker struct {
	Interval             time.Duration
	AppName              string
	Run                  func()
	Stop                 chan struct{}
	SystemTelegramChatID telego.ChatID
	TelegramSystemBot    *telego.Bot
}

func NewWorker(systemBot *telego.Bot, cfg *config.Config, interval time.Duration, run func()) *Worker {
	chatId, _ := strconv.ParseInt(cfg.TelegramSystemTo, 10, 64)
	return &Worker{
		Interval:             interval,
		AppName:              cfg.AppName,
		Run:                  run,
		Stop:                 make(chan struct{}),
		SystemTelegramChatID: tu.ID(chatId),
		TelegramSystemBot:    systemBot,
	}
}

func (w *Worker) Start() {
	w.Run()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Run()
		case <-w.Stop:
			return
		}
	}
}

func (w *Worker) StopWorker() {
	w.Stop <- struct{}{}
}
