package api

import (
	"context"
	"net/http"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/credits"
	"amoura/m/v2/app/lib"
	"amoura/m/v2/app/models"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

var voiceUpgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(ctx *fasthttp.RequestCtx) bool { return true },
}

// voiceBillingInterval is how often a started call minute is charged.
var voiceBillingInterval = time.Minute

// VoiceSession handles GET /voice/session: a websocket voice call with
// the companion. Every started minute charges the voice-call cost unless
// a trial or paid plan covers the user; when the balance runs out the
// call is closed with a policy-violation close frame.
func VoiceSession(ctx *fasthttp.RequestCtx) {
	user, _, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	cancel() // the request-scoped deadline does not bound the call

	persona := string(ctx.QueryArgs().Peek("persona"))
	sessionID := uuid.NewString()

	// calls outlive lib.TIMEOUT, so billing runs on its own context
	callCtx := context.WithValue(context.Background(), models.UserContext{}, user.ID)
	callCtx = context.WithValue(callCtx, models.ClientContext{}, string(lib.WebClientName))

	err := voiceUpgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		defer conn.Close()
		runVoiceSession(callCtx, conn, user.ID, sessionID, persona)
	})
	if err != nil {
		log.Errorf("Voice session upgrade failed for %s: %v", user.ID, err)
		writeError(ctx, http.StatusBadRequest, "websocket upgrade required")
	}
}

func chargeVoiceMinute(ctx context.Context, userId, sessionID string) (bool, error) {
	covered, err := entitled(ctx)
	if err != nil {
		return false, err
	}
	if covered {
		return true, nil
	}
	ok, err := credits.Consume(ctx, credits.CostVoiceCallMinute)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Infof("Voice session %s for %s ended: insufficient credits", sessionID, userId)
	}
	return ok, nil
}

// voiceConn is the subset of *websocket.Conn the session loop needs.
type voiceConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

func runVoiceSession(ctx context.Context, conn voiceConn, userId, sessionID, persona string) {
	started := time.Now()
	config.CONFIG.DataDogClient.Incr("voice.session.started", nil, 1)
	log.Infof("Voice session %s started for %s", sessionID, userId)

	// the first minute is charged up front
	ok, err := chargeVoiceMinute(ctx, userId, sessionID)
	if err != nil || !ok {
		closeVoice(conn, "insufficient credits")
		return
	}

	ticker := time.NewTicker(voiceBillingInterval)
	defer ticker.Stop()

	// done lets the reader bail out of a pending send once the session
	// loop has returned, otherwise the goroutine stays parked forever
	done := make(chan struct{})
	defer close(done)

	incoming := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case incoming <- string(payload):
			case <-done:
				return
			}
		}
	}()

	defer func() {
		minutes := int64(time.Since(started)/voiceBillingInterval) + 1
		config.CONFIG.DataDogClient.Incr("voice.session.ended", nil, 1)
		log.Infof("Voice session %s for %s ended after %d minute(s)", sessionID, userId, minutes)
	}()

	for {
		select {
		case <-ticker.C:
			ok, err := chargeVoiceMinute(ctx, userId, sessionID)
			if err != nil || !ok {
				closeVoice(conn, "insufficient credits")
				return
			}
		case err := <-readErr:
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("Voice session %s read error: %v", sessionID, err)
			}
			return
		case message := <-incoming:
			reply, err := companionReply(ctx, persona, nil, message)
			if err != nil {
				log.Errorf("Voice reply failed in session %s: %v", sessionID, err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}
}

func closeVoice(conn voiceConn, reason string) {
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}
