package api

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/models"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
)

// fakeVoiceConn stands in for a websocket connection: reads either block
// until hangUp or flood text frames, writes are recorded.
type fakeVoiceConn struct {
	mu          sync.Mutex
	flood       bool
	closed      chan struct{}
	closeOnce   sync.Once
	writes      []string
	closeFrames []string
}

func newFakeVoiceConn(flood bool) *fakeVoiceConn {
	return &fakeVoiceConn{flood: flood, closed: make(chan struct{})}
}

func (c *fakeVoiceConn) ReadMessage() (int, []byte, error) {
	if c.flood {
		select {
		case <-c.closed:
		default:
			return websocket.TextMessage, []byte("are you there?"), nil
		}
	} else {
		<-c.closed
	}
	return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

func (c *fakeVoiceConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeVoiceConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeFrames = append(c.closeFrames, string(data))
	return nil
}

func (c *fakeVoiceConn) hangUp() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeVoiceConn) closeReasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.closeFrames...)
}

func voiceCtx(userId string) context.Context {
	ctx := context.WithValue(context.Background(), models.UserContext{}, userId)
	return context.WithValue(ctx, models.ClientContext{}, "web")
}

func shortBillingInterval(t *testing.T, interval time.Duration) {
	original := voiceBillingInterval
	voiceBillingInterval = interval
	t.Cleanup(func() { voiceBillingInterval = original })
}

func TestVoiceSessionChargesEveryStartedMinute(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 10})
	mongo.MongoDBClient = mock
	shortBillingInterval(t, 20*time.Millisecond)

	conn := newFakeVoiceConn(false)
	defer conn.hangUp()

	finished := make(chan struct{})
	go func() {
		runVoiceSession(voiceCtx("123"), conn, "123", "session-1", "aria")
		close(finished)
	}()

	// 10 credits buy exactly two minutes at 5 each, then the call ends
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("voice session kept running after the balance ran out")
	}

	assert.Equal(t, int64(0), mock.Users["123"].Credits)
	reasons := conn.closeReasons()
	assert.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "insufficient credits")
}

func TestVoiceSessionFreeForEntitledUsers(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{
		ID:         "123",
		Credits:    3,
		PlanName:   models.LovePlanName,
		PlanActive: true,
	})
	mongo.MongoDBClient = mock
	shortBillingInterval(t, 10*time.Millisecond)

	conn := newFakeVoiceConn(false)
	finished := make(chan struct{})
	go func() {
		runVoiceSession(voiceCtx("123"), conn, "123", "session-2", "aria")
		close(finished)
	}()

	// let several billing ticks pass before the caller hangs up
	time.Sleep(60 * time.Millisecond)
	conn.hangUp()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("voice session did not end on hang-up")
	}

	assert.Equal(t, int64(3), mock.Users["123"].Credits, "a paid plan covers call minutes")
	assert.Empty(t, conn.closeReasons())
}

func TestVoiceSessionReleasesReaderOnExit(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mongo.MongoDBClient = mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 5})
	shortBillingInterval(t, 10*time.Millisecond)

	originalReply := companionReply
	companionReply = func(ctx context.Context, persona string, history []string, message string) (string, error) {
		return "always here", nil
	}
	defer func() { companionReply = originalReply }()

	// a chatty caller keeps a frame in flight at all times, so the
	// billing-driven exit happens while the reader is mid-send
	conn := newFakeVoiceConn(true)
	defer conn.hangUp()

	before := runtime.NumGoroutine()
	runVoiceSession(voiceCtx("123"), conn, "123", "session-3", "aria")

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond, "the session reader must exit with the session")

	for _, reply := range conn.writes {
		if !strings.Contains(reply, "always here") {
			t.Fatalf("unexpected reply written to the call: %q", reply)
		}
	}
}
