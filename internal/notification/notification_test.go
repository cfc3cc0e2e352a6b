package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_PostsAlert(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "limit", Message: "max trades", Broker: "ib"})
	require.NoError(t, err)
	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "limit", got["title"])
	assert.Equal(t, "ib", got["broker"])
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, nil).Send(context.Background(), Alert{Title: "x"})
	assert.Error(t, err)
}

func TestTelegram_SendsEscapedMarkdown(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", nil).WithBaseURL(srv.URL)
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "broker.down", Message: "ib"}))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.True(t, strings.Contains(body, `broker\\.down`), body)
	assert.True(t, strings.Contains(body, `"chat_id":"42"`), body)
}

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	err := Multi{ok, bad}.Send(context.Background(), Alert{Title: "t"})
	assert.ErrorContains(t, err, "down")
	assert.Len(t, ok.alerts, 1)
	assert.Len(t, bad.alerts, 1)
}

func TestAsync_DeliversOnClose(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 10, nil)
	for i := 0; i < 5; i++ {
		a.Send(context.Background(), Alert{Title: "t"})
	}
	a.Close()
	assert.Len(t, rec.alerts, 5)
}
