package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	tele "gopkg.in/telebot.v4"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
	logx "pushcron/pkg/logx"
)

const hookURL = "https://push.example.test/notify"

func testEnvelope() dispatch.Envelope {
	return dispatch.Build(
		dispatch.Variant{Title: "T", Body: "B", Metadata: map[string]string{"screen": "tips"}},
		dispatch.Broadcast("all_users"),
	)
}

func mockedWebhook(t *testing.T, cfg config.WebhookConfig) (*Webhook, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	if cfg.URL == "" {
		cfg.URL = hookURL
	}
	w, err := NewWebhook(cfg, &http.Client{Transport: mt})
	if err != nil {
		t.Fatalf("NewWebhook error: %v", err)
	}
	return w, mt
}

func TestWebhookSendsMessage(t *testing.T) {
	t.Parallel()
	w, mt := mockedWebhook(t, config.WebhookConfig{
		Headers:     map[string]string{"X-App": "pushcron"},
		BearerToken: "secret",
	})

	var got Message
	mt.RegisterResponder(http.MethodPost, hookURL, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer secret" || req.Header.Get("X-App") != "pushcron" {
			return httpmock.NewStringResponse(http.StatusUnauthorized, "missing headers"), nil
		}
		b, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		if req.Header.Get("Idempotency-Key") != got.ID {
			return httpmock.NewStringResponse(http.StatusBadRequest, "id mismatch"), nil
		}
		return httpmock.NewStringResponse(http.StatusAccepted, ""), nil
	})

	if err := w.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if mt.GetTotalCallCount() != 1 {
		t.Fatalf("calls = %d, want 1", mt.GetTotalCallCount())
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Fatalf("id %q is not a uuid: %v", got.ID, err)
	}
	if got.Title != "T" || got.Body != "B" || got.Data["screen"] != "tips" {
		t.Fatalf("message = %+v", got)
	}
	if got.Target.Kind != dispatch.TargetBroadcast || got.Target.Channel != "all_users" {
		t.Fatalf("target = %+v", got.Target)
	}
}

func TestWebhookClassifiesStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want   dispatch.Reason
	}{
		{http.StatusBadRequest, dispatch.ReasonRejected},
		{http.StatusForbidden, dispatch.ReasonUnauthorized},
		{http.StatusNotFound, dispatch.ReasonUnknownTarget},
		{http.StatusTooManyRequests, dispatch.ReasonQuota},
		{http.StatusBadGateway, dispatch.ReasonUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			w, mt := mockedWebhook(t, config.WebhookConfig{})
			mt.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(tt.status, "nope"))

			err := w.Send(context.Background(), testEnvelope())
			var de *dispatch.DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("Send error = %v, want DeliveryError", err)
			}
			if de.Status != tt.status || de.Kind != tt.want {
				t.Fatalf("DeliveryError = %+v, want status %d kind %s", de, tt.status, tt.want)
			}
			if got := dispatch.Classify(err); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
			if mt.GetTotalCallCount() != 1 {
				t.Fatalf("calls = %d, want exactly 1", mt.GetTotalCallCount())
			}
		})
	}
}

func TestWebhookTransportError(t *testing.T) {
	t.Parallel()
	w, mt := mockedWebhook(t, config.WebhookConfig{})
	mt.RegisterResponder(http.MethodPost, hookURL, httpmock.NewErrorResponder(context.DeadlineExceeded))

	err := w.Send(context.Background(), testEnvelope())
	if got := dispatch.Classify(err); got != dispatch.ReasonTimeout {
		t.Fatalf("Classify(%v) = %s, want timeout", err, got)
	}
}

func TestNewWebhookRejectsBadURL(t *testing.T) {
	t.Parallel()
	for _, u := range []string{"ftp://example.test", "://broken"} {
		if _, err := NewWebhook(config.WebhookConfig{URL: u}, nil); err == nil {
			t.Fatalf("NewWebhook(%q): expected error", u)
		}
	}
}

func TestRateLimitedFailsFastWithoutToken(t *testing.T) {
	t.Parallel()
	next := &Recorder{}
	rl := NewRateLimited(next, 1, 1)
	if rl.Name() != "recorder" {
		t.Fatalf("Name = %q, want recorder", rl.Name())
	}

	if err := rl.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("first Send error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rl.Send(ctx, testEnvelope())
	if got := dispatch.Classify(err); got != dispatch.ReasonQuota {
		t.Fatalf("Classify(%v) = %s, want quota", err, got)
	}
	if n := len(next.Calls()); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	r := &Recorder{}
	_ = r.Send(context.Background(), testEnvelope())
	r.Err = errors.New("down")
	if err := r.Send(context.Background(), testEnvelope()); err == nil {
		t.Fatal("expected configured error")
	}
	if n := len(r.Calls()); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
	r.Reset()
	if n := len(r.Calls()); n != 0 {
		t.Fatalf("calls after Reset = %d, want 0", n)
	}
}

func newMockedTelegram(t *testing.T, cfg config.TelegramConfig) (*Telegram, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	tg, err := newTelegram(cfg, tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Transport: mt},
	})
	if err != nil {
		t.Fatalf("newTelegram error: %v", err)
	}
	return tg, mt
}

func TestTelegramChatResolution(t *testing.T) {
	t.Parallel()
	tg, mt := newMockedTelegram(t, config.TelegramConfig{
		Token:          "tok",
		Chats:          map[string]int64{"all_users": 42},
		ScopedAsChatID: true,
	})
	mt.RegisterResponder(http.MethodPost, "https://api.telegram.org/bottok/sendMessage",
		httpmock.NewStringResponder(http.StatusOK, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"group"}}}`))

	if err := tg.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("broadcast Send error: %v", err)
	}

	env := testEnvelope()
	env.Target = dispatch.Scoped("user_", "abc")
	if got := dispatch.Classify(tg.Send(context.Background(), env)); got != dispatch.ReasonUnknownTarget {
		t.Fatalf("non-numeric scoped id Classify = %s, want unknown_target", got)
	}

	env.Target = dispatch.Broadcast("elsewhere")
	if got := dispatch.Classify(tg.Send(context.Background(), env)); got != dispatch.ReasonUnknownTarget {
		t.Fatalf("unmapped channel Classify = %s, want unknown_target", got)
	}
	if mt.GetTotalCallCount() != 1 {
		t.Fatalf("API calls = %d, want 1", mt.GetTotalCallCount())
	}
}

func TestTelegramAPIError(t *testing.T) {
	t.Parallel()
	tg, mt := newMockedTelegram(t, config.TelegramConfig{Token: "tok", Chats: map[string]int64{"all_users": 42}})
	mt.RegisterResponder(http.MethodPost, "https://api.telegram.org/bottok/sendMessage",
		httpmock.NewStringResponder(http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))

	err := tg.Send(context.Background(), testEnvelope())
	if got := dispatch.Classify(err); got != dispatch.ReasonUnauthorized {
		t.Fatalf("Classify(%v) = %s, want unauthorized", err, got)
	}
}

func TestShoutrrrRouting(t *testing.T) {
	t.Parallel()
	s, err := NewShoutrrr(config.ShoutrrrConfig{URLs: map[string][]string{"all_users": {"logger://"}}}, time.Second)
	if err != nil {
		t.Fatalf("NewShoutrrr error: %v", err)
	}
	if err := s.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	env := testEnvelope()
	env.Target = dispatch.Scoped("user_", "7")
	if got := dispatch.Classify(s.Send(context.Background(), env)); got != dispatch.ReasonUnknownTarget {
		t.Fatalf("Classify = %s, want unknown_target", got)
	}

	if _, err := NewShoutrrr(config.ShoutrrrConfig{URLs: map[string][]string{"x": {"nosuchservice://token@host"}}}, 0); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestShoutrrrTitleWinsOverData(t *testing.T) {
	t.Parallel()
	env := dispatch.Build(
		dispatch.Variant{Title: "🍎 Nutrition Tip", Body: "B", Metadata: map[string]string{"title": "spoofed", "screen": "tips"}},
		dispatch.Broadcast("all_users"),
	)
	params := shoutrrrParams(env)
	if title, ok := params.Title(); !ok || title != "🍎 Nutrition Tip" {
		t.Fatalf("title = %q (%v), want the envelope title", title, ok)
	}
	if params["screen"] != "tips" {
		t.Fatalf("params = %v, want screen copied", params)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	p, err := Open(context.Background(), config.DeliveryConfig{}, logx.Nop())
	if err != nil || p.Name() != "log" {
		t.Fatalf("Open default = %v, %v; want log driver", p, err)
	}
	if err := p.Send(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("log Send error: %v", err)
	}

	p, err = Open(context.Background(), config.DeliveryConfig{Driver: "log", RatePerSec: 5}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, ok := p.(*RateLimited); !ok {
		t.Fatalf("Open with rate = %T, want *RateLimited", p)
	}

	for _, cfg := range []config.DeliveryConfig{
		{Driver: "carrier-pigeon"},
		{Driver: "webhook"},
		{Driver: "telegram", Telegram: &config.TelegramConfig{}},
	} {
		if _, err := Open(context.Background(), cfg, logx.Nop()); err == nil {
			t.Fatalf("Open(%+v): expected error", cfg)
		}
	}
}
