package delivery

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
	logx "pushcron/pkg/logx"
)

func decodeMessage(t *testing.T, b []byte) Message {
	t.Helper()
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("payload %q: %v", b, err)
	}
	return m
}

func scopedEnvelope() dispatch.Envelope {
	return dispatch.Build(dispatch.Variant{Title: "T", Body: "B"}, dispatch.Scoped("user_", "42"))
}

func wantReason(t *testing.T, err error, want dispatch.Reason) {
	t.Helper()
	var de *dispatch.DeliveryError
	if !errors.As(err, &de) || de.Kind != want {
		t.Fatalf("error = %v, want DeliveryError(%s)", err, want)
	}
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakeMQTT implements the parts of mqtt.Client the driver uses.
type fakeMQTT struct {
	mqtt.Client

	open  bool
	token mqtt.Token

	mu   sync.Mutex
	pubs []published
}

func (f *fakeMQTT) IsConnectionOpen() bool { return f.open }

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	f.mu.Lock()
	f.pubs = append(f.pubs, published{topic: topic, qos: qos, retain: retained, payload: payload.([]byte)})
	f.mu.Unlock()
	return f.token
}

func (f *fakeMQTT) Disconnect(uint) {}

func TestMQTTPublishesToPrefixedTopic(t *testing.T) {
	t.Parallel()
	fc := &fakeMQTT{open: true, token: doneToken(nil)}
	m := &MQTT{client: fc, prefix: "pushcron/", qos: 1, retain: true}

	if err := m.Send(context.Background(), scopedEnvelope()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(fc.pubs) != 1 {
		t.Fatalf("publishes = %d, want 1", len(fc.pubs))
	}
	p := fc.pubs[0]
	if p.topic != "pushcron/user_42" || p.qos != 1 || !p.retain {
		t.Fatalf("publish = %s qos=%d retain=%v", p.topic, p.qos, p.retain)
	}
	if msg := decodeMessage(t, p.payload); msg.Title != "T" || msg.Target.EntityID != "42" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestMQTTSendFailures(t *testing.T) {
	t.Parallel()

	closed := &MQTT{client: &fakeMQTT{open: false}}
	err := closed.Send(context.Background(), testEnvelope())
	wantReason(t, err, dispatch.ReasonUnavailable)

	refused := &MQTT{client: &fakeMQTT{open: true, token: doneToken(errors.New("not authorized"))}}
	if err := refused.Send(context.Background(), testEnvelope()); err == nil || !strings.Contains(err.Error(), "not authorized") {
		t.Fatalf("Send error = %v, want token error", err)
	}

	hung := &MQTT{client: &fakeMQTT{open: true, token: &fakeToken{done: make(chan struct{})}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := hung.Send(ctx, testEnvelope()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send error = %v, want deadline exceeded", err)
	}
}

func TestWaitTokenFallback(t *testing.T) {
	t.Parallel()
	tok := &fakeToken{done: make(chan struct{})}
	start := time.Now()
	if err := waitToken(context.Background(), tok, 20*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waitToken error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("fallback timeout not applied")
	}
}

type wireMsg struct {
	subject string
	data    []byte
}

// wireLog collects what a fake broker received.
type wireLog struct {
	mu   sync.Mutex
	msgs []wireMsg
	got  chan struct{}
}

func newWireLog() *wireLog { return &wireLog{got: make(chan struct{}, 16)} }

func (w *wireLog) record(subject string, data []byte) {
	w.mu.Lock()
	w.msgs = append(w.msgs, wireMsg{subject: subject, data: append([]byte(nil), data...)})
	w.mu.Unlock()
	select {
	case w.got <- struct{}{}:
	default:
	}
}

func (w *wireLog) next(t *testing.T) wireMsg {
	t.Helper()
	select {
	case <-w.got:
	case <-time.After(2 * time.Second):
		t.Fatal("broker received nothing")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.msgs[len(w.msgs)-1]
}

func listenLocal(t *testing.T, handle func(net.Conn)) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c)
			}()
		}
	}()
	return ln
}

// startFakeNATS speaks enough of the NATS client protocol for CONNECT,
// PING and PUB.
func startFakeNATS(t *testing.T, maxPayload int) (string, *wireLog) {
	t.Helper()
	log := newWireLog()
	ln := listenLocal(t, func(c net.Conn) {
		fmt.Fprintf(c, "INFO {\"server_id\":\"fake\",\"version\":\"2.10.0\",\"proto\":1,\"max_payload\":%d}\r\n", maxPayload)
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			op, args, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
			switch strings.ToUpper(op) {
			case "PING":
				_, _ = io.WriteString(c, "PONG\r\n")
			case "PUB":
				f := strings.Fields(args)
				n, err := strconv.Atoi(f[len(f)-1])
				if err != nil {
					return
				}
				buf := make([]byte, n+2)
				if _, err := io.ReadFull(r, buf); err != nil {
					return
				}
				log.record(f[0], buf[:n])
			}
		}
	})
	return "nats://" + ln.Addr().String(), log
}

func TestNATSPublishesToPrefixedSubject(t *testing.T) {
	t.Parallel()
	url, got := startFakeNATS(t, 1<<20)

	p, err := Open(context.Background(), config.DeliveryConfig{
		Driver: "nats",
		NATS:   &config.NATSConfig{URL: url, SubjectPrefix: "push."},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer p.Close(context.Background())

	if err := p.Send(context.Background(), scopedEnvelope()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	m := got.next(t)
	if m.subject != "push.user_42" {
		t.Fatalf("subject = %q, want push.user_42", m.subject)
	}
	if msg := decodeMessage(t, m.data); msg.Body != "B" || msg.Target.Channel != "user_42" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestNATSSendFailures(t *testing.T) {
	t.Parallel()
	url, _ := startFakeNATS(t, 64)

	n, err := DialNATS(config.NATSConfig{URL: url}, time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("DialNATS error: %v", err)
	}
	err = n.Send(context.Background(), testEnvelope())
	wantReason(t, err, dispatch.ReasonRejected)

	_ = n.Close(context.Background())
	err = n.Send(context.Background(), testEnvelope())
	wantReason(t, err, dispatch.ReasonUnavailable)
}

func TestNATSErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want dispatch.Reason
	}{
		{"max payload", nats.ErrMaxPayload, dispatch.ReasonRejected},
		{"bad subject", nats.ErrBadSubject, dispatch.ReasonRejected},
		{"authorization", nats.ErrAuthorization, dispatch.ReasonUnauthorized},
		{"connection closed", nats.ErrConnectionClosed, dispatch.ReasonUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wantReason(t, natsError("nats", tt.err), tt.want)
		})
	}

	if err := natsError("nats", context.DeadlineExceeded); err != context.DeadlineExceeded {
		t.Fatalf("natsError(deadline) = %v, want it unchanged", err)
	}
}

// fakeRedis answers RESP2 commands: HELLO is refused so the client stays on
// RESP2, PUBLISH is recorded and everything else is +OK.
type fakeRedis struct {
	log *wireLog

	mu         sync.Mutex
	publishErr string
}

func (f *fakeRedis) failPublish(msg string) {
	f.mu.Lock()
	f.publishErr = msg
	f.mu.Unlock()
}

func startFakeRedis(t *testing.T) (net.Listener, *fakeRedis) {
	t.Helper()
	f := &fakeRedis{log: newWireLog()}
	ln := listenLocal(t, func(c net.Conn) {
		r := bufio.NewReader(c)
		for {
			args, err := readRESP(r)
			if err != nil {
				return
			}
			_, _ = io.WriteString(c, f.reply(args))
		}
	})
	return ln, f
}

func (f *fakeRedis) reply(args []string) string {
	if len(args) == 0 {
		return "-ERR empty command\r\n"
	}
	switch strings.ToUpper(args[0]) {
	case "HELLO":
		return "-ERR unknown command 'HELLO'\r\n"
	case "PING":
		return "+PONG\r\n"
	case "PUBLISH":
		f.mu.Lock()
		msg := f.publishErr
		f.mu.Unlock()
		if msg != "" {
			return "-" + msg + "\r\n"
		}
		if len(args) != 3 {
			return "-ERR wrong number of arguments\r\n"
		}
		f.log.record(args[1], []byte(args[2]))
		return ":1\r\n"
	default:
		return "+OK\r\n"
	}
}

func readRESP(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for range n {
		hdr, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(hdr, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestRedisPublishesToPrefixedChannel(t *testing.T) {
	t.Parallel()
	ln, fr := startFakeRedis(t)
	ctx := context.Background()

	p, err := Open(ctx, config.DeliveryConfig{
		Driver: "redis",
		Redis:  &config.RedisConfig{Addr: ln.Addr().String(), ChannelPrefix: "push:"},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer p.Close(ctx)

	if err := p.Send(ctx, testEnvelope()); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	m := fr.log.next(t)
	if m.subject != "push:all_users" {
		t.Fatalf("channel = %q, want push:all_users", m.subject)
	}
	if msg := decodeMessage(t, m.data); msg.Title != "T" || msg.Data["screen"] != "tips" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestRedisSendFailures(t *testing.T) {
	t.Parallel()
	ln, fr := startFakeRedis(t)
	ctx := context.Background()

	r, err := DialRedis(ctx, config.RedisConfig{Addr: ln.Addr().String()})
	if err != nil {
		t.Fatalf("DialRedis error: %v", err)
	}
	defer r.Close(ctx)

	fr.failPublish("ERR publish disabled")
	if err := r.Send(ctx, testEnvelope()); err == nil || !strings.Contains(err.Error(), "publish disabled") {
		t.Fatalf("Send error = %v, want publish error", err)
	}

	addr := ln.Addr().String()
	_ = ln.Close()
	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := DialRedis(dctx, config.RedisConfig{Addr: addr}); err == nil {
		t.Fatal("expected DialRedis error against a closed listener")
	}
}
