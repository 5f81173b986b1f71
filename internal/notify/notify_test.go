package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
)

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	got  []Message
	sent chan struct{}
}

func newRecordingSink(name string, err error) *recordingSink {
	return &recordingSink{name: name, err: err, sent: make(chan struct{}, 16)}
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	r.got = append(r.got, m)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return r.err
}

func (r *recordingSink) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.got...)
}

func waitSent(t *testing.T, r *recordingSink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: timed out waiting for message %d", r.name, i+1)
		}
	}
}

func TestPublish_DoesNotBlockWhenFull(t *testing.T) {
	d := NewDispatcher(2, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish("order_1", map[string]any{"i": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if d.Pending() != 2 {
		t.Fatalf("expected 2 queued messages, got %d", d.Pending())
	}
}

func TestDispatcher_FansOutAndIsolatesSinkFailures(t *testing.T) {
	broken := newRecordingSink("broken", errors.New("down"))
	ok := newRecordingSink("ok", nil)
	d := NewDispatcher(8, nil, broken, ok)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	d.Publish("order_42", map[string]any{"type": "ORDER_CANCELLED", "reason": "Payment timeout"})
	d.Publish("rider_7", map[string]any{"type": "POINTS_AWARDED"})
	waitSent(t, broken, 2)
	waitSent(t, ok, 2)
	cancel()
	<-stopped

	got := ok.messages()
	if got[0].Topic != "order_42" || got[1].Topic != "rider_7" {
		t.Fatalf("unexpected order of delivery: %q, %q", got[0].Topic, got[1].Topic)
	}
	var payload map[string]string
	if err := json.Unmarshal(got[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["reason"] != "Payment timeout" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestDispatcher_DropsAfterStop(t *testing.T) {
	sink := newRecordingSink("s", nil)
	d := NewDispatcher(4, nil, sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	d.Publish("order_1", "late")
	if d.Pending() != 0 {
		t.Fatalf("expected publish after stop to be dropped")
	}
}

func TestDispatcher_SkipsUnencodablePayload(t *testing.T) {
	d := NewDispatcher(4, nil)
	d.Publish("order_1", make(chan int))
	if d.Pending() != 0 {
		t.Fatal("unencodable payload should not be queued")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink_KeysByTopic(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}
	m := Message{Topic: "order_9", Payload: json.RawMessage(`{"type":"ORDER_CREATED"}`)}
	if err := sink.Send(context.Background(), m); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "order_9" {
		t.Fatalf("unexpected kafka messages %+v", w.msgs)
	}
	var env Message
	if err := json.Unmarshal(w.msgs[0].Value, &env); err != nil {
		t.Fatalf("value: %v", err)
	}
	if env.Topic != "order_9" || !strings.Contains(string(env.Payload), "ORDER_CREATED") {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestAMQPSink_RoutingKey(t *testing.T) {
	ch := &fakeChannel{}
	sink := &AMQPSink{ch: ch, exchange: "dropoff.events"}
	if err := sink.Send(context.Background(), Message{Topic: "order_ab_cd", Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ch.exchange != "dropoff.events" || ch.key != "order.ab_cd" {
		t.Fatalf("unexpected exchange/key %q %q", ch.exchange, ch.key)
	}
	if ch.msg.ContentType != "application/json" || ch.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing %+v", ch.msg)
	}
}

type fakeFCM struct {
	last *messaging.Message
}

func (f *fakeFCM) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.last = m
	return "projects/x/messages/1", nil
}

func TestFCMSink_FlattensData(t *testing.T) {
	client := &fakeFCM{}
	sink := NewFCMSink(client)
	payload := json.RawMessage(`{"type":"POINTS_AWARDED","points":35,"tier":"SILVER"}`)
	if err := sink.Send(context.Background(), Message{Topic: "rider_1", Payload: payload}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := client.last
	if got.Topic != "rider_1" {
		t.Fatalf("topic %q", got.Topic)
	}
	want := map[string]string{"type": "POINTS_AWARDED", "points": "35", "tier": "SILVER", "topic": "rider_1"}
	for k, v := range want {
		if got.Data[k] != v {
			t.Errorf("data[%q] = %q, want %q", k, got.Data[k], v)
		}
	}
}

type fakeRTDB struct {
	sets map[string]any
}

func (f *fakeRTDB) Set(_ context.Context, path string, v any) error {
	if f.sets == nil {
		f.sets = map[string]any{}
	}
	f.sets[path] = v
	return nil
}

func TestRTDBSink_KeepsLatestPerTopic(t *testing.T) {
	db := &fakeRTDB{}
	sink := newRTDBSink(db, "/live/")
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for _, status := range []string{"ASSIGNED", "PICKED_UP"} {
		payload := json.RawMessage(`{"status":"` + status + `"}`)
		if err := sink.Send(context.Background(), Message{Topic: "order_1", Payload: payload, Published: at}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if len(db.sets) != 1 {
		t.Fatalf("expected one node, got %v", db.sets)
	}
	entry, ok := db.sets["live/order_1"].(rtdbEntry)
	if !ok {
		t.Fatalf("node live/order_1 missing: %v", db.sets)
	}
	if entry.Payload["status"] != "PICKED_UP" || entry.Timestamp != at.UnixMilli() {
		t.Errorf("entry = %+v", entry)
	}
}

func TestHub_DeliversToTopicSubscribers(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.ServeWS(w, r, r.URL.Query().Get("topic")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}))
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?topic=order_1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("order_1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = hub.Send(context.Background(), Message{Topic: "order_2", Payload: json.RawMessage(`{"skip":true}`)})
	_ = hub.Send(context.Background(), Message{Topic: "order_1", Payload: json.RawMessage(`{"type":"ORDER_ASSIGNED"}`)})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"type":"ORDER_ASSIGNED"}` {
		t.Fatalf("unexpected message %s", data)
	}
}

func TestHub_RequiresTopic(t *testing.T) {
	hub := NewHub(nil)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if err := hub.ServeWS(httptest.NewRecorder(), req, ""); !errors.Is(err, ErrNoTopic) {
		t.Fatalf("expected ErrNoTopic, got %v", err)
	}
}

func TestHub_OriginAllowList(t *testing.T) {
	hub := NewHub(nil, "https://app.dropoff.test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "order_1")
	}))
	defer srv.Close()
	defer hub.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"listed origin", "https://app.dropoff.test", true},
		{"no origin header", "", true},
		{"same origin", srv.URL, true},
		{"foreign origin", "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if tt.ok {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatal("expected the handshake to be refused")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Fatalf("expected 403, got %v", resp)
			}
		})
	}
}
