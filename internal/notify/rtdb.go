// README: Firebase Realtime Database sink; keeps the latest notification per topic for app listeners.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/db"
)

// DefaultRTDBRoot is the node that holds one child per topic.
const DefaultRTDBRoot = "live"

type rtdbWriter interface {
	Set(ctx context.Context, path string, v any) error
}

type dbClientWriter struct {
	client *db.Client
}

func (w dbClientWriter) Set(ctx context.Context, path string, v any) error {
	return w.client.NewRef(path).Set(ctx, v)
}

// rtdbEntry is what listeners on /<root>/<topic> read.
type rtdbEntry struct {
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

type RTDBSink struct {
	w    rtdbWriter
	root string
}

func NewRTDBSink(client *db.Client, root string) *RTDBSink {
	return newRTDBSink(dbClientWriter{client: client}, root)
}

func newRTDBSink(w rtdbWriter, root string) *RTDBSink {
	if root == "" {
		root = DefaultRTDBRoot
	}
	return &RTDBSink{w: w, root: strings.Trim(root, "/")}
}

func (r *RTDBSink) Name() string { return "rtdb" }

// Path is the database node a topic is mirrored to.
func (r *RTDBSink) Path(topic string) string { return r.root + "/" + topic }

// Send overwrites the topic node; only the newest state is kept.
func (r *RTDBSink) Send(ctx context.Context, m Message) error {
	var payload map[string]any
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		payload = map[string]any{"raw": string(m.Payload)}
	}
	entry := rtdbEntry{Payload: payload, Timestamp: m.Published.UnixMilli()}
	if err := r.w.Set(ctx, r.Path(m.Topic), entry); err != nil {
		return fmt.Errorf("rtdb set %s: %w", r.Path(m.Topic), err)
	}
	return nil
}
