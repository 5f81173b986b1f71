// README: Firebase Cloud Messaging sink; apps subscribe to order_<id> and rider_<id> topics.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMSink struct {
	client fcmSender
}

func NewFCMSink(client fcmSender) *FCMSink {
	return &FCMSink{client: client}
}

func (f *FCMSink) Name() string { return "fcm" }

func (f *FCMSink) Send(ctx context.Context, m Message) error {
	data := dataFields(m.Payload)
	data["topic"] = m.Topic
	_, err := f.client.Send(ctx, &messaging.Message{
		Topic: m.Topic,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	})
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

// dataFields flattens a JSON object into FCM's string-only data map.
// Non-string values keep their JSON encoding.
func dataFields(payload json.RawMessage) map[string]string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return map[string]string{"payload": string(payload)}
	}
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}
