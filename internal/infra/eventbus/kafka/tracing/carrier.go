// Package tracing propagates OpenTelemetry context through Kafka messages.
package tracing

import (
	"github.com/IBM/sarama"
)

// MessageCarrier implements propagation.TextMapCarrier for Kafka message headers
type MessageCarrier struct {
	Headers []sarama.RecordHeader
}

// Get returns the value of the first header named key.
func (mc *MessageCarrier) Get(key string) string {
	for _, h := range mc.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces or appends the header named key.
func (mc *MessageCarrier) Set(key, value string) {
	for i, h := range mc.Headers {
		if string(h.Key) == key {
			mc.Headers[i].Value = []byte(value)
			return
		}
	}
	mc.Headers = append(mc.Headers, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

// Keys lists every header name.
func (mc *MessageCarrier) Keys() []string {
	out := make([]string, len(mc.Headers))
	for i, h := range mc.Headers {
		out[i] = string(h.Key)
	}
	return out
}
