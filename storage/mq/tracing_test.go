package mq

import (
	"sort"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestHeaderCarrier(t *testing.T) {
	headers := amqp.Table{"x-existing": []byte("raw"), "x-count": int32(3)}
	carrier := headerCarrier(headers)

	carrier.Set("traceparent", "00-abc-def-01")

	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("Get(traceparent) = %q", got)
	}
	if got := carrier.Get("x-existing"); got != "raw" {
		t.Fatalf("Get(x-existing) = %q", got)
	}
	if got := carrier.Get("x-count"); got != "3" {
		t.Fatalf("Get(x-count) = %q", got)
	}
	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("Get(missing) = %q", got)
	}

	keys := carrier.Keys()
	sort.Strings(keys)
	if len(keys) != 3 || keys[0] != "traceparent" {
		t.Fatalf("unexpected keys %v", keys)
	}

	// 写入的是同一个 map
	if headers["traceparent"] != "00-abc-def-01" {
		t.Fatal("carrier should write through to headers")
	}
}
