package redis

import (
	"testing"

	"TourCheckin/config"
)

func TestKey(t *testing.T) {
	prev := config.Cfg.RedisPrefix
	defer func() { config.Cfg.RedisPrefix = prev }()

	config.Cfg.RedisPrefix = "tci"
	if got := Key("message", "", "roster_42"); got != "tci:message:roster_42" {
		t.Fatalf("Key() = %q", got)
	}

	config.Cfg.RedisPrefix = ""
	if got := Key("rollup"); got != "tci:rollup" {
		t.Fatalf("Key() with empty prefix = %q", got)
	}
}

func TestCommandKey(t *testing.T) {
	if got := commandKey([]interface{}{"set", "tci:k", "v"}); got != "tci:k" {
		t.Fatalf("commandKey = %q", got)
	}
	if got := commandKey([]interface{}{"ping"}); got != "" {
		t.Fatalf("commandKey for ping = %q", got)
	}
}
