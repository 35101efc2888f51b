package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("defaults must parse: %v", err)
	}
	if c.GRPCAddr != ":8081" || c.HTTPAddr != ":8080" || c.Bus != "memory" {
		t.Fatalf("unexpected listener defaults: %+v", c)
	}
	if len(c.TrustedCIDRs) != 2 || c.CacheTTL != 30*time.Second || c.ReconcileLease != time.Minute {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.AuthEnabled() {
		t.Fatalf("auth must be off without key material")
	}
}

func TestFromEnvTypedValues(t *testing.T) {
	t.Setenv("WALLET_BUS", "Kafka")
	t.Setenv("WALLET_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("WALLET_OUTBOX_INTERVAL", "250ms")
	t.Setenv("WALLET_RECONCILE_BATCH_SIZE", "7")
	t.Setenv("WALLET_TLS_ENABLED", "true")
	t.Setenv("WALLET_CONFIRMATIONS", "tron:19, BITCOIN:2")
	t.Setenv("WALLET_JWT_SECRET", "s3cret")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Bus != "kafka" || len(c.KafkaBrokers) != 2 || c.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected kafka config: %+v", c)
	}
	if c.OutboxInterval != 250*time.Millisecond || c.ReconcileBatchSize != 7 || !c.TLSEnabled {
		t.Fatalf("unexpected typed values: %+v", c)
	}
	if c.Confirmations["TRON"] != 19 || c.Confirmations["BITCOIN"] != 2 {
		t.Fatalf("unexpected confirmations: %v", c.Confirmations)
	}
	if !c.AuthEnabled() {
		t.Fatalf("auth must be on with a secret")
	}
}

func TestFromEnvReportsEveryBadValue(t *testing.T) {
	t.Setenv("WALLET_OUTBOX_INTERVAL", "soon")
	t.Setenv("WALLET_REDIS_DB", "zero")
	t.Setenv("WALLET_CONFIRMATIONS", "TRON")
	t.Setenv("WALLET_BUS", "carrier-pigeon")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"WALLET_OUTBOX_INTERVAL", "WALLET_REDIS_DB", "WALLET_CONFIRMATIONS", "WALLET_BUS"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestFromEnvBusRequirements(t *testing.T) {
	t.Setenv("WALLET_BUS", "redis")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Fatalf("expected redis address error, got %v", err)
	}
}
