package config

import (
	"os"
	"strings"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string
	KafkaBrokers  []string
	AuditTopic    string
}

// FromEnv builds a Server config from environment variables so main stays
// lean. An empty DatabaseURL selects the in-memory stores; empty
// KafkaBrokers disables the audit export.
func FromEnv() Server {
	addr := os.Getenv("CAPTRACK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	topic := os.Getenv("AUDIT_TOPIC")
	if topic == "" {
		topic = "captrack.audit"
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSigningKey: jwtSigningKey,
		KafkaBrokers:  brokers,
		AuditTopic:    topic,
	}
}
