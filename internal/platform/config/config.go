// Package config loads process configuration once at startup. Secret material
// (pepper, cipher key) is derived here and passed explicitly into the
// fingerprint engine and cipher constructors; nothing reads it from ambient
// global state afterwards.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/hkdf"
)

const masterKeySize = 32

// Config captures all process-level settings.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	AuditTopic   string

	JWTSigningKey []byte

	// FingerprintPepper and CipherKey are derived from a single master key
	// via HKDF-SHA256 so rotating one secret rotates both consistently.
	FingerprintPepper []byte
	CipherKey         []byte

	RegisterRateLimit  int
	RegisterRateWindow time.Duration
	OrphanSweepEvery   time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
// A .env file is honored when present (development convenience).
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:               envOr("PHONEGATE_ADDR", ":8020"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		AuditTopic:         envOr("AUDIT_TOPIC", "phonegate.audit"),
		RegisterRateLimit:  envIntOr("REGISTER_RATE_LIMIT", 60),
		RegisterRateWindow: time.Minute,
		OrphanSweepEvery:   envDurationOr("ORPHAN_SWEEP_EVERY", time.Hour),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtKey == "" {
		// Use a default for development - should be overridden in production
		jwtKey = "dev-secret-key-change-in-production"
	}
	cfg.JWTSigningKey = []byte(jwtKey)

	master, err := masterKey()
	if err != nil {
		return Config{}, err
	}
	cfg.FingerprintPepper, err = deriveKey(master, "fingerprint-pepper")
	if err != nil {
		return Config{}, err
	}
	cfg.CipherKey, err = deriveKey(master, "phone-cipher")
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// masterKey reads MASTER_KEY (base64, 32 bytes) or generates an ephemeral one
// for development. An ephemeral key makes stored ciphertexts unreadable after
// restart, so production must set MASTER_KEY.
func masterKey() ([]byte, error) {
	raw := os.Getenv("MASTER_KEY")
	if raw == "" {
		key := make([]byte, masterKeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode MASTER_KEY: %w", err)
	}
	if len(key) != masterKeySize {
		return nil, fmt.Errorf("MASTER_KEY must be %d bytes, got %d", masterKeySize, len(key))
	}
	return key, nil
}

func deriveKey(master []byte, label string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", label, err)
	}
	return key, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
