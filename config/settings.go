package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Settings carries the non-connection configuration shared by the server and the batch tools.
type Settings struct {
	// SystemActorId is recorded as detected_by / created_by on automated findings and notes.
	SystemActorId int
	EncryptionKey []byte
	LookupKey     []byte
	PhoneRegion   string
	ImportChunk   int
	JwtSecret     string
}

// LoadSettings reads settings from the environment (.env is loaded in init).
//
// Env:
// - SYSTEM_ACTOR_ID (required, > 0)
// - AUDIT_ENCRYPTION_KEY (64 hex chars, 32 bytes)
// - AUDIT_LOOKUP_KEY (hex, defaults to the encryption key)
// - PHONE_REGION (default GH)
// - IMPORT_CHUNK_SIZE (default 500)
// - API_SECRET
func LoadSettings() (*Settings, error) {
	actor := IntFromEnv("SYSTEM_ACTOR_ID", 0)
	if actor <= 0 {
		return nil, errors.New("SYSTEM_ACTOR_ID must be a positive user id")
	}

	key, err := hexKeyFromEnv("AUDIT_ENCRYPTION_KEY")
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("AUDIT_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	lookup := key
	if strings.TrimSpace(os.Getenv("AUDIT_LOOKUP_KEY")) != "" {
		if lookup, err = hexKeyFromEnv("AUDIT_LOOKUP_KEY"); err != nil {
			return nil, err
		}
	}

	region := strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_REGION")))
	if region == "" {
		region = "GH"
	}

	return &Settings{
		SystemActorId: actor,
		EncryptionKey: key,
		LookupKey:     lookup,
		PhoneRegion:   region,
		ImportChunk:   IntFromEnv("IMPORT_CHUNK_SIZE", 500),
		JwtSecret:     os.Getenv("API_SECRET"),
	}, nil
}

func hexKeyFromEnv(name string) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

func IntFromEnv(key string, def int) int {
	return intFromEnv(key, def)
}

func FloatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func EnvBool(key string, def bool) bool {
	return envBoolDefault(key, def)
}
