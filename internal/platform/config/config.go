package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration, built from environment
// variables so main stays lean. Policy-level tunables (trust weights,
// visit classifier priors) live in an optional YAML file instead, see
// internal/trust and internal/visit.
type Config struct {
	Server   Server
	Device   Device
	Postgres Postgres
	Redis    Redis
	TSA      TSA
	Chain    Chain
	Anchor   Anchor
}

// Server captures HTTP server level configuration. RateLimitPerMinute of
// zero disables request limiting.
type Server struct {
	Addr               string
	JWTSigningKey      string
	RateLimitPerMinute int
}

// Device identifies the chain owner this node serves.
type Device struct {
	DID              string
	IntegrityEnabled bool
}

// Postgres holds the connection string for the persistent stores. Empty DSN
// means the in-memory stores are used (single-node, test, or mobile-embedded
// deployments).
type Postgres struct {
	DSN string
}

// Redis configures the shared nullifier registry backend.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// TSA lists the trusted timestamp authorities, primary first.
type TSA struct {
	PrimaryURL string
	BackupURLs []string
	Timeout    time.Duration
}

// Chain configures the optional blockchain anchoring backend.
type Chain struct {
	RPCURL     string
	PrivateKey string // hex-encoded secp256k1 key for anchor transactions
	ToAddress  string
}

// Anchor bounds the pending-anchor backlog and verification tolerances.
type Anchor struct {
	BacklogCap     int
	TokenTolerance time.Duration
	LateLimit      time.Duration
}

// FromEnv builds the configuration from environment variables, applying the
// protocol defaults for anything unset.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:               envOr("OLOCUS_ADDR", ":8080"),
			JWTSigningKey:      envOr("OLOCUS_JWT_SIGNING_KEY", ""),
			RateLimitPerMinute: envInt("OLOCUS_RATE_LIMIT_PER_MINUTE", 120),
		},
		Device: Device{
			DID:              envOr("OLOCUS_DID", "did:olocus:local"),
			IntegrityEnabled: envOr("OLOCUS_DEVICE_INTEGRITY", "true") == "true",
		},
		Postgres: Postgres{
			DSN: os.Getenv("OLOCUS_POSTGRES_DSN"),
		},
		Redis: Redis{
			URL:          os.Getenv("OLOCUS_REDIS_URL"),
			PoolSize:     envInt("OLOCUS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("OLOCUS_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("OLOCUS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("OLOCUS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("OLOCUS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		TSA: TSA{
			PrimaryURL: os.Getenv("OLOCUS_TSA_URL"),
			BackupURLs: envList("OLOCUS_TSA_BACKUP_URLS"),
			Timeout:    envDuration("OLOCUS_TSA_TIMEOUT", 10*time.Second),
		},
		Chain: Chain{
			RPCURL:     os.Getenv("OLOCUS_ETH_RPC_URL"),
			PrivateKey: os.Getenv("OLOCUS_ETH_PRIVATE_KEY"),
			ToAddress:  os.Getenv("OLOCUS_ETH_TO_ADDRESS"),
		},
		Anchor: Anchor{
			BacklogCap:     envInt("OLOCUS_ANCHOR_BACKLOG_CAP", 7),
			TokenTolerance: envDuration("OLOCUS_ANCHOR_TOKEN_TOLERANCE", 15*time.Minute),
			LateLimit:      envDuration("OLOCUS_ANCHOR_LATE_LIMIT", 48*time.Hour),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
