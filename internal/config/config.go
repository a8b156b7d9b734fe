package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DraftDBFile string
	UserID      string
	PeerID      string
	DisplayName string

	// Backend selection: "memory" for a self-contained local instance,
	// "remote" for the hosted realtime backend.
	BackendMode string
	RealtimeURL string

	// Object storage (minio / s3-compatible).
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool

	// Shared passphrase gate (bcrypt hash of the static passphrase).
	PassphraseHash string

	// Collaborators. NotifyURL posts a plain nudge; the push fields enable
	// web push to the peer's subscription instead.
	NotifyURL        string
	PushSubscription string
	PushSubscriber   string
	VAPIDPublicKey   string
	VAPIDPrivateKey  string

	TranscribeURL string
	TranscribeKey string
	AutosaveDelay time.Duration
	TypingTimeout time.Duration
	EchoWindow    time.Duration
	DocEchoWindow time.Duration
}

func Load() (*Config, error) {
	autosaveDelay, err := time.ParseDuration(getEnv("AUTOSAVE_DELAY", "2s"))
	if err != nil {
		return nil, err
	}
	typingTimeout, err := time.ParseDuration(getEnv("TYPING_TIMEOUT", "3s"))
	if err != nil {
		return nil, err
	}
	echoWindow, err := time.ParseDuration(getEnv("ECHO_WINDOW", "2s"))
	if err != nil {
		return nil, err
	}
	docEchoWindow, err := time.ParseDuration(getEnv("DOC_ECHO_WINDOW", "500ms"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DraftDBFile:      getEnv("TETATET_DB", "tetatet.db"),
		UserID:           getEnv("USER_ID", "user1"),
		PeerID:           getEnv("PEER_ID", "user2"),
		DisplayName:      getEnv("DISPLAY_NAME", ""),
		BackendMode:      getEnv("BACKEND_MODE", "memory"),
		RealtimeURL:      getEnv("REALTIME_URL", ""),
		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", ""),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", ""),
		StorageBucket:    getEnv("STORAGE_BUCKET", "media"),
		StorageUseSSL:    getEnv("STORAGE_USE_SSL", "false") == "true",
		PassphraseHash:   os.Getenv("PASSPHRASE_HASH"),
		NotifyURL:        getEnv("NOTIFY_URL", ""),
		PushSubscription: os.Getenv("PUSH_SUBSCRIPTION"),
		PushSubscriber:   getEnv("PUSH_SUBSCRIBER", "mailto:admin@localhost"),
		VAPIDPublicKey:   os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:  os.Getenv("VAPID_PRIVATE_KEY"),
		TranscribeURL:    getEnv("TRANSCRIBE_URL", ""),
		TranscribeKey:    os.Getenv("TRANSCRIBE_API_KEY"),
		AutosaveDelay:    autosaveDelay,
		TypingTimeout:    typingTimeout,
		EchoWindow:       echoWindow,
		DocEchoWindow:    docEchoWindow,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.UserID == "" || c.PeerID == "" {
		return fmt.Errorf("USER_ID and PEER_ID are required")
	}
	if c.UserID == c.PeerID {
		return fmt.Errorf("USER_ID and PEER_ID must differ")
	}
	if c.BackendMode != "memory" && c.BackendMode != "remote" {
		return fmt.Errorf("BACKEND_MODE must be memory or remote, got %q", c.BackendMode)
	}
	if c.BackendMode == "remote" && c.RealtimeURL == "" {
		return fmt.Errorf("REALTIME_URL is required in remote mode")
	}
	if c.AutosaveDelay <= 0 {
		return fmt.Errorf("AUTOSAVE_DELAY must be greater than 0")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
