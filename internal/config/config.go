package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Media engine selection. Keep values stable because they appear in
// config files and environment variables.
const (
	EngineWebRTC = "webrtc"
	EngineSim    = "sim"
)

type Config struct {
	HTTPPort string `json:"http_port"`
	Domain   string `json:"domain"`
	DBPath   string `json:"db_path"`

	// Identity of this device, embedded in outbound call invitations.
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`

	MediaEngine string `json:"media_engine"`
	TURNPort    int    `json:"turn_port"`
	TURNRealm   string `json:"turn_realm"`

	// DisconnectGraceSeconds bounds how long a connectivity drop is
	// tolerated during an active call before the call is ended.
	DisconnectGraceSeconds int `json:"disconnect_grace_seconds"`
	// WakeWindowMillis is the handling window granted to an incoming
	// wake signal before its invitation is considered dead.
	WakeWindowMillis int `json:"wake_window_millis"`

	// Secrets are loaded from the keys directory or the environment,
	// never from config.json.
	JWTSecret string     `json:"-"`
	VAPIDKeys *VAPIDKeys `json:"-"`
}

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

func (c *Config) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSeconds) * time.Second
}

func (c *Config) WakeWindow() time.Duration {
	return time.Duration(c.WakeWindowMillis) * time.Millisecond
}

// Load reads config.json next to the executable when present and fills
// in any missing fields from environment variables or defaults.
func Load() *Config {
	cfg := &Config{}

	if data, err := os.ReadFile(configFilePath()); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "ignoring malformed config.json: %v\n", err)
			cfg = &Config{}
		}
	}

	applyDefault(&cfg.HTTPPort, getEnv("HTTP_PORT", "8080"))
	applyDefault(&cfg.Domain, getEnv("DOMAIN", "localhost"))
	applyDefault(&cfg.DBPath, getEnv("DB_PATH", "idcall.db"))
	applyDefault(&cfg.PeerID, getEnv("PEER_ID", "local-device"))
	applyDefault(&cfg.DisplayName, getEnv("DISPLAY_NAME", "ID Call"))
	applyDefault(&cfg.MediaEngine, getEnv("MEDIA_ENGINE", EngineWebRTC))
	applyDefaultInt(&cfg.TURNPort, getEnvInt("TURN_PORT", 3478))
	applyDefault(&cfg.TURNRealm, getEnv("TURN_REALM", "idcall"))
	applyDefaultInt(&cfg.DisconnectGraceSeconds, getEnvInt("DISCONNECT_GRACE_SECONDS", 5))
	applyDefaultInt(&cfg.WakeWindowMillis, getEnvInt("WAKE_WINDOW_MILLIS", 2000))

	cfg.JWTSecret = loadOrGenerateJWTSecret()
	cfg.VAPIDKeys = loadOrGenerateVAPIDKeys()

	return cfg
}

func applyDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func applyDefaultInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func configFilePath() string {
	return filepath.Join(execDir(), "config.json")
}

// KeysDirectory holds generated secrets, next to the executable.
func KeysDirectory() string {
	return filepath.Join(execDir(), "keys")
}

func execDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	return base64.URLEncoding.EncodeToString(bytes)
}

func loadOrGenerateJWTSecret() string {
	// Environment variable takes priority.
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return secret
	}

	secretFile := filepath.Join(KeysDirectory(), "jwt-secret.key")
	if data, err := os.ReadFile(secretFile); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret
		}
	}

	secret := generateRandomSecret()
	persist(secretFile, secret)
	return secret
}

func loadOrGenerateVAPIDKeys() *VAPIDKeys {
	subject := getEnv("VAPID_SUBJECT", "mailto:calls@tekiyo.app")

	publicKey := os.Getenv("VAPID_PUBLIC_KEY")
	privateKey := os.Getenv("VAPID_PRIVATE_KEY")
	if publicKey != "" && privateKey != "" {
		return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}
	}

	keysDir := KeysDirectory()
	publicFile := filepath.Join(keysDir, "vapid-public.key")
	privateFile := filepath.Join(keysDir, "vapid-private.key")

	publicData, pubErr := os.ReadFile(publicFile)
	privateData, privErr := os.ReadFile(privateFile)
	if pubErr == nil && privErr == nil {
		return &VAPIDKeys{
			PublicKey:  strings.TrimSpace(string(publicData)),
			PrivateKey: strings.TrimSpace(string(privateData)),
			Subject:    subject,
		}
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		panic("failed to generate VAPID keys: " + err.Error())
	}
	persist(publicFile, publicKey)
	persist(privateFile, privateKey)

	return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}
}

func persist(path, value string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create keys directory: %v\n", err)
		return
	}
	if err := os.WriteFile(path, []byte(value), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot persist %s: %v\n", filepath.Base(path), err)
	}
}
