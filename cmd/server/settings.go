package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// settings are the environment defaults; flags override them.
type settings struct {
	Addr            string `env:"CLAIMGATE_ADDR" envDefault:":8080"`
	ConfigPath      string `env:"CLAIMGATE_CONFIG" envDefault:"./configs/claims.yaml"`
	LangDir         string `env:"CLAIMGATE_LANG"`
	DataDir         string `env:"CLAIMGATE_DATA" envDefault:"./data"`
	DisableDB       bool   `env:"CLAIMGATE_DISABLE_DB"`
	IndexBackend    string `env:"CLAIMGATE_INDEX_BACKEND" envDefault:"sqlite"`
	EnableAdminHTTP bool   `env:"CLAIMGATE_ENABLE_ADMIN_HTTP"`
	ChecksPerSecond int    `env:"CLAIMGATE_CHECKS_PER_SECOND" envDefault:"50"`
	WSAnyOrigin     bool   `env:"CLAIMGATE_WS_ALLOW_ANY_ORIGIN"`
}

func loadSettings() (settings, error) {
	dev := isDevDeploy()
	s := settings{EnableAdminHTTP: dev, WSAnyOrigin: dev}
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// isDevDeploy is false for staging and production. Admin endpoints and
// cross-origin websocket upgrades default to off there.
func isDevDeploy() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
