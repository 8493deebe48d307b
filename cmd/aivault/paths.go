package main

import (
	"github.com/benaskins/aivault/internal/config"
)

// vaultHome returns the vault home directory (~/.ai-vault unless --home is set).
func vaultHome() string {
	if homeDir != "" {
		return homeDir
	}
	return config.DefaultHome()
}

func configPath() string {
	return config.PathIn(vaultHome())
}
