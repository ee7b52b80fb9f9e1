// ABOUTME: Loads environment variables from .env files at startup via godotenv.
// ABOUTME: Sets variables only when not already present in the environment (no clobber).
package main

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// loadDotEnv reads a .env file and sets any variables not already in the
// environment. Missing files are silently ignored.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	// godotenv.Load never overwrites variables that are already set.
	_ = godotenv.Load(path)
}

// loadDotEnvAuto loads .env files from common locations without clobbering
// existing environment variables. Search order:
//  1. .env in current directory and its parents
//  2. .env next to the current executable
//  3. config.env in the XDG config directory
func loadDotEnvAuto() {
	seen := map[string]bool{}

	addPath := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		loadDotEnv(p)
	}

	if wd, err := os.Getwd(); err == nil {
		dir := wd
		for {
			addPath(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if exe, err := os.Executable(); err == nil {
		addPath(filepath.Join(filepath.Dir(exe), ".env"))
	}

	if configDir, err := defaultConfigDir(); err == nil {
		addPath(filepath.Join(configDir, "config.env"))
	}
}
