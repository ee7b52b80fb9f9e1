// ABOUTME: Interactive setup wizard for stampede: collects API keys, writes .env, prints quickstart.
// ABOUTME: Follows the same subcommand pattern as "stampede serve" with its own flag set.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// setupConfig holds configuration for the "stampede setup" subcommand.
type setupConfig struct {
	skipKeys bool
	envFile  string
}

// keyPrompt describes one API key the wizard offers to collect.
type keyPrompt struct {
	envKey   string
	provider string
}

var setupKeyPrompts = []keyPrompt{
	{"ANTHROPIC_API_KEY", "Anthropic"},
	{"OPENAI_API_KEY", "OpenAI"},
	{"GEMINI_API_KEY", "Gemini"},
}

// parseSetupArgs checks whether args starts with the "setup" subcommand and,
// if so, parses setup-specific flags. Returns the config and true if "setup"
// was detected, or a zero value and false otherwise.
func parseSetupArgs(args []string) (setupConfig, bool) {
	if len(args) == 0 || args[0] != "setup" {
		return setupConfig{}, false
	}

	var cfg setupConfig
	fs := flag.NewFlagSet("stampede setup", flag.ContinueOnError)
	fs.BoolVar(&cfg.skipKeys, "skip-keys", false, "Skip API key collection")
	fs.StringVar(&cfg.envFile, "env-file", ".env", "Path to write .env file")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: stampede setup [flags]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Interactive setup wizard: configure API keys and get started.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	return cfg, true
}

// runSetup executes the interactive setup wizard against stdin/stdout.
func runSetup(cfg setupConfig) int {
	return runSetupIO(cfg, os.Stdin, os.Stdout)
}

// runSetupIO is the wizard body with injectable streams for testing.
// It prompts for each provider key, merges answers into the env file,
// and prints a quickstart.
func runSetupIO(cfg setupConfig, in io.Reader, out io.Writer) int {
	fmt.Fprintln(out, "stampede setup")
	fmt.Fprintln(out)

	entries := map[string]string{}
	if !cfg.skipKeys {
		fmt.Fprintln(out, "Enter API keys for the providers you use. Blank skips a provider.")
		fmt.Fprintln(out)

		scanner := bufio.NewScanner(in)
		for _, p := range setupKeyPrompts {
			note := ""
			if os.Getenv(p.envKey) != "" {
				note = " [already set]"
			}
			fmt.Fprintf(out, "%s (%s)%s: ", p.provider, p.envKey, note)
			if !scanner.Scan() {
				break
			}
			value := strings.TrimSpace(scanner.Text())
			if value != "" {
				entries[p.envKey] = value
			}
		}
	}

	if len(entries) > 0 {
		if err := writeEnvFile(cfg.envFile, entries); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "\nWrote %d key(s) to %s\n", len(entries), cfg.envFile)
	} else {
		fmt.Fprintln(out, "\nNo keys written.")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  stampede examples/build_pong.dot      Run an example pipeline")
	fmt.Fprintln(out, "  stampede -validate my_pipeline.dot    Check a pipeline without running it")
	fmt.Fprintln(out, "  stampede serve                        Open the web dashboard")

	return 0
}

// writeEnvFile merges entries into the env file at path, replacing existing
// assignments for the same keys and preserving every other line.
func writeEnvFile(path string, entries map[string]string) error {
	existing := ""
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}

	var lines []string
	replaced := map[string]bool{}
	for _, line := range strings.Split(existing, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			key, _, ok := strings.Cut(strings.TrimPrefix(trimmed, "export "), "=")
			key = strings.TrimSpace(key)
			if ok {
				if value, hit := entries[key]; hit {
					lines = append(lines, key+"="+value)
					replaced[key] = true
					continue
				}
			}
		}
		lines = append(lines, line)
	}

	// Drop trailing blank lines carried over from the split.
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		if !replaced[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+"="+entries[k])
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
