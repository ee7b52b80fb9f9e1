// ABOUTME: The "stampede serve" subcommand: a long-running web dashboard over the pipeline server.
// ABOUTME: Local mode stores state under .stampede/ in the CWD; global mode uses the XDG data dir.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// localDataDirName is the per-project data directory used by local serve mode.
const localDataDirName = ".stampede"

// serveConfig holds configuration for the "stampede serve" subcommand.
type serveConfig struct {
	port    int
	dataDir string
	global  bool
}

// parseServeArgs checks whether args starts with the "serve" subcommand and,
// if so, parses serve-specific flags. Returns the config and true if "serve"
// was detected, or a zero value and false otherwise.
func parseServeArgs(args []string) (serveConfig, bool) {
	if len(args) == 0 || args[0] != "serve" {
		return serveConfig{}, false
	}

	var scfg serveConfig
	fs := flag.NewFlagSet("stampede serve", flag.ContinueOnError)
	fs.IntVar(&scfg.port, "port", 2389, "Port to listen on")
	fs.StringVar(&scfg.dataDir, "data-dir", "", "Data directory for runs and artifacts")
	fs.BoolVar(&scfg.global, "global", false, "Use the global data directory instead of .stampede/ in the CWD")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: stampede serve [flags]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Start the web dashboard for submitting and watching pipeline runs.")
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

	return scfg, true
}

// buildWebServer constructs the HTTP handler for serve mode. The data
// directory resolves in order: explicit flag, XDG default when -global is
// set, otherwise .stampede/ under the current working directory.
func buildWebServer(scfg serveConfig) (http.Handler, error) {
	dataDir := scfg.dataDir
	if dataDir == "" {
		if scfg.global {
			d, err := defaultDataDir()
			if err != nil {
				return nil, fmt.Errorf("resolve data dir: %w", err)
			}
			dataDir = d
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("resolve working directory: %w", err)
			}
			dataDir = filepath.Join(wd, localDataDirName)
		}
	}

	server, err := buildPipelineServer(config{dataDir: dataDir, retryPolicy: "none"})
	if err != nil {
		return nil, err
	}

	return server, nil
}

// runServe starts the web dashboard and blocks until interrupted.
func runServe(scfg serveConfig) int {
	if detectBackend(false, "") == nil {
		fmt.Fprintln(os.Stderr, "warning: no LLM API key found, pipelines with codergen nodes will fail")
		fmt.Fprintln(os.Stderr, "Set one of: ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY")
	}

	handler, err := buildWebServer(scfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	addr := fmt.Sprintf("127.0.0.1:%d", scfg.port)

	ctx, cancel := signalContext()
	defer cancel()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	mode := "local"
	if scfg.global {
		mode = "global"
	}
	fmt.Fprintf(os.Stderr, "stampede dashboard (%s mode) on http://%s\n", mode, addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return 0
}
