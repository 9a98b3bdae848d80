// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package edirect runs the NCBI Entrez Direct command-line tools to fetch
// MEDLINE records. Each fetch is a blocking esearch | efetch pipeline run
// as child processes.
package edirect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pdiddy/medline-harvest/pkg/types"
)

const (
	binESearch = "esearch"
	binEFetch  = "efetch"

	envAPIKey = "NCBI_API_KEY"
)

var requiredTools = []string{binESearch, binEFetch}

var (
	// ErrToolMissing means esearch or efetch could not be found.
	ErrToolMissing = errors.New("EDirect tools not found")

	// ErrEmptyResult means the pipeline succeeded but printed nothing.
	ErrEmptyResult = errors.New("EDirect returned no records")
)

// Provisioner makes the fetch tools available. EnsureReady is idempotent.
type Provisioner interface {
	EnsureReady(ctx context.Context, apiKey string) error
}

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	RunSilent(ctx context.Context, env []string, name string, args ...string) error
	RunPipeline(ctx context.Context, env []string, stages [][]string, stdout, stderr io.Writer) error
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (o *osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (o *osExecutor) RunSilent(ctx context.Context, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	return cmd.Run()
}

// RunPipeline connects each stage's stdout to the next stage's stdin, like
// a shell pipe, and waits for all of them.
func (o *osExecutor) RunPipeline(ctx context.Context, env []string, stages [][]string, stdout, stderr io.Writer) error {
	if len(stages) == 0 {
		return errors.New("empty pipeline")
	}

	cmds := make([]*exec.Cmd, len(stages))
	for i, argv := range stages {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = env
		cmd.Stderr = stderr
		if i > 0 {
			pipe, err := cmds[i-1].StdoutPipe()
			if err != nil {
				return fmt.Errorf("connecting %s: %w", argv[0], err)
			}
			cmd.Stdin = pipe
		}
		cmds[i] = cmd
	}
	cmds[len(cmds)-1].Stdout = stdout

	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			for _, started := range cmds[:i] {
				started.Process.Kill()
				started.Wait()
			}
			return fmt.Errorf("starting %s: %w", stages[i][0], err)
		}
	}

	var errs []error
	for i, cmd := range cmds {
		if err := cmd.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(stages[i][0]), err))
		}
	}
	return errors.Join(errs...)
}

var defaultExec = &osExecutor{}

// Client locates the EDirect tools and runs fetches. It implements
// Provisioner and is safe for concurrent use.
type Client struct {
	cfg  types.FetchConfig
	exec executor

	mu   sync.Mutex
	bins map[string]string // tool name to resolved path, set once ready
}

// New returns a Client for cfg. Empty Database and Format fall back to
// pubmed and medline.
func New(cfg types.FetchConfig) *Client {
	return newClient(cfg, defaultExec)
}

func newClient(cfg types.FetchConfig, exec executor) *Client {
	def := types.DefaultPipelineConfig().Fetch
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	return &Client{cfg: cfg, exec: exec}
}

// EnsureReady locates esearch and efetch in the configured EDirect
// directory or on PATH. When they are missing and an install script is
// configured, it runs the script once with HOME set to the parent of the
// EDirect directory, then looks again. A non-empty apiKey replaces the
// configured key for later fetches.
func (c *Client) EnsureReady(ctx context.Context, apiKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureReadyLocked(ctx, apiKey)
}

func (c *Client) ensureReadyLocked(ctx context.Context, apiKey string) error {
	if apiKey != "" {
		c.cfg.APIKey = apiKey
	}
	if c.bins != nil {
		return nil
	}

	bins, missing := c.locate()
	if len(missing) > 0 && c.cfg.InstallScript != "" {
		env := c.env()
		if c.cfg.Dir != "" {
			env = append(env, "HOME="+filepath.Dir(c.cfg.Dir))
		}
		if err := c.exec.RunSilent(ctx, env, "sh", c.cfg.InstallScript); err != nil {
			return fmt.Errorf("running EDirect installer %s: %w", c.cfg.InstallScript, err)
		}
		bins, missing = c.locate()
	}
	if len(missing) > 0 {
		where := "PATH"
		if c.cfg.Dir != "" {
			where = c.cfg.Dir + " or PATH"
		}
		return fmt.Errorf("%w: %s not in %s", ErrToolMissing, strings.Join(missing, ", "), where)
	}

	c.bins = bins
	return nil
}

func (c *Client) locate() (map[string]string, []string) {
	bins := make(map[string]string, len(requiredTools))
	var missing []string
	for _, name := range requiredTools {
		if c.cfg.Dir != "" {
			if p, err := c.exec.LookPath(filepath.Join(c.cfg.Dir, name)); err == nil {
				bins[name] = p
				continue
			}
		}
		if p, err := c.exec.LookPath(name); err == nil {
			bins[name] = p
			continue
		}
		missing = append(missing, name)
	}
	return bins, missing
}

// env returns the child environment: the current environment with the
// EDirect directory prepended to PATH and the API key exported.
func (c *Client) env() []string {
	var env []string
	path := os.Getenv("PATH")
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "PATH=") || strings.HasPrefix(kv, envAPIKey+"=") {
			continue
		}
		env = append(env, kv)
	}
	if c.cfg.Dir != "" {
		if abs, err := filepath.Abs(c.cfg.Dir); err == nil {
			path = abs + string(os.PathListSeparator) + path
		}
	}
	env = append(env, "PATH="+path)
	if c.cfg.APIKey != "" {
		env = append(env, envAPIKey+"="+c.cfg.APIKey)
	}
	return env
}

// Query builds the esearch query expression for a chunk of identifiers.
func Query(ids []string) string {
	return strings.Join(ids, ",")
}

// Fetch runs esearch -db <database> -query <ids> | efetch -format <format>
// and returns the trimmed output. A failing pipeline returns an error that
// includes the tools' stderr; empty output returns ErrEmptyResult.
func (c *Client) Fetch(ctx context.Context, ids []string) (string, error) {
	c.mu.Lock()
	if err := c.ensureReadyLocked(ctx, ""); err != nil {
		c.mu.Unlock()
		return "", err
	}
	stages := [][]string{
		{c.bins[binESearch], "-db", c.cfg.Database, "-query", Query(ids)},
		{c.bins[binEFetch], "-format", c.cfg.Format},
	}
	env := c.env()
	c.mu.Unlock()

	var stdout, stderr bytes.Buffer
	if err := c.exec.RunPipeline(ctx, env, stages, &stdout, &stderr); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("esearch | efetch: %w: %s", err, msg)
		}
		return "", fmt.Errorf("esearch | efetch: %w", err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}
