package features

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

// CommandConfig configures an external decoder program.
type CommandConfig struct {
	// Command is the decoder executable; it reads a unit on stdin and writes
	// Arrow IPC on stdout.
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`
	// Env holds extra KEY=VALUE pairs added to the inherited environment.
	Env []string `yaml:"env" mapstructure:"env"`
	Dir string   `yaml:"dir" mapstructure:"dir"`

	// Timeout bounds one decode (0 = no limit)
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// GracePeriod is the time between SIGTERM and SIGKILL on timeout
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	// MaxStderr caps the stderr bytes kept for diagnostics
	MaxStderr int `yaml:"max_stderr" mapstructure:"max_stderr"`
}

// DefaultCommandConfig returns the decoder defaults. Command must still be set.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		Timeout:     time.Minute,
		GracePeriod: 5 * time.Second,
		MaxStderr:   4096,
	}
}

// Validate checks the decoder section
func (c CommandConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New(errors.ErrorTypeConfig, "decoder.command is required")
	}
	if c.Timeout < 0 {
		return errors.New(errors.ErrorTypeConfig, "decoder.timeout cannot be negative")
	}
	if c.GracePeriod < 0 {
		return errors.New(errors.ErrorTypeConfig, "decoder.grace_period cannot be negative")
	}
	return nil
}

// CommandDecoder runs the native decoder as a subprocess per unit.
type CommandDecoder struct {
	cfg CommandConfig
}

// NewCommandDecoder validates cfg and resolves the executable.
func NewCommandDecoder(cfg CommandConfig) (*CommandDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "decoder executable not found").
			WithDetail("command", cfg.Command)
	}
	cfg.Command = path
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultCommandConfig().GracePeriod
	}
	if cfg.MaxStderr <= 0 {
		cfg.MaxStderr = DefaultCommandConfig().MaxStderr
	}
	return &CommandDecoder{cfg: cfg}, nil
}

// Decode feeds unit to the decoder on stdin and returns its stdout. A
// non-zero exit becomes a decode error whose message is the decoder's
// trimmed stderr, e.g. "invalid bitcode".
func (d *CommandDecoder) Decode(ctx context.Context, unit []byte) ([]byte, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, d.cfg.Command, d.cfg.Args...) //nolint:gosec // the decoder command is operator configuration
	c.Dir = d.cfg.Dir
	c.Env = mergeEnv(d.cfg.Env)
	c.Stdin = bytes.NewReader(unit)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	setProcessGroup(c)
	c.WaitDelay = d.cfg.GracePeriod

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errType := errors.ErrorTypeTimeout
			if ctxErr == context.Canceled {
				errType = errors.ErrorTypeDecode
			}
			return nil, errors.Wrap(ctxErr, errType, "decoder killed").
				WithDetail("elapsed", elapsed.String())
		}

		exitCode := c.ProcessState.ExitCode()
		msg := d.diagnostic(stderr.Bytes())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.New(errors.ErrorTypeDecode, msg).
			WithDetail("exit_code", exitCode).
			WithDetail("elapsed", elapsed.String())
	}

	return stdout.Bytes(), nil
}

// diagnostic trims stderr to its last MaxStderr bytes.
func (d *CommandDecoder) diagnostic(stderr []byte) string {
	stderr = bytes.TrimSpace(stderr)
	if len(stderr) > d.cfg.MaxStderr {
		stderr = stderr[len(stderr)-d.cfg.MaxStderr:]
	}
	return string(stderr)
}

// String describes the command line
func (d *CommandDecoder) String() string {
	return fmt.Sprintf("%s %s", d.cfg.Command, strings.Join(d.cfg.Args, " "))
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	env := os.Environ()
	return append(env, extra...)
}
