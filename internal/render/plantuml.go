// Package render turns PlantUML diagram text into an image by shelling out to
// a PlantUML toolchain.
package render

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/calltrace/internal/logging"
)

const (
	// DefaultCommand is looked up on PATH when no command is configured.
	DefaultCommand = "plantuml"

	// DefaultTimeout bounds a single toolchain run.
	DefaultTimeout = 60 * time.Second

	SourceExt = ".puml"
	ImageExt  = ".png"
)

// PlantUML renders diagram text with an external toolchain. Failures are
// logged and reported as false, never returned as errors, so a broken
// toolchain cannot take down the traced program.
type PlantUML struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a PlantUML renderer.
type Option func(*PlantUML)

// WithCommand sets the toolchain invocation. A path ending in ".jar" runs as
// "java -jar <path>"; anything else is split on whitespace.
func WithCommand(cmd string) Option {
	return func(p *PlantUML) {
		cmd = strings.TrimSpace(cmd)
		switch {
		case cmd == "":
		case strings.HasSuffix(cmd, ".jar"):
			p.command = []string{"java", "-jar", cmd}
		default:
			p.command = strings.Fields(cmd)
		}
	}
}

// WithTimeout bounds each toolchain run. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *PlantUML) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *PlantUML) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a renderer that runs "plantuml" from PATH by default.
func New(opts ...Option) *PlantUML {
	p := &PlantUML{
		command: []string{DefaultCommand},
		timeout: DefaultTimeout,
		logger:  logging.Discard(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Command returns the configured toolchain invocation.
func (p *PlantUML) Command() []string {
	return append([]string(nil), p.command...)
}

// Available reports whether the toolchain executable can be found.
func (p *PlantUML) Available() bool {
	_, err := exec.LookPath(p.command[0])
	return err == nil
}

// Paths returns the source and image paths for an output base. An extension
// on base is replaced, so "out/trace.puml" and "out/trace" are equivalent.
func Paths(base string) (source, image string) {
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base + SourceExt, base + ImageExt
}

// Render writes diagram to base.puml and renders base.png from it. It reports
// true only if the image exists afterwards. The source file is written
// before the toolchain is consulted, so it survives every toolchain failure.
func (p *PlantUML) Render(ctx context.Context, diagram, base string) bool {
	log := logging.LogWith(ctx, p.logger)
	source, image := Paths(base)

	if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
		log.Error("failed to create output directory", slog.String("path", filepath.Dir(source)), slog.String("error", err.Error()))
		return false
	}
	if err := os.WriteFile(source, []byte(diagram), 0o644); err != nil {
		log.Error("failed to write diagram source", slog.String("path", source), slog.String("error", err.Error()))
		return false
	}
	log.Info("saved diagram source", slog.String("path", source))

	bin, err := exec.LookPath(p.command[0])
	if err != nil {
		log.Error("diagram toolchain not found", slog.String("command", p.command[0]), slog.String("error", err.Error()))
		return false
	}

	// A stale image from an earlier run must not count as success.
	if err := os.Remove(image); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("failed to remove stale image", slog.String("path", image), slog.String("error", err.Error()))
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append(append([]string(nil), p.command[1:]...), "-tpng", source)
	cmd := exec.CommandContext(runCtx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		log.Error("diagram rendering failed",
			slog.String("command", strings.Join(p.command, " ")),
			slog.String("error", err.Error()),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
		)
		return false
	}

	if _, err := os.Stat(image); err != nil {
		log.Error("toolchain succeeded but image is missing",
			slog.String("path", image),
			slog.String("stdout", strings.TrimSpace(stdout.String())),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
		)
		return false
	}

	log.Info("rendered diagram image", slog.String("path", image), slog.Duration("elapsed", time.Since(start)))
	return true
}
