package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ErrDetectionUnsupported is returned where no foreground query exists.
var ErrDetectionUnsupported = errors.New("foreground detection unsupported on this platform")

// Detector reports whether the target chat application is focused.
type Detector interface {
	Foreground(ctx context.Context) (bool, error)
}

const frontmostScript = `tell application "System Events" to get name of first application process whose frontmost is true`

var runOSAScript = func(ctx context.Context, script string) (string, error) {
	out, err := exec.CommandContext(ctx, "osascript", "-e", script).Output()
	return string(out), err
}

// AppDetector matches the frontmost application's name against hints.
type AppDetector struct {
	hints   []string
	timeout time.Duration
	goos    string
}

func NewAppDetector(hints []string) *AppDetector {
	return &AppDetector{hints: hints, timeout: time.Second, goos: runtime.GOOS}
}

func (d *AppDetector) Foreground(ctx context.Context) (bool, error) {
	if d.goos != "darwin" {
		return false, ErrDetectionUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := runOSAScript(ctx, frontmostScript)
	if err != nil {
		return false, fmt.Errorf("query frontmost app: %w", err)
	}
	name := strings.TrimSpace(out)
	for _, hint := range d.hints {
		if hint != "" && strings.Contains(name, hint) {
			return true, nil
		}
	}
	return false, nil
}

// Gate applies the detection policy. With strict detection an unavailable
// or failing detector blocks polling; otherwise it lets polling proceed.
type Gate struct {
	detector Detector
	strict   bool
	logger   *slog.Logger
}

func NewGate(d Detector, strict bool, logger *slog.Logger) *Gate {
	return &Gate{detector: d, strict: strict, logger: logger}
}

func (g *Gate) Allow(ctx context.Context) bool {
	if g == nil || g.detector == nil {
		return true
	}
	ok, err := g.detector.Foreground(ctx)
	if err != nil {
		g.logger.Debug("foreground detection inconclusive", "error", err, "strict", g.strict)
		return !g.strict
	}
	return ok
}
