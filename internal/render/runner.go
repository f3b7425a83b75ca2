package render

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const stderrTailLines = 4

// Runner executes an external command and returns its captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		err = ctxErr
	}

	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err).Str("stderr", stderrTail(stderr.Bytes()))
	}
	event.Str("cmd", filepath.Base(name)).
		Strs("args", args).
		Dur("took", time.Since(started)).
		Msg("render command finished")
	return stdout.Bytes(), stderr.Bytes(), err
}

// stderrTail keeps the last non-empty lines of command output on one line.
// pdftoppm reports the actual failure last, after any per-object warnings.
func stderrTail(out []byte) string {
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	return strings.Join(lines, " | ")
}
