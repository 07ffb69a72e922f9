package predict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// outputTruncateLength bounds how much child output ends up in errors.
const outputTruncateLength = 512

// Subprocess runs an external command once per image. The image path is
// appended as the final argument and the result is read from stdout.
type Subprocess struct {
	command      []string
	timeout      time.Duration
	failOnStderr bool
	dir          string
	log          zerolog.Logger
}

// NewSubprocess splits command on whitespace, e.g. "python3 predict.py".
// A zero timeout disables the time limit; the request context still
// applies.
func NewSubprocess(command string, timeout time.Duration, failOnStderr bool, log zerolog.Logger) (*Subprocess, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("predict command is required")
	}
	return &Subprocess{
		command:      args,
		timeout:      timeout,
		failOnStderr: failOnStderr,
		log:          log.With().Str("component", "predictor").Logger(),
	}, nil
}

// WithDir sets the child's working directory.
func (s *Subprocess) WithDir(dir string) *Subprocess {
	s.dir = dir
	return s
}

// Predict runs the command. Cancelling ctx or hitting the timeout kills
// the child.
func (s *Subprocess) Predict(ctx context.Context, imagePath string) (*Result, error) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := append(append([]string{}, s.command[1:]...), imagePath)
	// Command comes from configuration; the only request-derived argument
	// is a server-generated file path.
	cmd := exec.CommandContext(runCtx, s.command[0], args...) //nolint:gosec
	cmd.Dir = s.dir
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			s.log.Warn().Str("image", imagePath).Dur("elapsed", elapsed).Msg("prediction timed out")
			return nil, fmt.Errorf("%w after %s", ErrTimeout, elapsed.Round(time.Millisecond))
		}
		s.log.Info().Str("image", imagePath).Msg("prediction canceled")
		return nil, fmt.Errorf("%w: %w", ErrPrediction, ctxErr)
	}
	if err != nil {
		s.log.Error().Err(err).Str("image", imagePath).Str("stderr", truncate(stderr.String(), outputTruncateLength)).
			Msg("predictor exited with error")
		return nil, fmt.Errorf("%w: %v: %s", ErrPrediction, err, truncate(strings.TrimSpace(stderr.String()), outputTruncateLength))
	}
	if s.failOnStderr && strings.TrimSpace(stderr.String()) != "" {
		s.log.Error().Str("image", imagePath).Str("stderr", truncate(stderr.String(), outputTruncateLength)).
			Msg("predictor wrote to stderr")
		return nil, fmt.Errorf("%w: %s", ErrPrediction, truncate(strings.TrimSpace(stderr.String()), outputTruncateLength))
	}

	res, err := Parse(stdout.Bytes())
	if err != nil {
		s.log.Error().Err(err).Str("image", imagePath).Str("stdout", truncate(stdout.String(), outputTruncateLength)).
			Msg("unusable predictor output")
		return nil, err
	}
	s.log.Debug().Str("image", imagePath).Int("boxes", len(res.Prediction.Boxes)).Dur("elapsed", elapsed).
		Msg("prediction finished")
	return res, nil
}
