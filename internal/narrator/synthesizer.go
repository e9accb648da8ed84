package narrator

import (
	"context"
	"os/exec"

	"github.com/echosight/echosight/pkg/errors"
)

// Synthesizer turns one utterance into audio. Implementations must respect
// context cancellation so an interrupt can cut speech short.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// ExecSynthesizer shells out to a TTS binary per utterance, espeak-ng by
// default. The utterance text is passed as the final argument.
type ExecSynthesizer struct {
	command string
	args    []string
}

// NewExecSynthesizer builds a synthesizer around the given command.
func NewExecSynthesizer(command string, args ...string) *ExecSynthesizer {
	return &ExecSynthesizer{command: command, args: args}
}

// Speak runs the TTS command and waits for it to finish or the context to be
// canceled.
func (s *ExecSynthesizer) Speak(ctx context.Context, text string) error {
	if s.command == "" {
		return &errors.ValidationError{Field: "voice.command", Message: "must not be empty"}
	}
	args := make([]string, 0, len(s.args)+1)
	args = append(args, s.args...)
	args = append(args, text)

	cmd := exec.CommandContext(ctx, s.command, args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "running %s", s.command)
	}
	return nil
}

// NopSynthesizer discards utterances. Used in tests and headless runs.
type NopSynthesizer struct{}

// Speak implements Synthesizer.
func (NopSynthesizer) Speak(ctx context.Context, text string) error { return nil }
