// Package video runs a single chat-completion call against a video model and
// reports the outcome on the process streams.
package video

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/poevideo/poe-video/internal/config"
	"github.com/poevideo/poe-video/internal/logging"
	"github.com/poevideo/poe-video/internal/services"
)

// ErrorPrefix starts every line written to the error stream.
const ErrorPrefix = "Error generating video: "

// Completer is satisfied by *services.PoeService.
type Completer interface {
	SendMessage(ctx context.Context, apiKey string, request *services.MessageRequest) (*services.MessageResponse, error)
}

type Generator struct {
	completer Completer
	apiKey    string
	model     string
	stdout    io.Writer
	stderr    io.Writer
	logger    *slog.Logger
}

// NewGenerator captures the credential and model from cfg once; Generate never
// consults the environment.
func NewGenerator(completer Completer, cfg *config.PoeConfig, stdout, stderr io.Writer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Generator{
		completer: completer,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		stdout:    stdout,
		stderr:    stderr,
		logger:    logger,
	}
}

// Generate sends prompt as a single user message. On success the first
// choice's content is written to stdout; on any failure one line is written to
// stderr. The content or the *services.CallError is also returned.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	content, err := g.complete(ctx, prompt)
	if err != nil {
		fmt.Fprintf(g.stderr, "%s%s\n", ErrorPrefix, err.Error())
		return "", err
	}

	fmt.Fprintln(g.stdout, content)
	return content, nil
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.completer.SendMessage(ctx, g.apiKey, services.UserMessage(g.model, prompt))
	if err != nil {
		return "", err
	}

	content, err := resp.FirstContent()
	if err != nil {
		if resp != nil {
			g.logger.DebugContext(ctx, "response carried no usable choice",
				"model", resp.Model,
				"id", resp.ID)
		}
		return "", err
	}
	return content, nil
}
