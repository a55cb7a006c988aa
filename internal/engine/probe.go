package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pdfbaba/pdfbaba/internal/model"
)

var ErrNotReady = errors.New("engine not ready")

type probeReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Probe runs the engine "test" tool and expects a {"status":"ok"} reply on
// one of the output lines.
func (s *Supervisor) Probe(ctx context.Context, cmd []string) (string, error) {
	if len(cmd) == 0 || cmd[0] == "" {
		return "", fmt.Errorf("%w: engine command is not configured", ErrNotReady)
	}
	args := append(append([]string(nil), cmd[1:]...), model.OpTest.String())
	inv := model.EngineInvocation{
		Executable: cmd[0],
		Args:       args,
		Operation:  model.OpTest,
	}
	res, err := s.Run(ctx, inv)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	for line := range bytes.Lines(res.Stdout) {
		var reply probeReply
		if json.Unmarshal(bytes.TrimSpace(line), &reply) != nil {
			continue
		}
		if reply.Status == "ok" {
			return reply.Message, nil
		}
	}
	return "", fmt.Errorf("%w: unexpected reply %q", ErrNotReady, bytes.TrimSpace(res.Stdout))
}
