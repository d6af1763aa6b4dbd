package pipeline

import (
	"context"
	"fmt"

	cverrors "github.com/caravelhq/caravel-cli/pkg/errors"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/queues"
)

// HandleMessage is the worker-pool entry point. It dispatches a dequeued
// message to the matching pipeline operation. Errors bubble back to the
// worker, which decides between retry and dead-letter by their code.
func (p *Pipeline) HandleMessage(ctx context.Context, msg queues.Message) error {
	switch m := msg.(type) {
	case *queues.DocumentMessage:
		_, err := p.Process(ctx, m.DocumentID, ProcessOptions{
			Reclassify: m.Reclassify,
			BatchID:    m.BatchID,
		})
		return err

	case *queues.RelinkMessage:
		_, err := p.HandleRelink(ctx, m)
		return err

	default:
		p.logger.Error("message type has no handler",
			logging.F("message_type", string(msg.GetMessageType())),
		)
		return fmt.Errorf("%w: unhandled message type %s", cverrors.ErrValidation, msg.GetMessageType())
	}
}
