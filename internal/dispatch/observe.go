package dispatch

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/protocol"
)

// Observers receives pipeline activity. Both fields are optional.
type Observers struct {
	Hub     *events.Hub
	Journal *journal.Journal
}

var stageEvents = map[journal.Stage]string{
	journal.StageAccepted:   events.TypeEnvelopeAccepted,
	journal.StageDispatched: events.TypeEnvelopeDispatched,
	journal.StageCompleted:  events.TypeEnvelopeCompleted,
	journal.StageDropped:    events.TypeEnvelopeDropped,
}

func (o Observers) envelope(logger *slog.Logger, stage journal.Stage, env protocol.Envelope, worker int, errMsg string) {
	if o.Hub != nil {
		data := events.EnvelopeData{
			Name:          env.Name(),
			Kind:          env.Kind().String(),
			CorrelationID: env.CorrelationKey(),
			Error:         errMsg,
		}
		if stage == journal.StageCompleted {
			data.Message = env.Message()
		}
		if worker != journal.NoWorker {
			w := worker
			data.Worker = &w
		}
		o.Hub.Publish(stageEvents[stage], data)
	}
	if o.Journal != nil {
		// Recorded even once shutdown has begun.
		if err := o.Journal.Record(context.Background(), stage, env, worker, errMsg); err != nil {
			logger.Warn("journal write failed", "stage", string(stage), "error", err)
		}
	}
}

func (o Observers) workerConnected(index int, addr string) {
	if o.Hub != nil {
		o.Hub.Publish(events.TypeWorkerConnected, events.WorkerData{Worker: index, Addr: addr})
	}
}
