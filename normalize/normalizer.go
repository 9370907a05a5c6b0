// Package normalize turns raw transport chunks into a single canonical
// event stream, independent of which provider is active.
package normalize

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/models"
	"github.com/airfit/coachengine/providers"
)

// Normalizer feeds transport chunks through the active wire adapter and
// enforces the stream invariants: a function call or error terminates the
// sequence, exactly one end event is delivered, and no text follows a
// function call within the same turn.
type Normalizer struct {
	adapter providers.Adapter
	logger  zerolog.Logger
}

func New(adapter providers.Adapter, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		adapter: adapter,
		logger:  logger.With().Str("component", "normalizer").Str("provider", adapter.Provider()).Logger(),
	}
}

// Run consumes the transport channel pair and produces canonical events.
// The returned channel is closed after the terminal end event.
func (n *Normalizer) Run(ctx context.Context, chunks <-chan []byte, errs <-chan error) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent)

	go func() {
		defer close(out)

		sawCall := false
		emit := func(evt models.StreamEvent) bool {
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		finish := func(last models.StreamEvent) {
			if last.Type != models.EventEnd {
				emit(last)
			}
			emit(models.EndEvent())
		}

		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					// Transport EOF without a terminal event from the
					// adapter; close the turn cleanly. A buffered error
					// takes precedence over a plain end.
					select {
					case err, open := <-errs:
						if open && err != nil {
							finish(models.ErrorEvent(coacherr.AsError(err)))
							return
						}
					default:
					}
					emit(models.EndEvent())
					return
				}
				for _, evt := range n.adapter.DecodeChunk(chunk) {
					switch evt.Type {
					case models.EventTextDelta:
						if sawCall {
							// Providers must not emit text after a tool
							// call in the same turn; the call is treated
							// as final.
							n.logger.Warn().Msg("dropping text delta after function call")
							continue
						}
						if !emit(evt) {
							return
						}
					case models.EventFunctionCall:
						if sawCall {
							n.logger.Warn().Str("function", evt.Call.Name).
								Msg("dropping extra function call in the same turn")
							continue
						}
						sawCall = true
						finish(evt)
						return
					case models.EventError:
						finish(evt)
						return
					case models.EventEnd:
						emit(models.EndEvent())
						return
					}
				}

			case err, ok := <-errs:
				if ok && err != nil {
					finish(models.ErrorEvent(coacherr.AsError(err)))
					return
				}
				if !ok {
					errs = nil
				}

			case <-ctx.Done():
				finish(models.ErrorEvent(coacherr.Wrap(coacherr.KindCancelled, "stream cancelled", ctx.Err())))
				return
			}
		}
	}()

	return out
}
