package logutil

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillAdapter routes watermill logs through zerolog
type WatermillAdapter struct {
	log zerolog.Logger
}

func NewWatermillAdapter(log zerolog.Logger) watermill.LoggerAdapter {
	return &WatermillAdapter{log: log.With().Str("component", "watermill").Logger()}
}

func (w *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.log.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	w.log.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	w.log.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	w.log.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillAdapter{log: w.log.With().Fields(map[string]interface{}(fields)).Logger()}
}
