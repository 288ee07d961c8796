package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/layer-3/powgate/internal/logutil"
)

// Serve runs handler on bind until ctx is cancelled, then shuts down gracefully
func Serve(ctx context.Context, bind string, handler http.Handler) error {
	server := http.Server{
		Handler:           handler,
		Addr:              bind,
		ReadTimeout:       time.Second * 30,
		WriteTimeout:      time.Second * 30,
		ReadHeaderTimeout: time.Second * 10,
		IdleTimeout:       time.Minute * 2,
	}
	return serve(ctx, &server, server.ListenAndServe)
}

func serve(ctx context.Context, server *http.Server, listen func() error) error {
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", server.Addr).Logger()
	errc := make(chan error, 1)
	go func() {
		log.Info().Msg("Starting HTTP server")
		err := listen()
		if errors.Is(err, http.ErrServerClosed) {
			log.Info().Msg("Server closed")
			err = nil
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.Info().Msg("Initiating shutdown process")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Msg("Shutdown completed")
		return <-errc
	}
}
