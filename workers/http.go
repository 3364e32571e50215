package workers

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"cctpbridge/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// NewRouter wires the API routes. metricsHandler may be nil.
func NewRouter(api *handlers.API, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(api.Logger))

	r.Options("/*", CORSHeaders)

	r.Get("/state", handlers.State)
	r.Get("/health", api.HealthCheck)
	r.Get("/relayer", api.RelayerHealth)

	r.Get("/balance/{chainId}", api.BalanceUSDC)

	r.Post("/bridge", api.SubmitBridge)
	r.Get("/bridge/{id}", api.GetOperation)
	r.Post("/bridge/{id}/resume", api.ResumeOperation)
	r.Delete("/bridge/{id}", api.CancelOperation)

	r.Get("/operations", api.ListOperations)

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	return r
}

// Worker_HTTP serves the API until ctx is done, then shuts down gracefully
func Worker_HTTP(ctx context.Context, api *handlers.API, metricsHandler http.Handler, listen string, useSSL bool, logger *zap.Logger) error {
	logger.Info("starting HTTP service", zap.String("listen", listen), zap.Bool("ssl", useSSL))

	server := &http.Server{
		Addr:              listen,
		Handler:           NewRouter(api, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if useSSL {
		cert, err := tls.LoadX509KeyPair("certchain.pem", "privatekey.pem")
		if err != nil {
			return err
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if useSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("HTTP service started")

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("error listening", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP service shutdown error", zap.Error(err))
		return err
	}
	logger.Info("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With")
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}
