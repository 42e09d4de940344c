package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. Development gets a console
// writer; everything else gets JSON lines.
func Init(serviceName, env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().
			Str("service", serviceName).
			Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Caller().
		Str("service", serviceName).
		Logger()
}

// Middleware logs one line per HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			ev := log.Info()
			if ww.Status() >= 500 {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// Retry adapts zerolog to retryablehttp.LeveledLogger.
type Retry struct {
	L zerolog.Logger
}

func (r Retry) Error(msg string, kv ...interface{}) { r.L.Error().Fields(kv).Msg(msg) }
func (r Retry) Info(msg string, kv ...interface{})  { r.L.Debug().Fields(kv).Msg(msg) }
func (r Retry) Debug(msg string, kv ...interface{}) { r.L.Trace().Fields(kv).Msg(msg) }
func (r Retry) Warn(msg string, kv ...interface{})  { r.L.Warn().Fields(kv).Msg(msg) }
