// A stand-in HR attendance API for local runs. FAIL_RATE (0..1) makes a share
// of requests answer 503 so the retry and dead-letter paths can be watched.
package main

import (
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var received atomic.Int64

func attendanceHandler(failRate float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		var records []map[string]any
		if err := json.Unmarshal(body, &records); err != nil {
			// single-record payloads are accepted too
			var one map[string]any
			if err := json.Unmarshal(body, &one); err != nil {
				http.Error(w, "Bad request", http.StatusBadRequest)
				return
			}
			records = []map[string]any{one}
		}

		if rand.Float64() < failRate {
			log.Warn().Str("path", r.URL.Path).Int("records", len(records)).Msg("Simulating HR API outage")
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		total := received.Add(int64(len(records)))
		log.Info().
			Str("path", r.URL.Path).
			Str("auth", r.Header.Get("Authorization")).
			Int("records", len(records)).
			Int64("total", total).
			Msg("Received attendance")
		w.WriteHeader(http.StatusCreated)
	}
}

func main() {
	failRate, _ := strconv.ParseFloat(os.Getenv("FAIL_RATE"), 64)
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	http.HandleFunc("/", attendanceHandler(failRate))
	log.Info().Str("port", port).Float64("fail_rate", failRate).Msg("HR API mock server starting")
	log.Fatal().Err(http.ListenAndServe(":"+port, nil)).Msg("HR API mock stopped")
}
