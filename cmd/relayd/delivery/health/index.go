package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskdeck/eventrelay/cmd/relayd/utils"
)

// Server answers /health based on database reachability: a relay that cannot
// reach its stores cannot make progress.
func Server(ctx context.Context, pool *pgxpool.Pool, config *utils.Config) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not OK"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", config.HealthPort),
		Handler: mux,
	}

	go func() {
		utils.GetAppLogger().Infof("Starting health server on port %d", config.HealthPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.GetAppLogger().Errorf("Health server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.GetAppLogger().Errorf("Health server shutdown error: %v", err)
	}
}
