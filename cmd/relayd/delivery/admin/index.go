package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	adminsvc "github.com/taskdeck/eventrelay/pkg/admin"
	"github.com/taskdeck/eventrelay/pkg/common"

	"github.com/taskdeck/eventrelay/cmd/relayd/utils"
)

type deadLetterView struct {
	ID                string    `json:"id"`
	OutboxID          string    `json:"outbox_id"`
	EventType         string    `json:"event_type"`
	AggregateID       string    `json:"aggregate_id"`
	Payload           any       `json:"payload"`
	FailureReason     string    `json:"failure_reason"`
	RetryCountAtDeath int       `json:"retry_count_at_death"`
	FirstFailedAt     time.Time `json:"first_failed_at"`
	DeadLetteredAt    time.Time `json:"dead_lettered_at"`
}

type listResponse struct {
	Items    []deadLetterView `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// Server mounts the operator surface: dead-letter list/retry/delete and
// outbox statistics. Authorization is handled by whatever sits in front.
func Server(ctx context.Context, service *adminsvc.Service, config *utils.Config) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /deadletters", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

		filter := common.DeadLetterFilter{EventType: r.URL.Query().Get("event_type")}
		if from := r.URL.Query().Get("from"); from != "" {
			t, err := time.Parse(time.RFC3339, from)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid from"))
				return
			}
			filter.From = t
		}
		if to := r.URL.Query().Get("to"); to != "" {
			t, err := time.Parse(time.RFC3339, to)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid to"))
				return
			}
			filter.To = t
		}

		items, total, err := service.List(r.Context(), page, pageSize, filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		if page < 1 {
			page = 1
		}
		if pageSize < 1 {
			pageSize = 50
		}
		resp := listResponse{Items: make([]deadLetterView, 0, len(items)), Total: total, Page: page, PageSize: pageSize}
		for _, item := range items {
			resp.Items = append(resp.Items, viewOf(item))
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("POST /deadletters/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		outboxID, err := service.Retry(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"outbox_id": outboxID})
	})

	mux.HandleFunc("DELETE /deadletters/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := service.Delete(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /outbox/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := service.OutboxStats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{
			"pending":    stats.Pending,
			"processing": stats.Processing,
			"delivered":  stats.Delivered,
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", config.AdminPort),
		Handler: mux,
	}

	go func() {
		utils.GetAppLogger().Infof("Starting admin server on port %d", config.AdminPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.GetAppLogger().Errorf("Admin server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.GetAppLogger().Errorf("Admin server shutdown error: %v", err)
	}
}

func viewOf(msg *common.DeadLetterMessage) deadLetterView {
	view := deadLetterView{
		ID:                msg.ID,
		OutboxID:          msg.OutboxID,
		EventType:         msg.EventType,
		AggregateID:       msg.AggregateID,
		FailureReason:     msg.FailureReason,
		RetryCountAtDeath: msg.RetryCountAtDeath,
		FirstFailedAt:     msg.FirstFailedAt,
		DeadLetteredAt:    msg.DeadLetteredAt,
	}
	var payload any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		payload = string(msg.Payload)
	}
	view.Payload = payload
	return view
}

func statusOf(err error) int {
	if errors.Is(err, common.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
