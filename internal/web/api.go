package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"crowdwatch/internal/logger"
)

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

// realtimePayload assembles the current world state: latest snapshot,
// rolling statistics and crowd level.
func (s *Server) realtimePayload() map[string]any {
	snap, ok := s.snapshots.Read()
	rolling := s.aggregator.Rolling()
	level := s.aggregator.Classify(snap.PersonCount)

	return map[string]any{
		"available":    ok,
		"person_count": snap.PersonCount,
		"density":      snap.Density,
		"boxes":        snap.Boxes,
		"level":        level.Level,
		"wait_range":   level.WaitRange,
		"rolling":      rolling,
		"inference_ms": snap.InferenceTime.Milliseconds(),
		"stale":        snap.Stale,
		"timestamp":    snap.Timestamp,
	}
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.realtimePayload())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	flow, err := s.records.WeeklyFlow()
	if err != nil {
		logger.Error("Web", "Weekly flow query failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "stats unavailable"}, http.StatusInternalServerError)
		return
	}

	heatmap, err := s.records.Heatmap()
	if err != nil {
		logger.Error("Web", "Heatmap query failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "stats unavailable"}, http.StatusInternalServerError)
		return
	}

	payload := map[string]any{
		"rolling":     s.aggregator.Rolling(),
		"history":     s.aggregator.History(),
		"weekly_flow": flow,
		"heatmap":     heatmap,
	}

	if v := r.URL.Query().Get("weekday"); v != "" {
		weekday, err := strconv.Atoi(v)
		if err != nil || weekday < 0 || weekday > 6 {
			writeJSONWithStatus(w, map[string]any{"error": "weekday must be 0-6"}, http.StatusBadRequest)
			return
		}
		hours, err := s.records.HourlyAverages(weekday)
		if err != nil {
			logger.Error("Web", "Hourly averages query failed: %v", err)
			writeJSONWithStatus(w, map[string]any{"error": "stats unavailable"}, http.StatusInternalServerError)
			return
		}
		payload["hourly"] = hours
	}

	writeJSON(w, payload)
}

// handleHistory serves persisted records filtered by weekday or date range.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if v := q.Get("weekday"); v != "" {
		weekday, err := strconv.Atoi(v)
		if err != nil || weekday < 0 || weekday > 6 {
			writeJSONWithStatus(w, map[string]any{"error": "weekday must be 0-6"}, http.StatusBadRequest)
			return
		}
		recs, err := s.records.ByWeekday(weekday)
		if err != nil {
			logger.Error("Web", "History query failed: %v", err)
			writeJSONWithStatus(w, map[string]any{"error": "history unavailable"}, http.StatusInternalServerError)
			return
		}
		weekdayStats, err := s.records.WeekdayStats(weekday)
		if err != nil {
			logger.Error("Web", "Weekday stats query failed: %v", err)
			writeJSONWithStatus(w, map[string]any{"error": "history unavailable"}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"records": recs, "stats": weekdayStats})
		return
	}

	fromStr, toStr := q.Get("from"), q.Get("to")
	if fromStr == "" || toStr == "" {
		writeJSONWithStatus(w, map[string]any{"error": "weekday or from/to required"}, http.StatusBadRequest)
		return
	}
	// Dates mean local calendar days, the same clock the save window and
	// weekday column follow.
	from, err := time.ParseInLocation(time.DateOnly, fromStr, time.Local)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "from must be YYYY-MM-DD"}, http.StatusBadRequest)
		return
	}
	to, err := time.ParseInLocation(time.DateOnly, toStr, time.Local)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "to must be YYYY-MM-DD"}, http.StatusBadRequest)
		return
	}

	// The range is inclusive of the last day.
	recs, err := s.records.ByDateRange(from, to.AddDate(0, 0, 1))
	if err != nil {
		logger.Error("Web", "History query failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "history unavailable"}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"records": recs})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"confidence_threshold": s.tuner.Confidence(),
		"detection_interval":   s.cfg.Model.DetectionInterval,
		"capacity":             s.cfg.Model.Capacity,
		"drawing_enabled":      s.snapshots.DrawingEnabled(),
	})
}

// handleConfigSet adjusts the runtime tunables: confidence threshold and
// overlay drawing. Everything else requires a restart.
func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfidenceThreshold *float64 `json:"confidence_threshold"`
		DrawingEnabled      *bool    `json:"drawing_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid JSON body"}, http.StatusBadRequest)
		return
	}

	if req.ConfidenceThreshold != nil {
		v := *req.ConfidenceThreshold
		if v < 0.1 || v > 0.9 {
			writeJSONWithStatus(w, map[string]any{
				"error": "confidence_threshold must be in [0.1, 0.9]",
			}, http.StatusBadRequest)
			return
		}
		s.tuner.SetConfidence(v)
	}
	if req.DrawingEnabled != nil {
		s.snapshots.SetDrawingEnabled(*req.DrawingEnabled)
	}

	s.handleConfigGet(w, r)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	result := s.throttle.TriggerManualSave()
	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusConflict
	}
	writeJSONWithStatus(w, result, status)
}
