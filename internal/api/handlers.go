package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/mail-sentinel/internal/cache"
	"github.com/raaihank/mail-sentinel/internal/classifier"
	"github.com/raaihank/mail-sentinel/internal/logger"
	"github.com/raaihank/mail-sentinel/internal/pii"
	"github.com/raaihank/mail-sentinel/internal/store"
	"github.com/raaihank/mail-sentinel/internal/textnorm"
	"github.com/raaihank/mail-sentinel/internal/websocket"
)

type classifyRequest struct {
	EmailBody *string `json:"email_body"`
	Subject   *string `json:"subject"`
	Body      *string `json:"body"`
}

// text returns the email to classify. A subject and body are joined with a
// single space.
func (req classifyRequest) text() (string, bool) {
	if req.EmailBody != nil {
		return *req.EmailBody, true
	}
	switch {
	case req.Subject != nil && req.Body != nil:
		return *req.Subject + " " + *req.Body, true
	case req.Subject != nil:
		return *req.Subject, true
	case req.Body != nil:
		return *req.Body, true
	}
	return "", false
}

type maskedEntity struct {
	Position       [2]int `json:"position"`
	Classification string `json:"classification"`
	Entity         string `json:"entity"`
}

type classifyResponse struct {
	InputEmailBody       string         `json:"input_email_body"`
	ListOfMaskedEntities []maskedEntity `json:"list_of_masked_entities"`
	MaskedEmail          string         `json:"masked_email"`
	CategoryOfTheEmail   string         `json:"category_of_the_email"`
}

type maskRequest struct {
	Text *string `json:"text"`
}

// handleClassify masks PII in an email and predicts its category
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req classifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	text, ok := req.text()
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "email_body is required")
		return
	}

	if !s.classifier.Ready() {
		writeError(w, http.StatusServiceUnavailable, "classifier model is not loaded")
		return
	}

	masked := s.detector.Mask(text)
	cleaned := textnorm.Normalize(masked.MaskedText)

	prediction, cached, err := s.predict(r, cleaned)
	if err != nil {
		if errors.Is(err, classifier.ErrNotReady) {
			writeError(w, http.StatusServiceUnavailable, "classifier model is not loaded")
			return
		}
		log.Error("Classification failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "classification failed")
		return
	}

	resp := classifyResponse{
		InputEmailBody:       text,
		ListOfMaskedEntities: make([]maskedEntity, len(masked.Entities)),
		MaskedEmail:          masked.MaskedText,
		CategoryOfTheEmail:   prediction.Label,
	}
	for i, e := range masked.Entities {
		resp.ListOfMaskedEntities[i] = maskedEntity{
			Position:       [2]int{e.Start, e.End},
			Classification: e.Label.String(),
			Entity:         e.Text,
		}
	}

	s.classifications.Add(1)
	s.maskedEntities.Add(int64(len(masked.Entities)))
	elapsed := time.Since(start)

	log.Info("Email classified",
		zap.String("category", prediction.Label),
		zap.Float64("confidence", prediction.Confidence),
		zap.Int("masked_entities", len(masked.Entities)),
		zap.Strings("labels", masked.Labels()),
		zap.Bool("cached", cached),
		zap.Duration("duration", elapsed),
	)

	s.record(r, requestID, text, masked, prediction, log)

	if s.hub != nil {
		s.hub.Broadcast(websocket.Event{
			Type:      websocket.EventTypeClassification,
			RequestID: requestID,
			Data: websocket.ClassificationEvent{
				RequestID:    requestID,
				Category:     prediction.Label,
				Confidence:   prediction.Confidence,
				MaskedEmail:  masked.MaskedText,
				Entities:     masked.Labels(),
				Cached:       cached,
				ClientIP:     websocket.ClientIP(r),
				ProcessingMS: float64(elapsed.Microseconds()) / 1000,
			},
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// predict consults the result cache before the classifier.
func (s *Server) predict(r *http.Request, cleaned string) (classifier.Prediction, bool, error) {
	if entry, ok := s.cache.Get(r.Context(), cleaned); ok {
		s.cacheHits.Add(1)
		return classifier.Prediction{Label: entry.Category, Confidence: entry.Confidence}, true, nil
	}

	prediction, err := s.classifier.Classify(r.Context(), cleaned)
	if err != nil {
		return classifier.Prediction{}, false, err
	}

	s.cache.Set(r.Context(), cleaned, cache.Entry{Category: prediction.Label, Confidence: prediction.Confidence})
	return prediction, false, nil
}

// record writes the audit row. Failures are logged only.
func (s *Server) record(r *http.Request, requestID, text string, masked pii.Result, p classifier.Prediction, log *logger.Logger) {
	if s.store == nil {
		return
	}

	refs := make(store.EntityList, len(masked.Entities))
	for i, e := range masked.Entities {
		refs[i] = store.EntityRef{Label: e.Label.String(), Start: e.Start, End: e.End}
	}

	err := s.store.Insert(r.Context(), &store.Classification{
		RequestID:   requestID,
		TextHash:    store.HashText(text),
		MaskedEmail: masked.MaskedText,
		Category:    p.Label,
		Confidence:  p.Confidence,
		EntityCount: len(refs),
		Entities:    refs,
	})
	if err != nil {
		log.Warn("Failed to record classification", zap.Error(err))
	}
}

// handleMask masks PII without classifying
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusUnprocessableEntity, "text is required")
		return
	}

	result := s.detector.Mask(*req.Text)
	s.maskedEntities.Add(int64(len(result.Entities)))
	writeJSON(w, http.StatusOK, result)
}

// handleHealth reports whether the classifier is ready
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	features := s.classifier.Features(5)
	if features == nil {
		features = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     s.status(),
		"ready":      s.classifier.Ready(),
		"model_type": s.classifier.ModelType(),
		"features":   features,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo describes the running service
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":               "mail-sentinel",
		"version":            version,
		"privacy_enabled":    s.detector.Enabled(),
		"detectors":          s.detector.EnabledCategories(),
		"categories":         s.classifier.Labels(),
		"cache_enabled":      s.cache != nil,
		"store_enabled":      s.store != nil,
		"websocket_enabled":  s.hub != nil,
		"rate_limit_enabled": s.limiter != nil,
	}
	if s.limiter != nil {
		info["rate_limit_per_min"] = s.config.RateLimit.RequestsPerMin
	}
	writeJSON(w, http.StatusOK, info)
}

// handleStats reports counters and, when available, audit and cache stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithRequestID(getRequestID(r.Context()))
	stats := map[string]any{
		"uptime":                time.Since(s.startedAt).Round(time.Second).String(),
		"total_classifications": s.classifications.Load(),
		"total_masked_entities": s.maskedEntities.Load(),
		"cache_hits":            s.cacheHits.Load(),
	}

	if s.hub != nil {
		stats["websocket"] = s.hub.GetStats()
	}

	if s.cache != nil {
		if cs, err := s.cache.Stats(r.Context()); err != nil {
			log.Warn("Failed to read cache stats", zap.Error(err))
		} else {
			stats["cache"] = cs
		}
	}

	if s.store != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("recent"))
		if counts, err := s.store.CategoryCounts(r.Context()); err != nil {
			log.Warn("Failed to read category counts", zap.Error(err))
		} else {
			stats["categories"] = counts
		}
		if recent, err := s.store.Recent(r.Context(), limit); err != nil {
			log.Warn("Failed to read recent classifications", zap.Error(err))
		} else {
			stats["recent"] = recent
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// decode reads a JSON body bounded by the configured size. It writes a 422
// and returns false when the body is not a JSON object.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
