package classifier

import (
	"context"
	"errors"

	"github.com/raaihank/mail-sentinel/internal/config"
	"github.com/raaihank/mail-sentinel/internal/logger"
	"go.uber.org/zap"
)

// ErrNotReady is returned by Classify when no model is loaded.
var ErrNotReady = errors.New("classifier: model not loaded")

// Service serves predictions from a loaded artifact. A service without an
// artifact stays up in degraded mode and reports ErrNotReady.
type Service struct {
	artifact *Artifact
	logger   *logger.Logger
}

// NewService loads the configured model. A load failure is logged, not
// returned, so the server can still answer health checks.
func NewService(cfg config.ClassifierConfig, log *logger.Logger) *Service {
	s := &Service{logger: log}

	artifact, err := Load(cfg.ModelPath)
	if err != nil {
		log.Warn("Classifier model not loaded, running degraded",
			zap.String("model_path", cfg.ModelPath),
			zap.Error(err),
		)
		return s
	}

	s.artifact = artifact
	log.Info("Classifier model loaded",
		zap.String("model_path", cfg.ModelPath),
		zap.Int("features", artifact.Vectorizer.Features()),
		zap.Strings("labels", artifact.Model.Labels),
		zap.Time("trained_at", artifact.TrainedAt),
	)
	return s
}

// NewServiceFromArtifact wraps an in-memory artifact.
func NewServiceFromArtifact(a *Artifact, log *logger.Logger) *Service {
	return &Service{artifact: a, logger: log}
}

// Ready reports whether a model is loaded.
func (s *Service) Ready() bool {
	return s.artifact != nil
}

// Classify predicts the category of normalized text.
func (s *Service) Classify(ctx context.Context, text string) (Prediction, error) {
	if s.artifact == nil {
		return Prediction{}, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	return s.artifact.Predict(text), nil
}

// ModelType names the loaded model, or "" when degraded.
func (s *Service) ModelType() string {
	if s.artifact == nil {
		return ""
	}
	return "LogisticRegression"
}

// Labels returns the categories the model can emit.
func (s *Service) Labels() []string {
	if s.artifact == nil {
		return nil
	}
	return append([]string(nil), s.artifact.Model.Labels...)
}

// Features returns up to n vocabulary terms.
func (s *Service) Features(n int) []string {
	if s.artifact == nil {
		return nil
	}
	terms := s.artifact.Vectorizer.Terms
	if n < len(terms) {
		terms = terms[:n]
	}
	return append([]string(nil), terms...)
}
