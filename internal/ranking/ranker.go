package ranking

import (
	"context"
	"errors"
	"math"
	"sync"

	"sharesheet/internal/logging"
	"sharesheet/internal/types"
)

const (
	learningRate = 1e-4
	regularizer  = 1e-4

	weightBias      = "bias"
	weightLaunch    = "launch"
	weightTimeSpent = "time_spent"
	weightRecency   = "recency"
	weightChooser   = "chooser"
)

var ErrFeatureMismatch = errors.New("ranking: feature count does not match")

// TargetFeatures are the normalized usage features of one candidate.
type TargetFeatures struct {
	Recency           float64
	TimeSpent         float64
	Launch            float64
	Chooser           float64
	SelectProbability float64
}

// RankerService predicts selection probabilities and learns from picks.
type RankerService interface {
	Predict(ctx context.Context, targets []TargetFeatures) ([]float64, error)
	Train(ctx context.Context, targets []TargetFeatures, selected int) error
}

// WeightStore persists ranker weights per user.
type WeightStore interface {
	LoadWeights(ctx context.Context, user types.UserHandle) (map[string]float64, bool, error)
	SaveWeights(ctx context.Context, user types.UserHandle, weights map[string]float64) error
}

// Weights of the logistic model.
type Weights struct {
	Bias      float64
	Launch    float64
	TimeSpent float64
	Recency   float64
	Chooser   float64
}

func DefaultWeights() Weights {
	return Weights{
		Bias:      -1.6568,
		Launch:    2.5543,
		TimeSpent: 2.8412,
		Recency:   0.269,
		Chooser:   4.2222,
	}
}

func (w Weights) Probability(f TargetFeatures) float64 {
	z := w.Bias + w.Launch*f.Launch + w.TimeSpent*f.TimeSpent + w.Recency*f.Recency + w.Chooser*f.Chooser
	return 1 / (1 + math.Exp(-z))
}

func (w Weights) toMap() map[string]float64 {
	return map[string]float64{
		weightBias:      w.Bias,
		weightLaunch:    w.Launch,
		weightTimeSpent: w.TimeSpent,
		weightRecency:   w.Recency,
		weightChooser:   w.Chooser,
	}
}

func weightsFromMap(m map[string]float64) Weights {
	w := DefaultWeights()
	if v, ok := m[weightBias]; ok {
		w.Bias = v
	}
	if v, ok := m[weightLaunch]; ok {
		w.Launch = v
	}
	if v, ok := m[weightTimeSpent]; ok {
		w.TimeSpent = v
	}
	if v, ok := m[weightRecency]; ok {
		w.Recency = v
	}
	if v, ok := m[weightChooser]; ok {
		w.Chooser = v
	}
	return w
}

// LocalRankerService is an in-process logistic ranker trained online with
// L2-regularized gradient steps.
type LocalRankerService struct {
	mu      sync.Mutex
	weights Weights
	store   WeightStore
	user    types.UserHandle
	logger  logging.Logger
}

// NewLocalRankerService loads the user's weights from store, starting from
// the defaults when none are saved or loading fails.
func NewLocalRankerService(ctx context.Context, store WeightStore, user types.UserHandle, logger logging.Logger) *LocalRankerService {
	s := &LocalRankerService{
		weights: DefaultWeights(),
		store:   store,
		user:    user,
		logger:  logging.OrNop(logger).With(logging.F("component", "ranker_service")),
	}
	if store == nil {
		return s
	}
	saved, ok, err := store.LoadWeights(ctx, user)
	switch {
	case err != nil:
		s.logger.Warn("ranker_weights_load_failed", logging.Err(err))
	case ok:
		s.weights = weightsFromMap(saved)
	}
	return s
}

func (s *LocalRankerService) Weights() Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights
}

func (s *LocalRankerService) Predict(ctx context.Context, targets []TargetFeatures) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := s.Weights()
	out := make([]float64, len(targets))
	for i, target := range targets {
		out[i] = w.Probability(target)
	}
	return out, nil
}

// Train moves the model towards selected being picked among targets.
func (s *LocalRankerService) Train(ctx context.Context, targets []TargetFeatures, selected int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if selected < 0 || selected >= len(targets) {
		return ErrFeatureMismatch
	}
	s.mu.Lock()
	w := s.weights
	for i, target := range targets {
		label := 0.0
		if i == selected {
			label = 1
		}
		diff := label - w.Probability(target)
		w.Bias += learningRate * diff
		w.Launch += learningRate * (diff*target.Launch - regularizer*w.Launch)
		w.TimeSpent += learningRate * (diff*target.TimeSpent - regularizer*w.TimeSpent)
		w.Recency += learningRate * (diff*target.Recency - regularizer*w.Recency)
		w.Chooser += learningRate * (diff*target.Chooser - regularizer*w.Chooser)
	}
	s.weights = w
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.SaveWeights(ctx, s.user, w.toMap())
}
