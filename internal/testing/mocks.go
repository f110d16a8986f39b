package testing

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/aristath/quantlab/internal/domain"
)

// MockStrategyModel is a testify mock of domain.StrategyModel
type MockStrategyModel struct {
	mock.Mock
}

// Fit records the call
func (m *MockStrategyModel) Fit(train *domain.ReturnSeries) error {
	args := m.Called(train)
	return args.Error(0)
}

// Predict records the call
func (m *MockStrategyModel) Predict(test *domain.ReturnSeries) (domain.PredictionSeries, error) {
	args := m.Called(test)
	if p, ok := args.Get(0).(domain.PredictionSeries); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// StubModel emits a constant signal. Errors set with SetFitError or
// SetPredictError are returned by every call.
type StubModel struct {
	mu         sync.Mutex
	signal     float64
	fitErr     error
	predictErr error
	fits       int
}

// NewStubModel creates a stub that always predicts signal
func NewStubModel(signal float64) *StubModel {
	return &StubModel{signal: signal}
}

// SetFitError makes Fit fail
func (m *StubModel) SetFitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fitErr = err
}

// SetPredictError makes Predict fail
func (m *StubModel) SetPredictError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictErr = err
}

// Fits returns how many times Fit was called
func (m *StubModel) Fits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fits
}

// Fit implements domain.StrategyModel
func (m *StubModel) Fit(*domain.ReturnSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fits++
	return m.fitErr
}

// Predict implements domain.StrategyModel
func (m *StubModel) Predict(test *domain.ReturnSeries) (domain.PredictionSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.predictErr != nil {
		return nil, m.predictErr
	}
	out := make(domain.PredictionSeries, test.Len())
	for i := range out {
		out[i] = m.signal
	}
	return out, nil
}

// StubFactory returns a factory building a fresh StubModel per call
func StubFactory(signal float64) domain.ModelFactory {
	return func() domain.StrategyModel { return NewStubModel(signal) }
}
