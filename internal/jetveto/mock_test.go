package jetveto

import (
	"github.com/stretchr/testify/mock"
)

// mockEvaluator implements Evaluator for testing.
type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) Evaluate(key string, eta, phi float64) (float64, error) {
	args := m.Called(key, eta, phi)
	return args.Get(0).(float64), args.Error(1)
}

// mapEvaluator scores by eta only and records every query.
type mapEvaluator struct {
	scores map[float64]float64
	calls  []call
}

type call struct {
	key      string
	eta, phi float64
}

func (m *mapEvaluator) Evaluate(key string, eta, phi float64) (float64, error) {
	m.calls = append(m.calls, call{key: key, eta: eta, phi: phi})
	return m.scores[eta], nil
}
