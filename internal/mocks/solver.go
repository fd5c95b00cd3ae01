package mocks

import (
	"context"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/stretchr/testify/mock"
)

// MockSolver is a mock implementation of captcha.Solver
type MockSolver struct {
	mock.Mock
}

// Submit mocks the Submit method
func (m *MockSolver) Submit(ctx context.Context, task captcha.Task) (string, error) {
	args := m.Called(ctx, task)
	return args.String(0), args.Error(1)
}

// Poll mocks the Poll method
func (m *MockSolver) Poll(ctx context.Context, jobID string) (string, bool, error) {
	args := m.Called(ctx, jobID)
	return args.String(0), args.Bool(1), args.Error(2)
}

// Balance mocks the Balance method
func (m *MockSolver) Balance(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}
