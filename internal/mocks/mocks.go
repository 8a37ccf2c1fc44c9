// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
)

// -- Browser Mock --

// MockBrowser mocks the surface.Browser interface.
type MockBrowser struct {
	mock.Mock
}

func (m *MockBrowser) NewIsolatedContext(ctx context.Context) (surface.Page, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(surface.Page), args.Error(1)
}

func (m *MockBrowser) CloseContext(ctx context.Context, page surface.Page) error {
	return m.Called(ctx, page).Error(0)
}

// -- Session Runner Mock --

// MockSessionRunner mocks orchestrator.SessionRunner.
type MockSessionRunner struct {
	mock.Mock
}

func (m *MockSessionRunner) RunSession(ctx context.Context, page surface.Page, index int) error {
	return m.Called(ctx, page, index).Error(0)
}

// -- Recorder Mock --

// MockRecorder mocks orchestrator.Recorder and workflow.Recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) SessionStarted() { m.Called() }

func (m *MockRecorder) SessionFinished(succeeded bool, elapsed time.Duration) {
	m.Called(succeeded, elapsed)
}

func (m *MockRecorder) AttemptRetried()     { m.Called() }
func (m *MockRecorder) MessageConfirmed()   { m.Called() }
func (m *MockRecorder) ConfirmationMissed() { m.Called() }
