package mocks

import (
	"context"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/stretchr/testify/mock"
)

// MockBrowser is a mock implementation of session.Browser
type MockBrowser struct {
	mock.Mock
}

// Open mocks the Open method
func (m *MockBrowser) Open(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

// TypeText mocks the TypeText method
func (m *MockBrowser) TypeText(ctx context.Context, text string, perChar func() time.Duration) error {
	args := m.Called(ctx, text, perChar)
	return args.Error(0)
}

// ScanResults mocks the ScanResults method
func (m *MockBrowser) ScanResults(ctx context.Context, target string) (session.ScanReport, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(session.ScanReport), args.Error(1)
}

// HoverAndClick mocks the HoverAndClick method
func (m *MockBrowser) HoverAndClick(ctx context.Context, targetURL string) error {
	args := m.Called(ctx, targetURL)
	return args.Error(0)
}

// Scroll mocks the Scroll method
func (m *MockBrowser) Scroll(ctx context.Context, up bool) error {
	args := m.Called(ctx, up)
	return args.Error(0)
}

// CaptureScreenshot mocks the CaptureScreenshot method
func (m *MockBrowser) CaptureScreenshot(ctx context.Context, label string) (string, error) {
	args := m.Called(ctx, label)
	return args.String(0), args.Error(1)
}

// SubmitChallengeToken mocks the SubmitChallengeToken method
func (m *MockBrowser) SubmitChallengeToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// DetectChallenge mocks the DetectChallenge method
func (m *MockBrowser) DetectChallenge(ctx context.Context) (captcha.Challenge, error) {
	args := m.Called(ctx)
	return args.Get(0).(captcha.Challenge), args.Error(1)
}

// Close mocks the Close method
func (m *MockBrowser) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Factory returns a session.BrowserFactory that always hands out m
func (m *MockBrowser) Factory() session.BrowserFactory {
	return func(context.Context, session.Identity) (session.Browser, error) {
		return m, nil
	}
}
