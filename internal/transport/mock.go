package transport

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// MockTransport simulates a provider for dry runs: SuccessRate of sends succeed,
// the rest fail transiently. Invalid addresses always fail permanently.
type MockTransport struct {
	SuccessRate float64
	Latency     time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockTransport creates a mock with 90% success, the rate the old sender used.
func NewMockTransport(seed int64) *MockTransport {
	return &MockTransport{
		SuccessRate: 0.9,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

// Send simulates one delivery.
func (m *MockTransport) Send(ctx context.Context, job model.EmailJob) error {
	if err := ValidateEmail(job.Target.Email); err != nil {
		return appErrors.Permanent(err)
	}

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return appErrors.Transient(ctx.Err())
		}
	}

	m.mu.Lock()
	r := m.rnd.Float64()
	m.mu.Unlock()

	if r < m.SuccessRate {
		return nil
	}
	return appErrors.Transient(errors.New("mock sending failed"))
}
