package payment

import (
	"context"
	"sync"

	"africorex-crm/internal/domain"
)

// MockProvider is an in-memory provider double implementing StatusChecker.
// Tests and local development seed it with per-correlation-ref outcomes;
// unseeded refs report pending, like a provider that has not decided yet.
type MockProvider struct {
	mu       sync.RWMutex
	outcomes map[string]domain.AttemptStatus
	refs     map[string]string
	err      error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		outcomes: make(map[string]domain.AttemptStatus),
		refs:     make(map[string]string),
	}
}

// SetOutcome records what the provider will report for the correlation ref.
func (m *MockProvider) SetOutcome(correlationRef string, status domain.AttemptStatus, providerRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[correlationRef] = status
	m.refs[correlationRef] = providerRef
}

// FailWith makes every status check return err until cleared with nil.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockProvider) CheckStatus(ctx context.Context, correlationRef string) (domain.AttemptStatus, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return domain.AttemptPending, "", m.err
	}
	status, ok := m.outcomes[correlationRef]
	if !ok {
		return domain.AttemptPending, "", nil
	}
	return status, m.refs[correlationRef], nil
}

var _ StatusChecker = (*MockProvider)(nil)
