package provider

import (
	"context"
	"sync"
)

// Mock is a scriptable provider used by tests.
type Mock struct {
	NameValue   string
	Candidates  []Candidate
	SearchErr   error
	DownloadErr error
	Body        []byte
	SearchDelay func(ctx context.Context) error
	InitErr     error

	mu            sync.Mutex
	searchCalls   int
	downloadCalls int
}

// NewMock creates a mock provider with canned candidates.
func NewMock(name string, candidates ...Candidate) *Mock {
	for i := range candidates {
		candidates[i].ProviderName = name
	}
	return &Mock{NameValue: name, Candidates: candidates}
}

func (m *Mock) Name() string        { return m.NameValue }
func (m *Mock) DisplayName() string { return "Mock " + m.NameValue }

func (m *Mock) Initialize(ctx context.Context) error { return m.InitErr }
func (m *Mock) Terminate(ctx context.Context) error  { return nil }

func (m *Mock) Search(ctx context.Context, query VideoQuery) ([]Candidate, error) {
	m.mu.Lock()
	m.searchCalls++
	m.mu.Unlock()

	if m.SearchDelay != nil {
		if err := m.SearchDelay(ctx); err != nil {
			return nil, err
		}
	}
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	out := make([]Candidate, len(m.Candidates))
	copy(out, m.Candidates)
	return out, nil
}

func (m *Mock) Download(ctx context.Context, candidate Candidate) (*Payload, error) {
	m.mu.Lock()
	m.downloadCalls++
	m.mu.Unlock()

	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}
	body := m.Body
	if body == nil {
		body = []byte("1\n00:00:01,000 --> 00:00:02,000\nmock line\n")
	}
	return &Payload{Data: body, Format: candidate.Format, Filename: candidate.Filename}, nil
}

// SearchCalls returns how many times Search ran.
func (m *Mock) SearchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls
}

// DownloadCalls returns how many times Download ran.
func (m *Mock) DownloadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloadCalls
}
