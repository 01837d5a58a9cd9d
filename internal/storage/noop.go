package storage

import "github.com/bridgedesk/backend/internal/types"

// Store defines the storage interface
type Store interface {
	SaveSessionRecord(record types.SessionRecord) error
	GetSessionRecords(dateKey string) ([]types.SessionRecord, error)
	GetAgentSessionsByDate(agentID, dateKey string) ([]types.SessionRecord, error)
	TruncateAll() error
}

// NoopStore is a no-op implementation when DynamoDB is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveSessionRecord(_ types.SessionRecord) error { return nil }
func (s *NoopStore) GetSessionRecords(_ string) ([]types.SessionRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetAgentSessionsByDate(_, _ string) ([]types.SessionRecord, error) {
	return nil, nil
}
func (s *NoopStore) TruncateAll() error { return nil }
