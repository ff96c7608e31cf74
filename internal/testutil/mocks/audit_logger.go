// Package mocks holds testify mocks for service collaborators.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
)

// AuditLogger is a mock of the audit trail writer.
type AuditLogger struct {
	mock.Mock
}

func (m *AuditLogger) Log(ctx context.Context, entry auditsvc.Entry) (*audit.Event, error) {
	args := m.Called(ctx, entry)
	if ev := args.Get(0); ev != nil {
		return ev.(*audit.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

// PassThroughUnit runs fn directly without any locking.
type PassThroughUnit struct{}

func (PassThroughUnit) WithinCase(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
