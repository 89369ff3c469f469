package broadcast

import (
	"context"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// BroadcastModule owns the socket table shared by the hub and the websocket transport.
type BroadcastModule struct {
	table  *Table
	logger types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule(sendBuffer int, logger types.Logger) *BroadcastModule {
	logger = logger.WithModule("broadcast")
	return &BroadcastModule{
		table:  NewTable(sendBuffer, logger),
		logger: logger,
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module.
func (m *BroadcastModule) Start(_ context.Context) error {
	m.logger.Info("Module started", "sendBuffer", m.table.sendBuffer)
	return nil
}

// Stop closes every socket still connected.
func (m *BroadcastModule) Stop(_ context.Context) error {
	count := m.table.Count()
	m.table.CloseAll()
	m.logger.Info("Module stopped", "closedSockets", count)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_sockets": m.table.Count(),
			"active_groups":     m.table.GroupCount(),
		},
	}
}

// Table returns the socket table for the hub and API modules to use.
func (m *BroadcastModule) Table() *Table {
	return m.table
}
