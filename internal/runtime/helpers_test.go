package runtime

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// channelConfig returns a config on an exchange private to the test.
func channelConfig(t *testing.T, service string) *configpkg.Config {
	t.Helper()
	return &configpkg.Config{
		PubSubSystem: configpkg.PubSubChannel,
		Exchange:     "test-" + strings.ReplaceAll(t.Name(), "/", "-"),
		ServiceName:  service,
		Services:     []string{"crm", "pos"},
	}
}

func testDeps(deps ServiceDependencies) ServiceDependencies {
	if deps.Registerer == nil {
		reg := prometheus.NewRegistry()
		deps.Registerer, deps.Gatherer = reg, reg
	}
	return deps
}

// memoryChangeLog hands out its rows until they are cleared.
type memoryChangeLog struct {
	mu      sync.Mutex
	pending []entity.ChangeNotification
	cleared []string
}

func (l *memoryChangeLog) Pending(_ context.Context, limit int, skip []string) ([]entity.ChangeNotification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []entity.ChangeNotification
	for _, n := range l.pending {
		if len(out) == limit {
			break
		}
		if !slices.Contains(skip, n.ChangeID) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (l *memoryChangeLog) Clear(_ context.Context, changeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, n := range l.pending {
		if n.ChangeID == changeID {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			break
		}
	}
	l.cleared = append(l.cleared, changeID)
	return nil
}

func (l *memoryChangeLog) Cleared() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.cleared...)
}

type memoryRecords struct {
	records map[string]envelope.Record
}

func (m *memoryRecords) Fetch(_ context.Context, _ entity.Type, id string, _ []string) (envelope.Record, error) {
	return m.records[id], nil
}

func userRecord(t *testing.T, raw string) envelope.Record {
	t.Helper()
	rec, err := envelope.DecodeRecord(entity.User, []byte(raw))
	require.NoError(t, err)
	return rec
}
