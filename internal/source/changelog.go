package source

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	"github.com/drblury/syncflow/internal/runtime/jsoncodec"
	"github.com/drblury/syncflow/internal/runtime/logging"
)

// ChangeLog is a table of pending changes. Rows stay until Clear removes them,
// so a crash between publish and clear redelivers the change.
type ChangeLog interface {
	// Pending returns up to limit of the oldest rows whose change id is not
	// in skip.
	Pending(ctx context.Context, limit int, skip []string) ([]entity.ChangeNotification, error)
	Clear(ctx context.Context, changeID string) error
}

const changeObject = "changed_object__c"

type changeRow struct {
	ID        string `json:"Id"`
	SourceID  string `json:"Name"`
	Object    string `json:"object_type__c"`
	Operation string `json:"crud__c"`
}

// RESTChangeLog reads the changed_object__c table through the query API.
// Every row names the changed record and, for updates, carries one boolean
// flag per column that was touched.
type RESTChangeLog struct {
	client *Client
	logger logging.ServiceLogger

	mu      sync.Mutex
	ignored []string
}

func NewRESTChangeLog(client *Client, logger logging.ServiceLogger) *RESTChangeLog {
	return &RESTChangeLog{client: client, logger: logging.OrNop(logger)}
}

// Pending returns up to limit changes in creation order. Rows naming an
// unknown type or operation are logged, left in place for inspection and
// excluded from later polls.
func (l *RESTChangeLog) Pending(ctx context.Context, limit int, skip []string) ([]entity.ChangeNotification, error) {
	soql := "SELECT Id,Name,object_type__c,crud__c FROM " + changeObject
	if excluded := l.excluded(skip); len(excluded) > 0 {
		quoted := make([]string, len(excluded))
		for i, id := range excluded {
			quoted[i] = quote(id)
		}
		soql += " WHERE Id NOT IN (" + strings.Join(quoted, ",") + ")"
	}
	soql += " ORDER BY CreatedDate"
	if limit > 0 {
		soql += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := l.client.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}

	out := make([]entity.ChangeNotification, 0, len(rows))
	for _, raw := range rows {
		var row changeRow
		if err := jsoncodec.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode change row: %w", err)
		}
		n, err := row.notification()
		if err != nil {
			l.logger.Error("change row ignored", err, logging.LogFields{"change_id": row.ID})
			l.ignore(row.ID)
			continue
		}
		if n.Operation == entity.Update {
			if n.ChangedFields, err = l.changedFlags(ctx, row.ID, n.Type); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	return out, nil
}

func (l *RESTChangeLog) ignore(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.ignored, id) {
		l.ignored = append(l.ignored, id)
	}
}

func (l *RESTChangeLog) excluded(skip []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append(slices.Clone(skip), l.ignored...)
}

func (r changeRow) notification() (entity.ChangeNotification, error) {
	t, err := entity.ParseType(r.Object)
	if err != nil {
		return entity.ChangeNotification{}, err
	}
	op, err := entity.ParseOperation(r.Operation)
	if err != nil {
		return entity.ChangeNotification{}, err
	}
	if r.SourceID == "" {
		return entity.ChangeNotification{}, fmt.Errorf("change row %s names no record", r.ID)
	}
	return entity.ChangeNotification{ChangeID: r.ID, Type: t, Operation: op, SourceID: r.SourceID}, nil
}

func (l *RESTChangeLog) changedFlags(ctx context.Context, changeID string, t entity.Type) ([]string, error) {
	flags := envelope.ChangeFlags(t)
	soql := fmt.Sprintf("SELECT %s FROM %s WHERE Id = %s", strings.Join(flags, ","), changeObject, quote(changeID))
	rows, err := l.client.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("read change flags of %s: %w", changeID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var values map[string]any
	if err := jsoncodec.Unmarshal(rows[0], &values); err != nil {
		return nil, fmt.Errorf("decode change flags of %s: %w", changeID, err)
	}
	var changed []string
	for _, flag := range flags {
		if set, _ := values[flag].(bool); set {
			changed = append(changed, flag)
		}
	}
	return changed, nil
}

// Clear deletes the change row.
func (l *RESTChangeLog) Clear(ctx context.Context, changeID string) error {
	if err := l.client.Delete(ctx, changeObject, changeID); err != nil {
		return fmt.Errorf("clear change %s: %w", changeID, err)
	}
	return nil
}
