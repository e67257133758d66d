package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hookline-dev/hookline/pkg/event"
)

// PostgresInstanceSource reads action instances and their activation modes
// from the platform database. Instance CRUD belongs to the management
// service; this source is strictly read-only.
type PostgresInstanceSource struct {
	db *sql.DB
}

// NewPostgresInstanceSource creates a read-only source over db.
func NewPostgresInstanceSource(db *sql.DB) *PostgresInstanceSource {
	return &PostgresInstanceSource{db: db}
}

const instanceColumns = `
	i.id, i.area_id, i.user_id, i.provider, i.definition_key, i.enabled, i.params,
	m.id, m.mode_type, m.enabled`

// EnabledInstances implements InstanceSource.
func (s *PostgresInstanceSource) EnabledInstances(ctx context.Context, provider event.Provider, userID string) ([]*ActionInstance, error) {
	query := `
		SELECT` + instanceColumns + `
		FROM action_instances i
		LEFT JOIN activation_modes m ON m.instance_id = i.id
		WHERE i.enabled = TRUE AND i.provider = $1 AND ($2 = '' OR i.user_id = $2)
		ORDER BY i.id
	`
	rows, err := s.db.QueryContext(ctx, query, string(provider), userID)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*ActionInstance)
	var order []string
	for rows.Next() {
		inst, mode, err := scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		existing, ok := byID[inst.ID]
		if !ok {
			byID[inst.ID] = inst
			order = append(order, inst.ID)
			existing = inst
		}
		if mode != nil {
			existing.Modes = append(existing.Modes, *mode)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*ActionInstance, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// Instance implements InstanceSource.
func (s *PostgresInstanceSource) Instance(ctx context.Context, id string) (*ActionInstance, error) {
	query := `
		SELECT` + instanceColumns + `
		FROM action_instances i
		LEFT JOIN activation_modes m ON m.instance_id = i.id
		WHERE i.id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query instance %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var inst *ActionInstance
	for rows.Next() {
		row, mode, err := scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			inst = row
		}
		if mode != nil {
			inst.Modes = append(inst.Modes, *mode)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("instance %s not found", id)
	}
	return inst, nil
}

func scanInstanceRow(rows *sql.Rows) (*ActionInstance, *ActivationMode, error) {
	var (
		id, areaID, userID, provider, definitionKey string
		enabled                                     bool
		paramsJSON                                  []byte
		modeID, modeType                            sql.NullString
		modeEnabled                                 sql.NullBool
	)
	if err := rows.Scan(&id, &areaID, &userID, &provider, &definitionKey, &enabled,
		&paramsJSON, &modeID, &modeType, &modeEnabled); err != nil {
		return nil, nil, err
	}

	var params map[string]any
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &params); err != nil {
			return nil, nil, fmt.Errorf("corrupt params JSON for instance %s: %w", id, err)
		}
	}

	inst := &ActionInstance{
		ID:            id,
		AreaID:        areaID,
		UserID:        userID,
		Provider:      event.Provider(provider),
		DefinitionKey: definitionKey,
		Enabled:       enabled,
		Params:        params,
	}

	var mode *ActivationMode
	if modeID.Valid {
		mode = &ActivationMode{
			ID:      modeID.String,
			Type:    ModeType(modeType.String),
			Enabled: modeEnabled.Bool,
		}
	}
	return inst, mode, nil
}
