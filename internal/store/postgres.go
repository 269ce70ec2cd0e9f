package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/model"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_users (
	project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id    UUID NOT NULL,
	PRIMARY KEY (project_id, user_id)
);

CREATE TABLE IF NOT EXISTS blocks (
	id           UUID PRIMARY KEY,
	project_id   UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	custom_name  TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	docker_image TEXT NOT NULL,
	source_url   TEXT NOT NULL DEFAULT '',
	pos_x        DOUBLE PRECISION NOT NULL DEFAULT 0,
	pos_y        DOUBLE PRECISION NOT NULL DEFAULT 0,
	UNIQUE (project_id, custom_name)
);

CREATE TABLE IF NOT EXISTS entrypoints (
	id          UUID PRIMARY KEY,
	block_id    UUID NOT NULL REFERENCES blocks(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	envs        JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS input_outputs (
	id            UUID PRIMARY KEY,
	entrypoint_id UUID NOT NULL REFERENCES entrypoints(id) ON DELETE CASCADE,
	direction     TEXT NOT NULL,
	name          TEXT NOT NULL,
	data_type     TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	config        JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS block_dependencies (
	upstream_block_id   UUID NOT NULL REFERENCES blocks(id) ON DELETE CASCADE,
	upstream_output_id  UUID NOT NULL REFERENCES input_outputs(id) ON DELETE CASCADE,
	downstream_block_id UUID NOT NULL REFERENCES blocks(id) ON DELETE CASCADE,
	downstream_input_id UUID NOT NULL REFERENCES input_outputs(id) ON DELETE CASCADE,
	PRIMARY KEY (upstream_block_id, upstream_output_id, downstream_block_id, downstream_input_id)
);
`

// portOrder mirrors the canvas ordering: FILE before PGTABLE before
// CUSTOM, then by name.
const portOrder = `ORDER BY CASE data_type WHEN 'FILE' THEN 1 WHEN 'PGTABLE' THEN 2 ELSE 3 END, name`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres implements Store on a PostgreSQL database via database/sql
// with the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
	q  querier
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens a connection pool for the given DSN.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Postgres{db: db, q: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// InTx runs fn inside a database transaction. Calls nested inside an
// open transaction reuse it.
func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if _, ok := p.q.(*sql.Tx); ok {
		return fn(ctx, p)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, &Postgres{db: p.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mapErr translates driver errors onto the domain taxonomy.
func mapErr(err error, notFound string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.CodeNotFound, notFound, args...)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apperr.Wrap(apperr.CodeConflict, "entity already exists", err)
		case "23503": // foreign_key_violation
			return apperr.Wrap(apperr.CodeConflict, "referenced entity does not exist", err)
		case "23502": // not_null_violation
			return apperr.Wrap(apperr.CodeUnprocessable, "required field is missing", err)
		}
	}
	return apperr.Wrap(apperr.CodeInternal, "database error", err)
}

func marshalConfig(cfg model.ConfigMap) ([]byte, error) {
	if cfg == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(cfg)
}

func unmarshalConfig(data []byte) (model.ConfigMap, error) {
	var cfg model.ConfigMap
	if len(data) == 0 {
		return model.ConfigMap{}, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// ── Projects ────────────────────────────────────────────────

func (p *Postgres) CreateProject(ctx context.Context, project *model.Project) error {
	return p.InTx(ctx, func(ctx context.Context, tx Store) error {
		pg := tx.(*Postgres)
		_, err := pg.q.ExecContext(ctx,
			`INSERT INTO projects (id, name, created_at) VALUES ($1, $2, $3)`,
			project.ID, project.Name, project.CreatedAt)
		if err != nil {
			return mapErr(err, "project %s not found", project.ID)
		}
		for _, userID := range project.UserIDs {
			if err := pg.AddProjectUser(ctx, project.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	project := &model.Project{ID: id}
	err := p.q.QueryRowContext(ctx,
		`SELECT name, created_at FROM projects WHERE id = $1`, id).
		Scan(&project.Name, &project.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "project %s not found", id)
	}

	rows, err := p.q.QueryContext(ctx,
		`SELECT user_id FROM project_users WHERE project_id = $1 ORDER BY user_id`, id)
	if err != nil {
		return nil, mapErr(err, "project %s not found", id)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, mapErr(err, "project %s not found", id)
		}
		project.UserIDs = append(project.UserIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "project %s not found", id)
	}

	blocks, err := p.loadBlocks(ctx, `WHERE b.project_id = $1 ORDER BY b.custom_name, b.id`, id)
	if err != nil {
		return nil, err
	}
	project.Blocks = blocks
	return project, nil
}

func (p *Postgres) ListProjectsForUser(ctx context.Context, userID uuid.UUID) ([]*model.Project, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT p.id FROM projects p
		 JOIN project_users pu ON pu.project_id = p.id
		 WHERE pu.user_id = $1
		 ORDER BY p.created_at, p.id`, userID)
	if err != nil {
		return nil, mapErr(err, "projects for user %s not found", userID)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr(err, "projects for user %s not found", userID)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "projects for user %s not found", userID)
	}

	out := make([]*model.Project, 0, len(ids))
	for _, id := range ids {
		project, err := p.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, project)
	}
	return out, nil
}

func (p *Postgres) RenameProject(ctx context.Context, id uuid.UUID, name string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE projects SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return mapErr(err, "project %s not found", id)
	}
	return requireAffected(res, apperr.Newf(apperr.CodeNotFound, "project %s not found", id))
}

func (p *Postgres) DeleteProject(ctx context.Context, id uuid.UUID) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "project %s not found", id)
	}
	return requireAffected(res, apperr.Newf(apperr.CodeNotFound, "project %s not found", id))
}

func (p *Postgres) AddProjectUser(ctx context.Context, projectID, userID uuid.UUID) error {
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO project_users (project_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, projectID, userID)
	return mapErr(err, "project %s not found", projectID)
}

func (p *Postgres) RemoveProjectUser(ctx context.Context, projectID, userID uuid.UUID) error {
	_, err := p.q.ExecContext(ctx,
		`DELETE FROM project_users WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	return mapErr(err, "project %s not found", projectID)
}

// ── Blocks ──────────────────────────────────────────────────

func (p *Postgres) CreateBlock(ctx context.Context, block *model.Block) error {
	return p.InTx(ctx, func(ctx context.Context, tx Store) error {
		pg := tx.(*Postgres)

		_, err := pg.q.ExecContext(ctx,
			`INSERT INTO blocks
			 (id, project_id, name, custom_name, description, author, docker_image, source_url, pos_x, pos_y)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			block.ID, block.ProjectID, block.Name, block.CustomName, block.Description,
			block.Author, block.DockerImage, block.SourceURL, block.PosX, block.PosY)
		if err != nil {
			return mapErr(err, "block %s not found", block.ID)
		}

		if block.Entrypoint == nil {
			return nil
		}
		ep := block.Entrypoint
		envs, err := marshalConfig(ep.Envs)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to encode envs", err)
		}
		_, err = pg.q.ExecContext(ctx,
			`INSERT INTO entrypoints (id, block_id, name, description, envs)
			 VALUES ($1, $2, $3, $4, $5)`,
			ep.ID, block.ID, ep.Name, ep.Description, envs)
		if err != nil {
			return mapErr(err, "entrypoint %s not found", ep.ID)
		}

		for _, port := range ep.Ports {
			cfg, err := marshalConfig(port.Config)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to encode port config", err)
			}
			_, err = pg.q.ExecContext(ctx,
				`INSERT INTO input_outputs (id, entrypoint_id, direction, name, data_type, description, config)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				port.ID, ep.ID, port.Direction, port.Name, port.DataType, port.Description, cfg)
			if err != nil {
				return mapErr(err, "port %s not found", port.ID)
			}
		}
		return nil
	})
}

func (p *Postgres) GetBlock(ctx context.Context, id uuid.UUID) (*model.Block, error) {
	blocks, err := p.loadBlocks(ctx, `WHERE b.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, apperr.Newf(apperr.CodeNotFound, "block %s not found", id)
	}
	return blocks[0], nil
}

// loadBlocks fetches blocks matching the WHERE clause with their
// entrypoints and ordered ports.
func (p *Postgres) loadBlocks(ctx context.Context, where string, args ...any) ([]*model.Block, error) {
	rows, err := p.q.QueryContext(ctx, fmt.Sprintf(
		`SELECT b.id, b.project_id, b.name, b.custom_name, b.description, b.author,
		        b.docker_image, b.source_url, b.pos_x, b.pos_y,
		        e.id, e.name, e.description, e.envs
		 FROM blocks b
		 JOIN entrypoints e ON e.block_id = b.id
		 %s`, where), args...)
	if err != nil {
		return nil, mapErr(err, "blocks not found")
	}
	defer func() { _ = rows.Close() }()

	var blocks []*model.Block
	for rows.Next() {
		var (
			b    model.Block
			ep   model.Entrypoint
			envs []byte
		)
		if err := rows.Scan(
			&b.ID, &b.ProjectID, &b.Name, &b.CustomName, &b.Description, &b.Author,
			&b.DockerImage, &b.SourceURL, &b.PosX, &b.PosY,
			&ep.ID, &ep.Name, &ep.Description, &envs,
		); err != nil {
			return nil, mapErr(err, "blocks not found")
		}
		ep.BlockID = b.ID
		if ep.Envs, err = unmarshalConfig(envs); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to decode envs", err)
		}
		b.Entrypoint = &ep
		blocks = append(blocks, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "blocks not found")
	}

	for _, b := range blocks {
		if err := p.loadPorts(ctx, b.Entrypoint); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

func (p *Postgres) loadPorts(ctx context.Context, ep *model.Entrypoint) error {
	rows, err := p.q.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, direction, name, data_type, description, config
		 FROM input_outputs WHERE entrypoint_id = $1 %s`, portOrder), ep.ID)
	if err != nil {
		return mapErr(err, "ports of entrypoint %s not found", ep.ID)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			port model.InputOutput
			cfg  []byte
		)
		if err := rows.Scan(&port.ID, &port.Direction, &port.Name,
			&port.DataType, &port.Description, &cfg); err != nil {
			return mapErr(err, "ports of entrypoint %s not found", ep.ID)
		}
		port.EntrypointID = ep.ID
		if port.Config, err = unmarshalConfig(cfg); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "failed to decode port config", err)
		}
		ep.Ports = append(ep.Ports, &port)
	}
	return rows.Err()
}

func (p *Postgres) UpdateBlockMeta(ctx context.Context, id uuid.UUID, update BlockMetaUpdate) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE blocks SET
		 custom_name = COALESCE($2, custom_name),
		 pos_x = COALESCE($3, pos_x),
		 pos_y = COALESCE($4, pos_y)
		 WHERE id = $1`,
		id, update.CustomName, update.PosX, update.PosY)
	if err != nil {
		return mapErr(err, "block %s not found", id)
	}
	return requireAffected(res, apperr.Newf(apperr.CodeNotFound, "block %s not found", id))
}

func (p *Postgres) DeleteBlock(ctx context.Context, id uuid.UUID) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM blocks WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "block %s not found", id)
	}
	return requireAffected(res, apperr.Newf(apperr.CodeNotFound, "block %s not found", id))
}

// ── Ports ───────────────────────────────────────────────────

func (p *Postgres) ResolvePorts(ctx context.Context, ids []uuid.UUID) ([]*PortRef, error) {
	out := make([]*PortRef, 0, len(ids))
	for _, id := range ids {
		var (
			port model.InputOutput
			ref  PortRef
			cfg  []byte
		)
		err := p.q.QueryRowContext(ctx,
			`SELECT io.id, io.entrypoint_id, io.direction, io.name, io.data_type, io.description, io.config,
			        b.id, b.project_id
			 FROM input_outputs io
			 JOIN entrypoints e ON e.id = io.entrypoint_id
			 JOIN blocks b ON b.id = e.block_id
			 WHERE io.id = $1`, id).
			Scan(&port.ID, &port.EntrypointID, &port.Direction, &port.Name,
				&port.DataType, &port.Description, &cfg, &ref.BlockID, &ref.ProjectID)
		if err != nil {
			return nil, mapErr(err, "port %s not found", id)
		}
		if port.Config, err = unmarshalConfig(cfg); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "failed to decode port config", err)
		}
		ref.Port = &port
		out = append(out, &ref)
	}
	return out, nil
}

func (p *Postgres) UpdatePortConfigs(ctx context.Context, configs map[uuid.UUID]model.ConfigMap) error {
	return p.InTx(ctx, func(ctx context.Context, tx Store) error {
		pg := tx.(*Postgres)
		for id, cfg := range configs {
			data, err := marshalConfig(cfg)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "failed to encode port config", err)
			}
			res, err := pg.q.ExecContext(ctx,
				`UPDATE input_outputs SET config = $2 WHERE id = $1`, id, data)
			if err != nil {
				return mapErr(err, "port %s not found", id)
			}
			if err := requireAffected(res,
				apperr.Newf(apperr.CodeNotFound, "port %s not found", id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) GetEntrypointEnvs(ctx context.Context, entrypointID uuid.UUID) (model.ConfigMap, error) {
	var data []byte
	err := p.q.QueryRowContext(ctx,
		`SELECT envs FROM entrypoints WHERE id = $1`, entrypointID).Scan(&data)
	if err != nil {
		return nil, mapErr(err, "entrypoint %s not found", entrypointID)
	}
	envs, err := unmarshalConfig(data)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to decode envs", err)
	}
	return envs, nil
}

func (p *Postgres) UpdateEntrypointEnvs(ctx context.Context, entrypointID uuid.UUID, envs model.ConfigMap) error {
	data, err := marshalConfig(envs)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "failed to encode envs", err)
	}
	res, err := p.q.ExecContext(ctx,
		`UPDATE entrypoints SET envs = $2 WHERE id = $1`, entrypointID, data)
	if err != nil {
		return mapErr(err, "entrypoint %s not found", entrypointID)
	}
	return requireAffected(res, apperr.Newf(apperr.CodeNotFound, "entrypoint %s not found", entrypointID))
}

// ── Edges ───────────────────────────────────────────────────

func (p *Postgres) CreateEdge(ctx context.Context, dep model.BlockDependency) error {
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO block_dependencies
		 (upstream_block_id, upstream_output_id, downstream_block_id, downstream_input_id)
		 VALUES ($1, $2, $3, $4)`,
		dep.UpstreamBlockID, dep.UpstreamOutputID, dep.DownstreamBlockID, dep.DownstreamInputID)
	return mapErr(err, "edge %s not found", dep)
}

func (p *Postgres) DeleteEdge(ctx context.Context, dep model.BlockDependency) error {
	res, err := p.q.ExecContext(ctx,
		`DELETE FROM block_dependencies
		 WHERE upstream_block_id = $1 AND upstream_output_id = $2
		   AND downstream_block_id = $3 AND downstream_input_id = $4`,
		dep.UpstreamBlockID, dep.UpstreamOutputID, dep.DownstreamBlockID, dep.DownstreamInputID)
	if err != nil {
		return mapErr(err, "edge %s not found", dep)
	}
	return requireAffected(res, apperr.Newf(apperr.CodeNotFound, "edge %s not found", dep))
}

func (p *Postgres) ListProjectEdges(ctx context.Context, projectID uuid.UUID) ([]model.BlockDependency, error) {
	return p.queryEdges(ctx,
		`SELECT d.upstream_block_id, d.upstream_output_id, d.downstream_block_id, d.downstream_input_id
		 FROM block_dependencies d
		 JOIN blocks b ON b.id = d.upstream_block_id
		 WHERE b.project_id = $1
		 ORDER BY d.upstream_block_id, d.upstream_output_id, d.downstream_block_id, d.downstream_input_id`,
		projectID)
}

func (p *Postgres) EdgesFromOutputs(ctx context.Context, outputIDs []uuid.UUID) ([]model.BlockDependency, error) {
	var out []model.BlockDependency
	for _, id := range outputIDs {
		edges, err := p.queryEdges(ctx,
			`SELECT upstream_block_id, upstream_output_id, downstream_block_id, downstream_input_id
			 FROM block_dependencies
			 WHERE upstream_output_id = $1
			 ORDER BY upstream_block_id, upstream_output_id, downstream_block_id, downstream_input_id`,
			id)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

func (p *Postgres) queryEdges(ctx context.Context, query string, args ...any) ([]model.BlockDependency, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "edges not found")
	}
	defer func() { _ = rows.Close() }()

	var out []model.BlockDependency
	for rows.Next() {
		var dep model.BlockDependency
		if err := rows.Scan(&dep.UpstreamBlockID, &dep.UpstreamOutputID,
			&dep.DownstreamBlockID, &dep.DownstreamInputID); err != nil {
			return nil, mapErr(err, "edges not found")
		}
		out = append(out, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "edges not found")
	}
	return out, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "database error", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
