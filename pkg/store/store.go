// Package store manages all SQLite persistence for rallypoint.
//
// SQLite in WAL mode holds every durable fact: villages, garrisons,
// movements, wave groups, reports and trap prisoners. Transactions start
// IMMEDIATE so that concurrent writers queue on the database lock instead
// of failing mid-transaction on a read-to-write upgrade.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/rallypoint/pkg/model"

	_ "modernc.org/sqlite"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db    *sql.DB
	retry retryConfig
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, retry: defaultRetryConfig}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// WithTx implements Repository. The whole transaction is retried on
// transient contention errors.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return retryOp(ctx, s.retry, func() error {
		return s.runTx(ctx, fn)
	})
}

func (s *Store) runTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&txn{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS villages (
		id                  TEXT PRIMARY KEY,
		owner_id            TEXT NOT NULL,
		name                TEXT NOT NULL DEFAULT '',
		x                   INTEGER NOT NULL,
		y                   INTEGER NOT NULL,
		wall_type           TEXT NOT NULL DEFAULT '',
		beginner_protection INTEGER NOT NULL DEFAULT 0,
		UNIQUE (x, y)
	);

	CREATE TABLE IF NOT EXISTS rally_points (
		village_id     TEXT PRIMARY KEY REFERENCES villages(id),
		level          INTEGER NOT NULL DEFAULT 0,
		wave_window_ms INTEGER NOT NULL DEFAULT 0,
		options        TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS garrisons (
		village_id TEXT NOT NULL REFERENCES villages(id),
		owner_id   TEXT NOT NULL,
		unit_id    TEXT NOT NULL,
		count      INTEGER NOT NULL CHECK (count >= 0),
		PRIMARY KEY (village_id, owner_id, unit_id)
	);

	CREATE TABLE IF NOT EXISTS movements (
		id                TEXT PRIMARY KEY,
		mission           TEXT NOT NULL,
		owner_id          TEXT NOT NULL,
		origin_village_id TEXT NOT NULL,
		target_village_id TEXT NOT NULL DEFAULT '',
		target_x          INTEGER NOT NULL,
		target_y          INTEGER NOT NULL,
		depart_at         INTEGER NOT NULL,
		arrive_at         INTEGER NOT NULL,
		payload           TEXT NOT NULL,
		status            TEXT NOT NULL,
		idempotency_key   TEXT NOT NULL,
		key_scope         TEXT NOT NULL DEFAULT 'client',
		parent_id         TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		UNIQUE (key_scope, idempotency_key)
	);
	CREATE INDEX IF NOT EXISTS idx_movements_due ON movements(status, arrive_at);
	CREATE INDEX IF NOT EXISTS idx_movements_origin ON movements(origin_village_id, arrive_at);
	CREATE INDEX IF NOT EXISTS idx_movements_target ON movements(target_village_id, arrive_at);

	CREATE TABLE IF NOT EXISTS wave_groups (
		id                TEXT PRIMARY KEY,
		owner_id          TEXT NOT NULL,
		name              TEXT NOT NULL DEFAULT '',
		target_village_id TEXT NOT NULL,
		arrive_at         INTEGER NOT NULL,
		window_ms         INTEGER NOT NULL,
		status            TEXT NOT NULL,
		idempotency_key   TEXT NOT NULL UNIQUE,
		created_at        INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wave_members (
		group_id          TEXT NOT NULL REFERENCES wave_groups(id),
		idx               INTEGER NOT NULL,
		movement_id       TEXT NOT NULL REFERENCES movements(id),
		origin_village_id TEXT NOT NULL,
		offset_ms         INTEGER NOT NULL,
		depart_at         INTEGER NOT NULL,
		arrive_at         INTEGER NOT NULL,
		status            TEXT NOT NULL,
		PRIMARY KEY (group_id, idx)
	);

	CREATE TABLE IF NOT EXISTS reports (
		id                TEXT PRIMARY KEY,
		movement_id       TEXT NOT NULL UNIQUE,
		mission           TEXT NOT NULL,
		attacker_id       TEXT NOT NULL,
		defender_id       TEXT NOT NULL,
		origin_village_id TEXT NOT NULL,
		target_village_id TEXT NOT NULL,
		occurred_at       INTEGER NOT NULL,
		body              TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_target ON reports(target_village_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_reports_origin ON reports(origin_village_id, occurred_at);

	CREATE TABLE IF NOT EXISTS buildings (
		village_id TEXT NOT NULL REFERENCES villages(id),
		kind       TEXT NOT NULL,
		level      INTEGER NOT NULL CHECK (level >= 0),
		PRIMARY KEY (village_id, kind)
	);

	CREATE TABLE IF NOT EXISTS trap_prisoners (
		id                TEXT PRIMARY KEY,
		village_id        TEXT NOT NULL REFERENCES villages(id),
		owner_id          TEXT NOT NULL,
		origin_village_id TEXT NOT NULL,
		unit_id           TEXT NOT NULL,
		count             INTEGER NOT NULL CHECK (count >= 0),
		captured_at       INTEGER NOT NULL,
		UNIQUE (village_id, owner_id, origin_village_id, unit_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// txn implements Tx on one *sql.Tx.
type txn struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *txn) exec(query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, query, args...)
}

func (t *txn) query(query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *txn) queryRow(query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---------------------------------------------------------------------------
// Villages
// ---------------------------------------------------------------------------

const villageCols = `id, owner_id, name, x, y, wall_type, beginner_protection`

func (t *txn) GetVillage(id string) (*model.Village, error) {
	return scanVillage(t.queryRow(`SELECT `+villageCols+` FROM villages WHERE id = ?`, id))
}

func (t *txn) FindVillageAt(c model.Coordinates) (*model.Village, error) {
	return scanVillage(t.queryRow(`SELECT `+villageCols+` FROM villages WHERE x = ? AND y = ?`, c.X, c.Y))
}

func (t *txn) CreateVillage(v *model.Village) error {
	_, err := t.exec(
		`INSERT INTO villages (id, owner_id, name, x, y, wall_type, beginner_protection)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_id = excluded.owner_id,
		   name = excluded.name,
		   x = excluded.x,
		   y = excluded.y,
		   wall_type = excluded.wall_type,
		   beginner_protection = excluded.beginner_protection`,
		v.ID, v.OwnerID, v.Name, v.Coords.X, v.Coords.Y, v.WallType, boolToInt(v.BeginnerProtection),
	)
	if err != nil {
		return fmt.Errorf("create village %s: %w", v.ID, err)
	}
	return nil
}

func scanVillage(row *sql.Row) (*model.Village, error) {
	var v model.Village
	var prot int
	if err := row.Scan(&v.ID, &v.OwnerID, &v.Name, &v.Coords.X, &v.Coords.Y, &v.WallType, &prot); err != nil {
		return nil, noRows(err)
	}
	v.BeginnerProtection = prot != 0
	return &v, nil
}

// ---------------------------------------------------------------------------
// Rally points
// ---------------------------------------------------------------------------

func (t *txn) GetRallyPoint(villageID string) (*model.RallyPointState, error) {
	var rp model.RallyPointState
	var opts string
	err := t.queryRow(
		`SELECT village_id, level, wave_window_ms, options FROM rally_points WHERE village_id = ?`, villageID,
	).Scan(&rp.VillageID, &rp.Level, &rp.WaveWindowMs, &opts)
	if err != nil {
		return nil, noRows(err)
	}
	if err := json.Unmarshal([]byte(opts), &rp.Options); err != nil {
		return nil, fmt.Errorf("decode rally point options for %s: %w", villageID, err)
	}
	return &rp, nil
}

func (t *txn) UpsertRallyPoint(rp *model.RallyPointState) error {
	opts, err := json.Marshal(rp.Options)
	if err != nil {
		return fmt.Errorf("encode rally point options: %w", err)
	}
	if rp.Options == nil {
		opts = []byte("{}")
	}
	_, err = t.exec(
		`INSERT INTO rally_points (village_id, level, wave_window_ms, options) VALUES (?, ?, ?, ?)
		 ON CONFLICT(village_id) DO UPDATE SET
		   level = excluded.level,
		   wave_window_ms = excluded.wave_window_ms,
		   options = excluded.options`,
		rp.VillageID, rp.Level, rp.WaveWindowMs, string(opts),
	)
	if err != nil {
		return fmt.Errorf("upsert rally point %s: %w", rp.VillageID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Garrisons
// ---------------------------------------------------------------------------

func (t *txn) ListGarrison(villageID, ownerID string) ([]model.GarrisonStack, error) {
	rows, err := t.query(
		`SELECT village_id, owner_id, unit_id, count FROM garrisons
		 WHERE village_id = ? AND owner_id = ? AND count > 0
		 ORDER BY unit_id`, villageID, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStacks(rows)
}

func (t *txn) ListGarrisonAll(villageID string) ([]model.GarrisonStack, error) {
	rows, err := t.query(
		`SELECT village_id, owner_id, unit_id, count FROM garrisons
		 WHERE village_id = ? AND count > 0
		 ORDER BY owner_id, unit_id`, villageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStacks(rows)
}

func (t *txn) SetUnitCount(villageID, ownerID, unitID string, count int64) error {
	if count < 0 {
		return fmt.Errorf("set unit count %s/%s/%s: negative count %d", villageID, ownerID, unitID, count)
	}
	var err error
	if count == 0 {
		_, err = t.exec(
			`DELETE FROM garrisons WHERE village_id = ? AND owner_id = ? AND unit_id = ?`,
			villageID, ownerID, unitID,
		)
	} else {
		_, err = t.exec(
			`INSERT INTO garrisons (village_id, owner_id, unit_id, count) VALUES (?, ?, ?, ?)
			 ON CONFLICT(village_id, owner_id, unit_id) DO UPDATE SET count = excluded.count`,
			villageID, ownerID, unitID, count,
		)
	}
	if err != nil {
		return fmt.Errorf("set unit count %s/%s/%s: %w", villageID, ownerID, unitID, err)
	}
	return nil
}

func scanStacks(rows *sql.Rows) ([]model.GarrisonStack, error) {
	var out []model.GarrisonStack
	for rows.Next() {
		var s model.GarrisonStack
		if err := rows.Scan(&s.VillageID, &s.OwnerID, &s.UnitID, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Movements
// ---------------------------------------------------------------------------

const movementCols = `id, mission, owner_id, origin_village_id, target_village_id, target_x, target_y,
	depart_at, arrive_at, payload, status, idempotency_key, parent_id, created_at, updated_at`

func (t *txn) CreateMovement(m *model.Movement) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = t.exec(
		`INSERT INTO movements (`+movementCols+`, key_scope)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Mission), m.OwnerID, m.OriginVillageID, m.TargetVillageID,
		m.TargetCoords.X, m.TargetCoords.Y, toMs(m.DepartAt), toMs(m.ArriveAt),
		string(payload), string(m.Status), m.IdempotencyKey, m.ParentID,
		toMs(m.CreatedAt), toMs(m.UpdatedAt), string(m.KeyScope()),
	)
	if err != nil {
		return fmt.Errorf("create movement %s: %w", m.ID, err)
	}
	return nil
}

func (t *txn) UpdateMovement(m *model.Movement) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	res, err := t.exec(
		`UPDATE movements SET status = ?, payload = ?, updated_at = ? WHERE id = ?`,
		string(m.Status), string(payload), toMs(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return fmt.Errorf("update movement %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txn) GetMovement(id string) (*model.Movement, error) {
	rows, err := t.query(`SELECT `+movementCols+` FROM movements WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return firstMovement(rows)
}

// FindMovementByKey looks up a client request by its idempotency key.
// Keys derived for wave members and battle returns never match.
func (t *txn) FindMovementByKey(key string) (*model.Movement, error) {
	rows, err := t.query(`SELECT `+movementCols+` FROM movements WHERE key_scope = ? AND idempotency_key = ?`,
		string(model.ScopeClient), key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return firstMovement(rows)
}

func (t *txn) ListDueMovements(now time.Time, limit int) ([]model.Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.query(
		`SELECT `+movementCols+` FROM movements
		 WHERE status = ? AND arrive_at <= ?
		 ORDER BY arrive_at ASC,
		          CASE WHEN mission IN ('reinforce', 'return') THEN 0 ELSE 1 END ASC,
		          id ASC
		 LIMIT ?`,
		string(model.StatusEnRoute), toMs(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (t *txn) ListMovementsForVillage(villageID string, limit int) ([]model.Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.query(
		`SELECT `+movementCols+` FROM movements
		 WHERE origin_village_id = ? OR target_village_id = ?
		 ORDER BY arrive_at DESC, id ASC LIMIT ?`,
		villageID, villageID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func firstMovement(rows *sql.Rows) (*model.Movement, error) {
	ms, err := scanMovements(rows)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, ErrNotFound
	}
	return &ms[0], nil
}

func scanMovements(rows *sql.Rows) ([]model.Movement, error) {
	var out []model.Movement
	for rows.Next() {
		var m model.Movement
		var mission, status, payload string
		var depart, arrive, created, updated int64
		if err := rows.Scan(&m.ID, &mission, &m.OwnerID, &m.OriginVillageID, &m.TargetVillageID,
			&m.TargetCoords.X, &m.TargetCoords.Y, &depart, &arrive, &payload, &status,
			&m.IdempotencyKey, &m.ParentID, &created, &updated); err != nil {
			return nil, err
		}
		m.Mission = model.Mission(mission)
		m.Status = model.MovementStatus(status)
		m.DepartAt, m.ArriveAt = fromMs(depart), fromMs(arrive)
		m.CreatedAt, m.UpdatedAt = fromMs(created), fromMs(updated)
		if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for movement %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Wave groups
// ---------------------------------------------------------------------------

const waveGroupCols = `id, owner_id, name, target_village_id, arrive_at, window_ms, status, idempotency_key, created_at`

func (t *txn) CreateWaveGroup(g *model.WaveGroup) error {
	_, err := t.exec(
		`INSERT INTO wave_groups (`+waveGroupCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.OwnerID, g.Name, g.TargetVillageID, toMs(g.ArriveAt), g.WindowMs,
		string(g.Status), g.IdempotencyKey, toMs(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create wave group %s: %w", g.ID, err)
	}
	return nil
}

func (t *txn) GetWaveGroup(id string) (*model.WaveGroup, error) {
	return scanWaveGroup(t.queryRow(`SELECT `+waveGroupCols+` FROM wave_groups WHERE id = ?`, id))
}

func (t *txn) FindWaveGroupByKey(key string) (*model.WaveGroup, error) {
	return scanWaveGroup(t.queryRow(`SELECT `+waveGroupCols+` FROM wave_groups WHERE idempotency_key = ?`, key))
}

func (t *txn) UpdateWaveGroupStatus(id string, status model.WaveGroupStatus) error {
	if _, err := t.exec(`UPDATE wave_groups SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("update wave group %s: %w", id, err)
	}
	return nil
}

func scanWaveGroup(row *sql.Row) (*model.WaveGroup, error) {
	var g model.WaveGroup
	var status string
	var arrive, created int64
	if err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &g.TargetVillageID, &arrive, &g.WindowMs,
		&status, &g.IdempotencyKey, &created); err != nil {
		return nil, noRows(err)
	}
	g.Status = model.WaveGroupStatus(status)
	g.ArriveAt, g.CreatedAt = fromMs(arrive), fromMs(created)
	return &g, nil
}

func (t *txn) CreateWaveMember(m *model.WaveMember) error {
	_, err := t.exec(
		`INSERT INTO wave_members (group_id, idx, movement_id, origin_village_id, offset_ms, depart_at, arrive_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.GroupID, m.Index, m.MovementID, m.OriginVillageID, m.OffsetMs,
		toMs(m.DepartAt), toMs(m.ArriveAt), string(m.Status),
	)
	if err != nil {
		return fmt.Errorf("create wave member %s/%d: %w", m.GroupID, m.Index, err)
	}
	return nil
}

func (t *txn) ListWaveMembers(groupID string) ([]model.WaveMember, error) {
	rows, err := t.query(
		`SELECT group_id, idx, movement_id, origin_village_id, offset_ms, depart_at, arrive_at, status
		 FROM wave_members WHERE group_id = ? ORDER BY idx`, groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WaveMember
	for rows.Next() {
		var m model.WaveMember
		var status string
		var depart, arrive int64
		if err := rows.Scan(&m.GroupID, &m.Index, &m.MovementID, &m.OriginVillageID, &m.OffsetMs,
			&depart, &arrive, &status); err != nil {
			return nil, err
		}
		m.Status = model.MovementStatus(status)
		m.DepartAt, m.ArriveAt = fromMs(depart), fromMs(arrive)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *txn) UpdateWaveMemberStatus(groupID string, index int, status model.MovementStatus) error {
	_, err := t.exec(`UPDATE wave_members SET status = ? WHERE group_id = ? AND idx = ?`,
		string(status), groupID, index)
	if err != nil {
		return fmt.Errorf("update wave member %s/%d: %w", groupID, index, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

func (t *txn) SaveReport(r *model.MovementReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = t.exec(
		`INSERT INTO reports (id, movement_id, mission, attacker_id, defender_id,
		                      origin_village_id, target_village_id, occurred_at, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MovementID, string(r.Mission), r.AttackerID, r.DefenderID,
		r.OriginVillageID, r.TargetVillageID, toMs(r.OccurredAt), string(body),
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return nil
}

func (t *txn) ListReports(villageID string, limit int) ([]model.MovementReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.query(
		`SELECT body FROM reports
		 WHERE target_village_id = ? OR origin_village_id = ?
		 ORDER BY occurred_at DESC, id ASC LIMIT ?`,
		villageID, villageID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MovementReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r model.MovementReport
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Siege snapshot
// ---------------------------------------------------------------------------

func (t *txn) GetSiegeSnapshot(villageID string) (*model.SiegeSnapshot, error) {
	rows, err := t.query(
		`SELECT kind, level FROM buildings WHERE village_id = ? ORDER BY kind`, villageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := &model.SiegeSnapshot{VillageID: villageID}
	for rows.Next() {
		var b model.Building
		if err := rows.Scan(&b.Kind, &b.Level); err != nil {
			return nil, err
		}
		snap.Buildings = append(snap.Buildings, b)
	}
	return snap, rows.Err()
}

func (t *txn) SetBuildingLevel(villageID, kind string, level int) error {
	if level < 0 {
		level = 0
	}
	_, err := t.exec(
		`INSERT INTO buildings (village_id, kind, level) VALUES (?, ?, ?)
		 ON CONFLICT(village_id, kind) DO UPDATE SET level = excluded.level`,
		villageID, kind, level,
	)
	if err != nil {
		return fmt.Errorf("set building %s/%s: %w", villageID, kind, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Trap prisoners
// ---------------------------------------------------------------------------

func (t *txn) ListTrapPrisoners(villageID string) ([]model.TrapPrisoner, error) {
	rows, err := t.query(
		`SELECT id, village_id, owner_id, origin_village_id, unit_id, count, captured_at
		 FROM trap_prisoners WHERE village_id = ? ORDER BY owner_id, origin_village_id, unit_id`, villageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrapPrisoner
	for rows.Next() {
		var p model.TrapPrisoner
		var captured int64
		if err := rows.Scan(&p.ID, &p.VillageID, &p.OwnerID, &p.OriginVillageID, &p.UnitID,
			&p.Count, &captured); err != nil {
			return nil, err
		}
		p.CapturedAt = fromMs(captured)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txn) CreateTrapPrisoner(p *model.TrapPrisoner) error {
	_, err := t.exec(
		`INSERT INTO trap_prisoners (id, village_id, owner_id, origin_village_id, unit_id, count, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.VillageID, p.OwnerID, p.OriginVillageID, p.UnitID, p.Count, toMs(p.CapturedAt),
	)
	if err != nil {
		return fmt.Errorf("create trap prisoner %s: %w", p.ID, err)
	}
	return nil
}

func (t *txn) UpdateTrapPrisonerCount(id string, count int64) error {
	res, err := t.exec(`UPDATE trap_prisoners SET count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("update trap prisoner %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txn) DeleteTrapPrisoner(id string) error {
	if _, err := t.exec(`DELETE FROM trap_prisoners WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete trap prisoner %s: %w", id, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func toMs(t time.Time) int64 { return t.UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
