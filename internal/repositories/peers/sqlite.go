package peers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/dbx"
	"github.com/dmitrijs2005/gophpaste/internal/keylock"
	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/dmitrijs2005/gophpaste/internal/repositories/watch"
)

const selectColumns = `app_instance_id, app_version, user_name, device_id, device_name, platform,
	host_info_list, port, connect_host_address, connect_network_prefix_length, state,
	allow_send, allow_receive, note_name, create_time, modify_time, unmatched`

// SQLiteRepository implements Repository on the local SQLite database.
type SQLiteRepository struct {
	db    *sql.DB
	locks *keylock.KeyedMutex
	hub   *watch.Hub[models.PeerRecord]
	now   func() time.Time
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:    db,
		locks: keylock.New(),
		hub:   watch.NewHub[models.PeerRecord](64),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeer(row rowScanner) (*models.PeerRecord, error) {
	var (
		p                      models.PeerRecord
		platform, hosts, state string
		allowSend, allowRecv   bool
		unmatched              bool
		createMs, modifyMs     int64
	)
	err := row.Scan(&p.AppInstanceID, &p.AppVersion, &p.UserName, &p.DeviceID, &p.DeviceName,
		&platform, &hosts, &p.Port, &p.ConnectHostAddress, &p.ConnectNetworkPrefixLength, &state,
		&allowSend, &allowRecv, &p.NoteName, &createMs, &modifyMs, &unmatched)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(platform), &p.Platform); err != nil {
		return nil, fmt.Errorf("decode platform: %w", err)
	}
	if err := json.Unmarshal([]byte(hosts), &p.HostInfoList); err != nil {
		return nil, fmt.Errorf("decode host info: %w", err)
	}
	p.State = models.SyncState(state)
	p.AllowSend = allowSend
	p.AllowReceive = allowRecv
	p.Unmatched = unmatched
	p.CreateTime = dbx.FromMillis(createMs)
	p.ModifyTime = dbx.FromMillis(modifyMs)
	return &p, nil
}

func get(ctx context.Context, db dbx.DBTX, id string) (*models.PeerRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM peers WHERE app_instance_id = ?`, id)
	p, err := scanPeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get peer %s: %w", id, err)
	}
	return p, nil
}

// upsert writes p; modify_time keeps the larger of the stored and new values.
func upsert(ctx context.Context, db dbx.DBTX, p *models.PeerRecord) error {
	platform, err := json.Marshal(p.Platform)
	if err != nil {
		return err
	}
	hosts := p.HostInfoList
	if hosts == nil {
		hosts = []models.HostInfo{}
	}
	hostsJSON, err := json.Marshal(hosts)
	if err != nil {
		return err
	}

	query := `INSERT INTO peers (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_instance_id) DO UPDATE SET
			app_version = excluded.app_version,
			user_name = excluded.user_name,
			device_id = excluded.device_id,
			device_name = excluded.device_name,
			platform = excluded.platform,
			host_info_list = excluded.host_info_list,
			port = excluded.port,
			connect_host_address = excluded.connect_host_address,
			connect_network_prefix_length = excluded.connect_network_prefix_length,
			state = excluded.state,
			allow_send = excluded.allow_send,
			allow_receive = excluded.allow_receive,
			note_name = excluded.note_name,
			unmatched = excluded.unmatched,
			modify_time = MAX(peers.modify_time, excluded.modify_time)`
	_, err = db.ExecContext(ctx, query,
		p.AppInstanceID, p.AppVersion, p.UserName, p.DeviceID, p.DeviceName, string(platform),
		string(hostsJSON), p.Port, p.ConnectHostAddress, p.ConnectNetworkPrefixLength, string(p.State),
		p.AllowSend, p.AllowReceive, p.NoteName, dbx.Millis(p.CreateTime), dbx.Millis(p.ModifyTime), p.Unmatched)
	if err != nil {
		return fmt.Errorf("failed to upsert peer: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.PeerRecord, error) {
	return get(ctx, r.db, id)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.PeerRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM peers ORDER BY create_time, app_instance_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select peers: %w", err)
	}
	defer rows.Close()

	var result []*models.PeerRecord
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, p *models.PeerRecord) error {
	if p.AppInstanceID == "" {
		return fmt.Errorf("peer without app instance id")
	}
	unlock := r.locks.Lock(p.AppInstanceID)
	defer unlock()

	now := r.now()
	if p.CreateTime.IsZero() {
		p.CreateTime = now
	}
	if p.ModifyTime.Before(now) {
		p.ModifyTime = now
	}

	var stored *models.PeerRecord
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := upsert(ctx, tx, p); err != nil {
			return err
		}
		var err error
		stored, err = get(ctx, tx, p.AppInstanceID)
		return err
	})
	if err != nil {
		return err
	}
	r.hub.Publish(Event{Op: watch.OpUpsert, Key: stored.AppInstanceID, Value: stored})
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, id string, fn func(p *models.PeerRecord) error) (*models.PeerRecord, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	var updated *models.PeerRecord
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		p, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		prevModify := p.ModifyTime
		if err := fn(p); err != nil {
			return err
		}
		p.AppInstanceID = id
		if now := r.now(); now.After(prevModify) {
			p.ModifyTime = now
		} else {
			p.ModifyTime = prevModify
		}
		if err := upsert(ctx, tx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.hub.Publish(Event{Op: watch.OpUpsert, Key: id, Value: updated})
	return updated, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM peers WHERE app_instance_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete peer: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	r.hub.Publish(Event{Op: watch.OpDelete, Key: id})
	return nil
}

func (r *SQLiteRepository) Watch(ctx context.Context) <-chan Event {
	return r.hub.Subscribe(ctx)
}
