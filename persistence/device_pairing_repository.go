package persistence

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pocketbase/dbx"

	"github.com/dlnacast/engine/model"
)

// devicePairingRepository persists the Device Pairing Record (SPEC_FULL.md
// §3/§10), adapted line-for-line from the fleet's Sonos device-token
// repository onto the renderer-pairing table.
type devicePairingRepository struct {
	sqlRepository
}

// NewDevicePairingRepository builds a repository bound to db for the
// lifetime of ctx, matching the fleet's per-request repository lifecycle.
func NewDevicePairingRepository(ctx context.Context, db dbx.Builder) model.DevicePairingRepository {
	r := &devicePairingRepository{}
	r.ctx = ctx
	r.db = db
	r.registerModel(&model.DevicePairing{}, "device_pairing")
	return r
}

func (r *devicePairingRepository) Get(id string) (*model.DevicePairing, error) {
	sel := r.newSelect().Where(sq.Eq{"id": id})
	var res model.DevicePairing
	err := r.queryOne(sel, &res)
	return &res, err
}

func (r *devicePairingRepository) GetByUUID(uuid string) (*model.DevicePairing, error) {
	sel := r.newSelect().Where(sq.Eq{"uuid": uuid})
	var res model.DevicePairing
	err := r.queryOne(sel, &res)
	return &res, err
}

func (r *devicePairingRepository) GetAll(options ...model.QueryOptions) (model.DevicePairings, error) {
	sel := r.newSelect().OrderBy("last_seen_at desc")
	var res model.DevicePairings
	err := r.queryAll(sel, &res)
	return res, err
}

func (r *devicePairingRepository) Put(p *model.DevicePairing) error {
	p.UpdatedAt = time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	_, err := r.put(p.ID, p)
	return err
}

func (r *devicePairingRepository) Delete(id string) error {
	return r.delete(sq.Eq{"id": id})
}

func (r *devicePairingRepository) UpdateLastSeen(id string, lastSeen time.Time) error {
	upd := sq.Update(r.tableName).
		Set("last_seen_at", lastSeen).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id})
	_, err := r.executeSQL(upd)
	return err
}

func (r *devicePairingRepository) CountAll(options ...model.QueryOptions) (int64, error) {
	return r.count(r.newSelect(), options...)
}

var _ model.DevicePairingRepository = (*devicePairingRepository)(nil)
