package persistence

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/fatih/structs"
	"github.com/pocketbase/dbx"

	"github.com/dlnacast/engine/log"
	"github.com/dlnacast/engine/model"
)

// sqlRepository is the thin common base every repository embeds, adapted
// from the fleet's squirrel (query building) + dbx (execution/scanning)
// combination. It only knows how to build and run plain single-table
// CRUD statements; anything fancier is hand-written per repository.
type sqlRepository struct {
	ctx       context.Context
	db        dbx.Builder
	tableName string
}

func (r *sqlRepository) registerModel(_ interface{}, tableName string) {
	r.tableName = tableName
}

func (r *sqlRepository) newSelect() sq.SelectBuilder {
	return sq.Select("*").From(r.tableName)
}

// run executes a squirrel builder against dbx by translating its "?"
// placeholders into dbx's named-parameter form.
func (r *sqlRepository) run(b sq.Sqlizer) (*dbx.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	q, params := toDBXParams(query, args)
	return r.db.NewQuery(q).Bind(params).Rows()
}

func (r *sqlRepository) queryOne(b sq.Sqlizer, dest interface{}) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	q, params := toDBXParams(query, args)
	err = r.db.NewQuery(q).Bind(params).One(dest)
	if err != nil {
		log.Debug(r.ctx, "queryOne miss", "table", r.tableName, err)
		return model.ErrNotFound
	}
	return nil
}

func (r *sqlRepository) queryAll(b sq.Sqlizer, dest interface{}) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	q, params := toDBXParams(query, args)
	return r.db.NewQuery(q).Bind(params).All(dest)
}

func (r *sqlRepository) count(b sq.SelectBuilder, options ...model.QueryOptions) (int64, error) {
	query, args, err := b.Columns("count(*) as count").ToSql()
	if err != nil {
		return 0, err
	}
	q, params := toDBXParams(query, args)
	var count int64
	err = r.db.NewQuery(q).Bind(params).Row(&count)
	return count, err
}

// put upserts a struct-tagged model by id: insert, and on a unique-key
// conflict fall back to a full-column update.
func (r *sqlRepository) put(id string, m interface{}) (string, error) {
	cols := structs.Map(m)
	ins := sq.Insert(r.tableName).SetMap(cols)
	if _, err := r.executeSQL(ins); err != nil {
		upd := sq.Update(r.tableName).SetMap(cols).Where(sq.Eq{"id": id})
		if _, uErr := r.executeSQL(upd); uErr != nil {
			return id, uErr
		}
	}
	return id, nil
}

func (r *sqlRepository) delete(pred sq.Eq) error {
	del := sq.Delete(r.tableName).Where(pred)
	_, err := r.executeSQL(del)
	return err
}

func (r *sqlRepository) executeSQL(b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	q, params := toDBXParams(query, args)
	res, err := r.db.NewQuery(q).Bind(params).Execute()
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// toDBXParams rewrites squirrel's sequential "?" placeholders into dbx's
// named {:pN} form and returns the matching bind params.
func toDBXParams(query string, args []interface{}) (string, dbx.Params) {
	params := dbx.Params{}
	var b strings.Builder
	i := 0
	for _, ch := range query {
		if ch == '?' {
			name := fmt.Sprintf("p%d", i)
			b.WriteString(":" + name)
			if i < len(args) {
				params[name] = args[i]
			}
			i++
			continue
		}
		b.WriteRune(ch)
	}
	return b.String(), params
}
