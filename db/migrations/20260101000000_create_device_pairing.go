package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateDevicePairing, downCreateDevicePairing)
}

func upCreateDevicePairing(_ context.Context, tx *sql.Tx) error {
	_, err := tx.Exec(`
create table if not exists device_pairing
(
    id            varchar(255) not null primary key,
    uuid          varchar(255) not null unique,
    friendly_name varchar(255) default '' not null,
    base_url      varchar(255) default '' not null,
    profile_id    varchar(255) default '' not null,
    renew_token   varchar(255) default '' not null,
    last_seen_at  datetime,
    created_at    datetime not null,
    updated_at    datetime not null
);

create index if not exists device_pairing_uuid on device_pairing(uuid);
`)
	return err
}

func downCreateDevicePairing(_ context.Context, tx *sql.Tx) error {
	_, err := tx.Exec(`drop table if exists device_pairing;`)
	return err
}
