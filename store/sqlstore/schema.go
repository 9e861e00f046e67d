package sqlstore

import (
	"context"
	"fmt"
)

func (d Dialect) timestampType() string {
	switch d {
	case DialectMySQL:
		return "datetime(6)"
	case DialectPostgres:
		return "timestamptz"
	default:
		return "timestamp"
	}
}

func (d Dialect) boolType() string {
	if d == DialectMySQL {
		return "tinyint(1)"
	}
	return "boolean"
}

// Bootstrap creates the schema when it does not exist yet. It covers
// development and tests; production deployments are expected to manage
// the schema through their own migration tooling and may add indexes
// (audit_log by org and time, for one) beyond the constraints here.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: bootstrap: %w", err)
		}
	}
	return nil
}

func schemaStatements(d Dialect) []string {
	ts := d.timestampType()
	boolean := d.boolType()

	return []string{
		fmt.Sprintf(`create table if not exists organizations (
	id varchar(26) primary key,
	name varchar(255) not null,
	slug varchar(64) not null,
	custom_domain varchar(255) null,
	timezone varchar(64) not null,
	locale varchar(16) not null,
	active %[2]s not null,
	created_at %[1]s not null,
	unique (slug),
	unique (custom_domain)
)`, ts, boolean),

		fmt.Sprintf(`create table if not exists users (
	id varchar(26) not null,
	org_id varchar(26) not null,
	email varchar(255) not null,
	password_hash varchar(255) not null,
	role varchar(20) not null,
	active %[2]s not null,
	totp_secret varchar(64) not null,
	totp_enabled %[2]s not null,
	failed_login_attempts int not null,
	locked_until %[1]s null,
	reset_token_hash varchar(64) null,
	reset_token_expires_at %[1]s null,
	last_login_at %[1]s null,
	last_login_ip varchar(64) not null,
	created_at %[1]s not null,
	updated_at %[1]s not null,
	primary key (org_id, id),
	unique (org_id, email),
	unique (reset_token_hash)
)`, ts, boolean),

		fmt.Sprintf(`create table if not exists recovery_codes (
	org_id varchar(26) not null,
	user_id varchar(26) not null,
	code_hash varchar(64) not null,
	used %[2]s not null,
	created_at %[1]s not null,
	primary key (org_id, user_id, code_hash)
)`, ts, boolean),

		fmt.Sprintf(`create table if not exists editor_permissions (
	org_id varchar(26) not null,
	user_id varchar(26) not null,
	permission varchar(100) not null,
	granted_by varchar(26) not null,
	created_at %[1]s not null,
	primary key (org_id, user_id, permission)
)`, ts),

		fmt.Sprintf(`create table if not exists audit_log (
	id varchar(26) primary key,
	org_id varchar(26) not null,
	user_id varchar(26) not null,
	action varchar(64) not null,
	entity_type varchar(32) not null,
	entity_id varchar(26) not null,
	metadata text null,
	success %[2]s not null,
	ip varchar(64) not null,
	created_at %[1]s not null
)`, ts, boolean),
	}
}
