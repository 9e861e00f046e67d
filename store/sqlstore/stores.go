package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	leagueauth "github.com/openleague/leagueauth"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// Organization store --------------------------------------------------------

type orgStore struct{ s *Store }

const orgColumns = `id, name, slug, custom_domain, timezone, locale, active, created_at`

func scanOrg(row rowScanner) (*leagueauth.Organization, error) {
	var org leagueauth.Organization
	var domain sql.NullString
	err := row.Scan(&org.ID, &org.Name, &org.Slug, &domain, &org.Timezone, &org.Locale, &org.Active, &org.CreatedAt)
	if err != nil {
		return nil, storeErr(err)
	}
	org.CustomDomain = domain.String
	return &org, nil
}

func (o *orgStore) Create(ctx context.Context, org *leagueauth.Organization) error {
	_, err := o.s.db.ExecContext(ctx, o.s.rebind(
		`insert into organizations (`+orgColumns+`) values (?,?,?,?,?,?,?,?)`),
		org.ID, org.Name, org.Slug, nullStr(org.CustomDomain), org.Timezone, org.Locale, org.Active, org.CreatedAt,
	)
	return storeErr(err)
}

func (o *orgStore) GetByID(ctx context.Context, id string) (*leagueauth.Organization, error) {
	return scanOrg(o.s.db.QueryRowContext(ctx, o.s.rebind(
		`select `+orgColumns+` from organizations where id = ?`), id))
}

func (o *orgStore) GetBySlug(ctx context.Context, slug string) (*leagueauth.Organization, error) {
	return scanOrg(o.s.db.QueryRowContext(ctx, o.s.rebind(
		`select `+orgColumns+` from organizations where slug = ?`), slug))
}

func (o *orgStore) GetByDomain(ctx context.Context, domain string) (*leagueauth.Organization, error) {
	if domain == "" {
		return nil, leagueauth.ErrNotFound
	}
	return scanOrg(o.s.db.QueryRowContext(ctx, o.s.rebind(
		`select `+orgColumns+` from organizations where custom_domain = ?`), domain))
}

func (o *orgStore) ListActive(ctx context.Context) ([]*leagueauth.Organization, error) {
	rows, err := o.s.db.QueryContext(ctx,
		`select `+orgColumns+` from organizations where active order by slug`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*leagueauth.Organization
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (o *orgStore) Update(ctx context.Context, org *leagueauth.Organization) error {
	res, err := o.s.db.ExecContext(ctx, o.s.rebind(
		`update organizations set name = ?, slug = ?, custom_domain = ?, timezone = ?, locale = ?, active = ? where id = ?`),
		org.Name, org.Slug, nullStr(org.CustomDomain), org.Timezone, org.Locale, org.Active, org.ID,
	)
	if err != nil {
		return storeErr(err)
	}
	return o.s.ensureHit(ctx, res, `select 1 from organizations where id = ?`, org.ID)
}

// User store -----------------------------------------------------------------

type userStore struct{ s *Store }

const userColumns = `id, org_id, email, password_hash, role, active,
	totp_secret, totp_enabled, failed_login_attempts, locked_until,
	reset_token_hash, reset_token_expires_at, last_login_at, last_login_ip,
	created_at, updated_at`

func scanUser(row rowScanner) (*leagueauth.User, error) {
	var u leagueauth.User
	var lockedUntil, resetExpires, lastLogin sql.NullTime
	var resetHash sql.NullString
	err := row.Scan(
		&u.ID, &u.OrgID, &u.Email, &u.PasswordHash, &u.Role, &u.Active,
		&u.TOTPSecret, &u.TOTPEnabled, &u.FailedLoginAttempts, &lockedUntil,
		&resetHash, &resetExpires, &lastLogin, &u.LastLoginIP,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, storeErr(err)
	}
	u.LockedUntil = timePtr(lockedUntil)
	u.ResetTokenHash = resetHash.String
	u.ResetTokenExpiresAt = timePtr(resetExpires)
	u.LastLoginAt = timePtr(lastLogin)
	return &u, nil
}

func (u *userStore) Create(ctx context.Context, user *leagueauth.User) error {
	_, err := u.s.db.ExecContext(ctx, u.s.rebind(
		`insert into users (`+userColumns+`) values (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		user.ID, user.OrgID, user.Email, user.PasswordHash, user.Role, user.Active,
		user.TOTPSecret, user.TOTPEnabled, user.FailedLoginAttempts, nullTime(user.LockedUntil),
		nullStr(user.ResetTokenHash), nullTime(user.ResetTokenExpiresAt), nullTime(user.LastLoginAt), user.LastLoginIP,
		user.CreatedAt, user.UpdatedAt,
	)
	return storeErr(err)
}

func (u *userStore) GetByID(ctx context.Context, orgID, id string) (*leagueauth.User, error) {
	return scanUser(u.s.db.QueryRowContext(ctx, u.s.rebind(
		`select `+userColumns+` from users where org_id = ? and id = ?`), orgID, id))
}

func (u *userStore) GetByEmail(ctx context.Context, orgID, email string) (*leagueauth.User, error) {
	return scanUser(u.s.db.QueryRowContext(ctx, u.s.rebind(
		`select `+userColumns+` from users where org_id = ? and lower(email) = ?`),
		orgID, strings.ToLower(strings.TrimSpace(email))))
}

func (u *userStore) FindByEmail(ctx context.Context, email string) ([]*leagueauth.User, error) {
	rows, err := u.s.db.QueryContext(ctx, u.s.rebind(
		`select `+userColumns+` from users where lower(email) = ? order by org_id`),
		strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*leagueauth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (u *userStore) ListByOrg(ctx context.Context, orgID string) ([]*leagueauth.User, error) {
	rows, err := u.s.db.QueryContext(ctx, u.s.rebind(
		`select `+userColumns+` from users where org_id = ? order by email`), orgID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*leagueauth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (u *userStore) GetByResetTokenHash(ctx context.Context, tokenHash string) (*leagueauth.User, error) {
	if tokenHash == "" {
		return nil, leagueauth.ErrNotFound
	}
	return scanUser(u.s.db.QueryRowContext(ctx, u.s.rebind(
		`select `+userColumns+` from users where reset_token_hash = ?`), tokenHash))
}

func (u *userStore) Update(ctx context.Context, user *leagueauth.User) error {
	res, err := u.s.db.ExecContext(ctx, u.s.rebind(
		`update users set email = ?, password_hash = ?, role = ?, active = ?,
		totp_secret = ?, totp_enabled = ?, failed_login_attempts = ?, locked_until = ?,
		reset_token_hash = ?, reset_token_expires_at = ?, last_login_at = ?, last_login_ip = ?,
		updated_at = ? where org_id = ? and id = ?`),
		user.Email, user.PasswordHash, user.Role, user.Active,
		user.TOTPSecret, user.TOTPEnabled, user.FailedLoginAttempts, nullTime(user.LockedUntil),
		nullStr(user.ResetTokenHash), nullTime(user.ResetTokenExpiresAt), nullTime(user.LastLoginAt), user.LastLoginIP,
		user.UpdatedAt, user.OrgID, user.ID,
	)
	if err != nil {
		return storeErr(err)
	}
	return u.s.ensureHit(ctx, res, `select 1 from users where org_id = ? and id = ?`, user.OrgID, user.ID)
}

func (u *userStore) ReplaceRecoveryCodes(ctx context.Context, orgID, userID string, codes []*leagueauth.RecoveryCode) error {
	tx, err := u.s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, u.s.rebind(
		`delete from recovery_codes where org_id = ? and user_id = ?`), orgID, userID); err != nil {
		return storeErr(err)
	}
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, u.s.rebind(
			`insert into recovery_codes (org_id, user_id, code_hash, used, created_at) values (?,?,?,?,?)`),
			orgID, userID, c.CodeHash, c.Used, c.CreatedAt); err != nil {
			return storeErr(err)
		}
	}
	return storeErr(tx.Commit())
}

func (u *userStore) RecoveryCodes(ctx context.Context, orgID, userID string) ([]*leagueauth.RecoveryCode, error) {
	rows, err := u.s.db.QueryContext(ctx, u.s.rebind(
		`select org_id, user_id, code_hash, used, created_at from recovery_codes
		where org_id = ? and user_id = ? order by created_at, code_hash`), orgID, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*leagueauth.RecoveryCode
	for rows.Next() {
		var c leagueauth.RecoveryCode
		if err := rows.Scan(&c.OrgID, &c.UserID, &c.CodeHash, &c.Used, &c.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// One UPDATE guarded on used keeps consumption atomic under
// concurrent verification attempts.
func (u *userStore) ConsumeRecoveryCode(ctx context.Context, orgID, userID, codeHash string) (bool, error) {
	res, err := u.s.db.ExecContext(ctx, u.s.rebind(
		`update recovery_codes set used = ? where org_id = ? and user_id = ? and code_hash = ? and used = ?`),
		true, orgID, userID, codeHash, false)
	if err != nil {
		return false, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

// Permission store -----------------------------------------------------------

type permStore struct{ s *Store }

func (p *permStore) Grant(ctx context.Context, grant *leagueauth.EditorPermission) error {
	_, err := p.s.db.ExecContext(ctx, p.s.rebind(
		`insert into editor_permissions (org_id, user_id, permission, granted_by, created_at) values (?,?,?,?,?)`),
		grant.OrgID, grant.UserID, grant.Permission, grant.GrantedBy, grant.CreatedAt)
	return storeErr(err)
}

func (p *permStore) Get(ctx context.Context, orgID, userID, permission string) (*leagueauth.EditorPermission, error) {
	var grant leagueauth.EditorPermission
	err := p.s.db.QueryRowContext(ctx, p.s.rebind(
		`select org_id, user_id, permission, granted_by, created_at from editor_permissions
		where org_id = ? and user_id = ? and permission = ?`), orgID, userID, permission).
		Scan(&grant.OrgID, &grant.UserID, &grant.Permission, &grant.GrantedBy, &grant.CreatedAt)
	if err != nil {
		return nil, storeErr(err)
	}
	return &grant, nil
}

func (p *permStore) Revoke(ctx context.Context, orgID, userID, permission string) (bool, error) {
	res, err := p.s.db.ExecContext(ctx, p.s.rebind(
		`delete from editor_permissions where org_id = ? and user_id = ? and permission = ?`),
		orgID, userID, permission)
	if err != nil {
		return false, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

func (p *permStore) ListForUser(ctx context.Context, orgID, userID string) ([]*leagueauth.EditorPermission, error) {
	rows, err := p.s.db.QueryContext(ctx, p.s.rebind(
		`select org_id, user_id, permission, granted_by, created_at from editor_permissions
		where org_id = ? and user_id = ? order by permission`), orgID, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*leagueauth.EditorPermission
	for rows.Next() {
		var grant leagueauth.EditorPermission
		if err := rows.Scan(&grant.OrgID, &grant.UserID, &grant.Permission, &grant.GrantedBy, &grant.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, &grant)
	}
	return out, rows.Err()
}

// Audit store ----------------------------------------------------------------

type auditStore struct{ s *Store }

const auditColumns = `id, org_id, user_id, action, entity_type, entity_id, metadata, success, ip, created_at`

func (a *auditStore) Append(ctx context.Context, entry *leagueauth.AuditEntry) error {
	var meta []byte
	if len(entry.Metadata) > 0 {
		meta, _ = json.Marshal(entry.Metadata)
	}
	_, err := a.s.db.ExecContext(ctx, a.s.rebind(
		`insert into audit_log (`+auditColumns+`) values (?,?,?,?,?,?,?,?,?,?)`),
		entry.ID, entry.OrgID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID,
		meta, entry.Success, entry.IP, entry.CreatedAt)
	return storeErr(err)
}

func (a *auditStore) ListRecent(ctx context.Context, orgID string, limit int) ([]*leagueauth.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `select ` + auditColumns + ` from audit_log where org_id = ? order by created_at desc, id desc limit ?`
	args := []any{orgID, limit}
	if orgID == "" {
		query = `select ` + auditColumns + ` from audit_log order by created_at desc, id desc limit ?`
		args = []any{limit}
	}

	rows, err := a.s.db.QueryContext(ctx, a.s.rebind(query), args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*leagueauth.AuditEntry
	for rows.Next() {
		var entry leagueauth.AuditEntry
		var meta []byte
		if err := rows.Scan(&entry.ID, &entry.OrgID, &entry.UserID, &entry.Action, &entry.EntityType, &entry.EntityID,
			&meta, &entry.Success, &entry.IP, &entry.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &entry.Metadata)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// ensureHit distinguishes a zero-row UPDATE caused by a missing row
// from one caused by writing identical values. MySQL reports changed
// rows rather than matched rows, so RowsAffected alone cannot tell the
// two apart.
func (s *Store) ensureHit(ctx context.Context, res sql.Result, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := s.db.QueryRowContext(ctx, s.rebind(existsQuery), args...).Scan(&one); err != nil {
		return storeErr(err)
	}
	return nil
}
