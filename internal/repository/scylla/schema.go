package scylla

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        account_bucket int,
        account_id text,
        email_hash text,
        email_encrypted text,
        email_dek text,
        email_key_id text,
        first_name text,
        last_name text,
        role text,
        is_active boolean,
        is_verified boolean,
        password_hash text,
        password_salt text,
        pepper_version int,
        hash_algorithm text,
        password_changed_at timestamp,
        created_at timestamp,
        updated_at timestamp,
        last_login_at timestamp,
        PRIMARY KEY ((account_bucket), account_id)
    )`,
	`CREATE TABLE IF NOT EXISTS email_to_account (
        email_hash text PRIMARY KEY,
        account_bucket int,
        account_id text,
        created_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS elevated_profiles (
        account_id text,
        role text,
        grant_token text,
        grant_expires_at timestamp,
        created_at timestamp,
        updated_at timestamp,
        PRIMARY KEY ((account_id), role)
    )`,
}
