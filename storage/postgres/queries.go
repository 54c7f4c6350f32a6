package postgres

const clientColumns = `client_id, client_secret_hash, client_type, name, grant_types, redirect_uris, scopes, auto_approve_scopes, access_token_ttl_ms, refresh_token_ttl_ms, created_at`

const (
	upsertClientSQL = `INSERT INTO oauth_client (` + clientColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (client_id) DO UPDATE SET
    client_secret_hash = EXCLUDED.client_secret_hash,
    client_type = EXCLUDED.client_type,
    name = EXCLUDED.name,
    grant_types = EXCLUDED.grant_types,
    redirect_uris = EXCLUDED.redirect_uris,
    scopes = EXCLUDED.scopes,
    auto_approve_scopes = EXCLUDED.auto_approve_scopes,
    access_token_ttl_ms = EXCLUDED.access_token_ttl_ms,
    refresh_token_ttl_ms = EXCLUDED.refresh_token_ttl_ms`

	selectClientSQL = `SELECT ` + clientColumns + ` FROM oauth_client WHERE client_id = $1`
	deleteClientSQL = `DELETE FROM oauth_client WHERE client_id = $1`
	listClientsSQL  = `SELECT ` + clientColumns + ` FROM oauth_client ORDER BY client_id`
)

const tokenColumns = `token_id, token_type, client_id, owner_id, scopes, issued_at, expires_at, linked_token_id, family_id, generation, superseded`

const (
	insertTokenSQL = `INSERT INTO oauth_token (token_hash, ` + tokenColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (token_hash) DO NOTHING`

	selectTokenSQL          = `SELECT ` + tokenColumns + ` FROM oauth_token WHERE token_hash = $1`
	selectTokenForUpdateSQL = selectTokenSQL + ` FOR UPDATE`
	deleteTokenSQL          = `DELETE FROM oauth_token WHERE token_hash = $1`
	revokeFamilySQL         = `DELETE FROM oauth_token WHERE family_id = $1`
	revokeOwnerClientSQL    = `DELETE FROM oauth_token WHERE owner_id = $1 AND client_id = $2`
	supersedeTokenSQL       = `UPDATE oauth_token SET superseded = TRUE, linked_token_id = '' WHERE token_hash = $1`
	relinkTokenSQL          = `UPDATE oauth_token SET linked_token_id = $2 WHERE token_hash = $1`
	deleteExpiredTokensSQL  = `DELETE FROM oauth_token WHERE expires_at < $1`

	listTokensSQL = `SELECT ` + tokenColumns + ` FROM oauth_token
WHERE ($1 = '' OR client_id = $1) AND ($2 = '' OR owner_id = $2) AND ($3 = '' OR token_type = $3)
ORDER BY issued_at, token_id`
)

const codeColumns = `code, client_id, owner_id, redirect_uri, redirect_uri_provided, scopes, code_challenge, code_challenge_method, issued_at, expires_at, consumed, consumed_at, family_id`

const (
	insertCodeSQL = `INSERT INTO oauth_code (code_hash, ` + codeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (code_hash) DO NOTHING`

	selectCodeForUpdateSQL = `SELECT ` + codeColumns + ` FROM oauth_code WHERE code_hash = $1 FOR UPDATE`
	consumeCodeSQL         = `UPDATE oauth_code SET consumed = TRUE, consumed_at = $2, family_id = $3 WHERE code_hash = $1`

	// $1 is the sweep time, $2 the sweep time minus the consumed-code retention.
	deleteExpiredCodesSQL = `DELETE FROM oauth_code WHERE (NOT consumed AND expires_at < $1) OR expires_at < $2`
)

const (
	upsertApprovalSQL = `INSERT INTO oauth_approval (owner_id, client_id, scope, decision, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (owner_id, client_id, scope) DO UPDATE SET
    decision = EXCLUDED.decision,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at`

	selectApprovalsSQL = `SELECT owner_id, client_id, scope, decision, updated_at, expires_at
FROM oauth_approval WHERE owner_id = $1 AND client_id = $2 ORDER BY scope`

	deleteApprovalsSQL        = `DELETE FROM oauth_approval WHERE owner_id = $1 AND client_id = $2`
	deleteExpiredApprovalsSQL = `DELETE FROM oauth_approval WHERE expires_at IS NOT NULL AND expires_at < $1`
)
