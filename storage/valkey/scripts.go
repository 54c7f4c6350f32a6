package valkey

import (
	"context"
	"errors"
	"strconv"

	"github.com/giantswarm/authz-server/storage"
)

// Token inserts are passed to scripts as three consecutive KEYS entries
//
//	token key, family index key, owner-client index key
//
// and four consecutive ARGV entries
//
//	data, ttl ms, index member (token hash), "1" if the token has a family
//
// Tokens outside a family repeat the owner-client key in the family slot.
const (
	tokenKeyCount = 3
	tokenArgCount = 4
)

// luaTokenHelpers is prepended to every script that inserts tokens.
// Index set TTLs are only ever extended so a set outlives its longest member.
const luaTokenHelpers = `
local function tokens_exist(kpos, n)
    for i = 0, n - 1 do
        if redis.call('EXISTS', KEYS[kpos + i * 3]) == 1 then
            return true
        end
    end
    return false
end

local function add_index(idx, member, ttl)
    redis.call('SADD', idx, member)
    if redis.call('PTTL', idx) < ttl then
        redis.call('PEXPIRE', idx, ttl)
    end
end

local function insert_tokens(kpos, apos, n)
    for i = 0, n - 1 do
        local k = kpos + i * 3
        local a = apos + i * 4
        local ttl = tonumber(ARGV[a + 1])
        redis.call('SET', KEYS[k], ARGV[a], 'PX', ttl)
        if ARGV[a + 3] == '1' then
            add_index(KEYS[k + 1], ARGV[a + 2], ttl)
        end
        add_index(KEYS[k + 2], ARGV[a + 2], ttl)
    end
end
`

// luaCreateTokens inserts a batch of tokens, or none if any key exists.
//
// KEYS    = the token key groups
// ARGV[1] = number of tokens, followed by the token argument groups
//
// Returns "OK" or "EXISTS".
const luaCreateTokens = luaTokenHelpers + `
local n = tonumber(ARGV[1])
if tokens_exist(1, n) then
    return 'EXISTS'
end
insert_tokens(1, 2, n)
return 'OK'
`

// luaCompareAndCommit guards a compound update on one record.
//
// KEYS[1] = guarded record key
// KEYS[2..] = keys to delete, then the token key groups
// ARGV[1] = value the caller read; the script aborts if it changed
// ARGV[2] = "set" to overwrite the record (keeping its TTL) or "del"
// ARGV[3] = replacement value for "set"
// ARGV[4] = number of keys to delete
// ARGV[5] = number of tokens to insert, followed by the token argument groups
//
// Returns "OK", "CONFLICT" when the guarded value changed (including when it
// was deleted), or "EXISTS" when a token to insert already exists.
const luaCompareAndCommit = luaTokenHelpers + `
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
    return 'CONFLICT'
end

local ndel = tonumber(ARGV[4])
local n = tonumber(ARGV[5])
local kpos = 2 + ndel
if tokens_exist(kpos, n) then
    return 'EXISTS'
end

for i = 2, ndel + 1 do
    redis.call('DEL', KEYS[i])
end
if ARGV[2] == 'del' then
    redis.call('DEL', KEYS[1])
else
    redis.call('SET', KEYS[1], ARGV[3], 'KEEPTTL')
end
insert_tokens(kpos, 6, n)
return 'OK'
`

// luaRevokeIndex deletes every token listed in an index set and the set
// itself.
//
// KEYS[1] = index set key
// ARGV[1] = token key prefix
//
// Returns the number of token keys deleted.
const luaRevokeIndex = `
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, m in ipairs(members) do
    n = n + redis.call('DEL', ARGV[1] .. m)
end
redis.call('DEL', KEYS[1])
return n
`

// luaDeleteHash deletes a hash and returns how many fields it had.
const luaDeleteHash = `
local n = redis.call('HLEN', KEYS[1])
redis.call('DEL', KEYS[1])
return n
`

const (
	scriptOK       = "OK"
	scriptConflict = "CONFLICT"
	scriptExists   = "EXISTS"
)

// errConflict is reported when a compare-and-commit keeps losing to
// concurrent writers.
var errConflict = errors.New("concurrent modification")

// appendToken appends the script keys and arguments inserting t.
func (s *Store) appendToken(keys, args []string, t *storage.Token) ([]string, []string, error) {
	data, err := encodeToken(t)
	if err != nil {
		return nil, nil, err
	}
	ownerClient := s.ownerClientKey(t.OwnerID, t.ClientID)
	family, hasFamily := s.familyKey(t.FamilyID), "1"
	if family == "" {
		family, hasFamily = ownerClient, "0"
	}
	keys = append(keys, s.tokenKey(t.ID), family, ownerClient)
	args = append(args,
		data,
		strconv.FormatInt(ttlMillis(t.ExpiresAt, s.tokenRetention), 10),
		storage.HashTokenID(t.ID),
		hasFamily,
	)
	return keys, args, nil
}

// commit describes one luaCompareAndCommit invocation.
type commit struct {
	key         string
	expected    string
	delete      bool
	replacement string
	deleteKeys  []string
	insert      []*storage.Token
}

func (s *Store) compareAndCommit(ctx context.Context, c commit) (string, error) {
	mode := "set"
	if c.delete {
		mode = "del"
	}
	keys := make([]string, 0, 1+len(c.deleteKeys)+len(c.insert)*tokenKeyCount)
	keys = append(keys, c.key)
	keys = append(keys, c.deleteKeys...)
	args := make([]string, 0, 5+len(c.insert)*tokenArgCount)
	args = append(args, c.expected, mode, c.replacement,
		strconv.Itoa(len(c.deleteKeys)), strconv.Itoa(len(c.insert)))
	for _, t := range c.insert {
		var err error
		if keys, args, err = s.appendToken(keys, args, t); err != nil {
			return "", err
		}
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCompareAndCommit).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(args...).
			Build(),
	).ToString()
	if err != nil {
		return "", unavailable("compare and commit", err)
	}
	return result, nil
}
