package redis

import goredis "github.com/redis/go-redis/v9"

// Balance scripts return {status, value}. Status 1 means applied, 0 means the
// balance guard failed, -1 means the account hash does not exist and -2 means
// the increment would overflow. Values are returned as the stored strings,
// since Lua numbers are doubles and lose precision on large balances.
const (
	statusOverflow     = -2
	statusMissing      = -1
	statusInsufficient = 0
	statusApplied      = 1
)

// createAccountScript writes the account hash only if it is absent.
// ARGV holds alternating field/value pairs.
var createAccountScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// decrementScript subtracts ARGV[1] only when the balance covers it.
var decrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-1, '0'}
end
local raw = redis.call('HGET', KEYS[1], 'credits') or '0'
if tonumber(raw) < tonumber(ARGV[1]) then
    return {0, raw}
end
redis.call('HINCRBY', KEYS[1], 'credits', '-' .. ARGV[1])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return {1, redis.call('HGET', KEYS[1], 'credits')}
`)

// incrementScript adds ARGV[1] to an existing balance. ARGV[3] is the largest
// balance that can take the increment; HINCRBY's own overflow check backs up
// the float comparison near the limit.
var incrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-1, '0'}
end
local raw = redis.call('HGET', KEYS[1], 'credits') or '0'
if tonumber(raw) > tonumber(ARGV[3]) then
    return {-2, raw}
end
local res = redis.pcall('HINCRBY', KEYS[1], 'credits', ARGV[1])
if type(res) == 'table' and res.err then
    return {-2, raw}
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return {1, redis.call('HGET', KEYS[1], 'credits')}
`)

// setScript replaces the balance and returns the previous one.
var setScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return {-1, '0'}
end
local before = redis.call('HGET', KEYS[1], 'credits') or '0'
redis.call('HSET', KEYS[1], 'credits', ARGV[1], 'updated_at', ARGV[2])
return {1, before}
`)

// updatePlanScript changes the plan of an existing account.
var updatePlanScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('HSET', KEYS[1], 'plan', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

// delIfEqualScript drops an idempotency pointer only while it still names the
// purged record.
var delIfEqualScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)
