package redis

const (
	// upsertActiveSessionScript atomically writes a session record and its index entry
	upsertActiveSessionScript = `
local session_key = KEYS[1]     -- {prefix}:active:{guild}:{user}
local active_set = KEYS[2]      -- {prefix}:active

redis.call('HSET', session_key,
  'guild_id', ARGV[1],
  'user_id', ARGV[2],
  'channel_id', ARGV[3],
  'started_at', ARGV[4]
)
redis.call('SADD', active_set, ARGV[1] .. ':' .. ARGV[2])

return 'OK'
`

	// deleteActiveSessionScript atomically removes a session record and its index entry.
	// Returns 0 when no record existed.
	deleteActiveSessionScript = `
local session_key = KEYS[1]     -- {prefix}:active:{guild}:{user}
local active_set = KEYS[2]      -- {prefix}:active

local deleted = redis.call('DEL', session_key)
redis.call('SREM', active_set, ARGV[1])

return deleted
`

	// accrueScript atomically credits one finalized interval.
	// KEYS[3..n] are monthly keys, ARGV[3..n] the matching month slices.
	accrueScript = `
local totals_key = KEYS[1]      -- {prefix}:totals:{guild}
local channel_key = KEYS[2]     -- {prefix}:channel:{guild}:{channel}

local user_id = ARGV[1]
local total_ms = ARGV[2]

redis.call('ZINCRBY', totals_key, total_ms, user_id)
redis.call('ZINCRBY', channel_key, total_ms, user_id)

for i = 3, #KEYS do
  redis.call('ZINCRBY', KEYS[i], ARGV[i], user_id)
end

return 'OK'
`

	// adjustScript atomically applies a signed delta to each key, flooring at zero
	adjustScript = `
local user_id = ARGV[1]
local delta = ARGV[2]

for i = 1, #KEYS do
  local value = tonumber(redis.call('ZINCRBY', KEYS[i], delta, user_id))
  if value < 0 then
    redis.call('ZADD', KEYS[i], 0, user_id)
  end
end

return 'OK'
`
)
