package redis

import "github.com/redis/go-redis/v9"

// Script results.
const (
	resultOK                = 1
	resultNotFound          = 0
	resultInvalidTransition = -1
	resultAlreadyExists     = -2
)

// KEYS: task, stages, stage_data, stage_order, input, index
// ARGV: task_id, label, now_us, score_ms, ttl_ms
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return -2
end
redis.call('DEL', KEYS[2], KEYS[3], KEYS[4], KEYS[5])
redis.call('HSET', KEYS[1],
  'task_id', ARGV[1], 'label', ARGV[2], 'status', 'queued',
  'created_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('ZADD', KEYS[6], ARGV[4], ARGV[1])
return 1
`)

// KEYS: task, stages, stage_data, stage_order
// ARGV: stage, status, record, data, updated_us, ttl_ms, allowed predecessors...
var putStageScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local prev = redis.call('HGET', KEYS[2], ARGV[1])
if prev then
  local prevStatus = cjson.decode(prev).status
  local allowed = false
  for i = 7, #ARGV do
    if ARGV[i] == prevStatus then
      allowed = true
      break
    end
  end
  if not allowed then
    return -1
  end
else
  redis.call('RPUSH', KEYS[4], ARGV[1])
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
end
local updated = tonumber(redis.call('HGET', KEYS[1], 'updated_at') or '0')
if tonumber(ARGV[5]) > updated then
  redis.call('HSET', KEYS[1], 'updated_at', ARGV[5])
end
for i = 1, 4 do
  redis.call('PEXPIRE', KEYS[i], ARGV[6])
end
return 1
`)

// KEYS: task, stages, stage_data, stage_order
// ARGV: status, result, error, updated_us, ttl_ms, allowed predecessors...
var setStatusScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return 0
end
local allowed = false
for i = 6, #ARGV do
  if ARGV[i] == cur then
    allowed = true
    break
  end
end
if not allowed then
  return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
if ARGV[1] == 'completed' and ARGV[2] ~= '' then
  redis.call('HSET', KEYS[1], 'result', ARGV[2])
end
if ARGV[1] == 'failed' then
  redis.call('HSET', KEYS[1], 'error', ARGV[3])
end
local updated = tonumber(redis.call('HGET', KEYS[1], 'updated_at') or '0')
if tonumber(ARGV[4]) > updated then
  redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
end
for i = 1, 4 do
  if redis.call('EXISTS', KEYS[i]) == 1 then
    redis.call('PEXPIRE', KEYS[i], ARGV[5])
  end
end
return 1
`)

// KEYS: task, input
// ARGV: data, expires_us, ttl_ms
var putInputScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HEXISTS', KEYS[1], 'input_expires_at') == 1 then
  return -2
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[3])
redis.call('HSET', KEYS[1], 'input_expires_at', ARGV[2])
return 1
`)
