package queue

import "github.com/redis/go-redis/v9"

// KEYS: ready, files, task hash. ARGV: task id, file id, enqueued_at ms.
var enqueueScript = redis.NewScript(`
redis.call('HSET', KEYS[3], 'file_id', ARGV[2], 'enqueued_at', ARGV[3], 'delivery_count', 0)
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// KEYS: ready, inflight, dead, files.
// ARGV: key prefix, now ms, visibility ms, max deliveries.
//
// Task hash keys are built from the prefix because the task id is only known
// once popped. The prefix carries the hash tag of KEYS, so on Redis Cluster
// they share a slot.
//
// Expired in-flight tasks are pushed back to the consuming end of the ready
// list first. Tasks whose hash is gone were acked and are skipped. A
// dead-lettered task keeps its hash so it can be inspected.
var receiveScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('RPUSH', KEYS[1], id)
end

while true do
	local id = redis.call('RPOP', KEYS[1])
	if not id then
		return false
	end
	local tkey = ARGV[1] .. ':task:' .. id
	if redis.call('EXISTS', tkey) == 1 then
		local count = redis.call('HINCRBY', tkey, 'delivery_count', 1)
		local fileID = redis.call('HGET', tkey, 'file_id')
		if count > tonumber(ARGV[4]) then
			redis.call('LPUSH', KEYS[3], id)
			if redis.call('HGET', KEYS[4], fileID) == id then
				redis.call('HDEL', KEYS[4], fileID)
			end
		else
			local deadline = now + tonumber(ARGV[3])
			redis.call('ZADD', KEYS[2], deadline, id)
			return {id, fileID, redis.call('HGET', tkey, 'enqueued_at'), count, deadline}
		end
	end
end
`)

// KEYS: ready, inflight, files, task hash. ARGV: task id, file id.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('DEL', KEYS[4])
if redis.call('HGET', KEYS[3], ARGV[2]) == ARGV[1] then
	redis.call('HDEL', KEYS[3], ARGV[2])
end
return 1
`)

// KEYS: inflight. ARGV: task id, deadline ms.
var extendScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
	return 1
end
return 0
`)
