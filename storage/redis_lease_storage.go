package storage

import (
	"time"

	"github.com/go-redis/redis"
	"github.com/juju/errors"

	"go-mirror-coordinator/model"
)

// 单脚本完成抢锁、续约和fencing token发放，保证原子性
const _leaseScript = `
local holder = redis.call('GET', KEYS[1])
if holder == false then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	local token = redis.call('INCR', KEYS[2])
	return {ARGV[1], token}
end
if holder == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	local token = tonumber(redis.call('GET', KEYS[2]))
	return {holder, token}
end
return {holder, 0}`

const _releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`

var (
	_leaseSha   = redis.NewScript(_leaseScript)
	_releaseSha = redis.NewScript(_releaseScript)
)

type redisLeaseStorage struct {
	key string
}

func (s *redisLeaseStorage) tokenKey() string {
	return s.key + ":token"
}

func (s *redisLeaseStorage) AcquireOrRenew(holderID string, ttl time.Duration) (*model.LeaderLease, error) {
	millis := ttl.Nanoseconds() / int64(time.Millisecond)
	result, err := _leaseSha.Run(_redisClient,
		[]string{s.key, s.tokenKey()}, holderID, millis).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}

	vals, ok := result.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, errors.Errorf("unexpected lease script reply: %v", result)
	}

	holder, _ := vals[0].(string)
	token, _ := vals[1].(int64)

	if holder != holderID {
		return nil, ErrLeaseDenied
	}

	return &model.LeaderLease{
		ResourceKey:  s.key,
		HolderID:     holderID,
		ExpiresAt:    time.Now().Add(ttl),
		FencingToken: token,
	}, nil
}

func (s *redisLeaseStorage) Release(holderID string) error {
	_, err := _releaseSha.Run(_redisClient, []string{s.key}, holderID).Result()
	return errors.Trace(err)
}

func (s *redisLeaseStorage) CurrentHolder() (string, error) {
	holder, err := _redisClient.Get(s.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Trace(err)
	}
	return holder, nil
}
