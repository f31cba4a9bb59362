/*
 * Copyright 2020-2021 the original author(https://github.com/wj596)
 *
 * <p>
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 * </p>
 */
package storage

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/juju/errors"
	"go.etcd.io/bbolt"
	"go.etcd.io/etcd/clientv3"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/util/files"
)

const (
	_boltFilePath = "db"
	_boltFileName = "data.db"
	_boltFileMode = 0600

	_etcdDialTimeout = 10 * time.Second
)

var (
	_mirrorBucket = []byte("Mirror")

	_bolt        *bbolt.DB
	_redisClient *redis.Client
	_etcdConn    *clientv3.Client
	_etcdOps     clientv3.KV
)

func InitStorage(conf *global.Config) error {
	if err := initBolt(conf); err != nil {
		return err
	}

	if conf.IsRedis() {
		if err := initRedis(conf); err != nil {
			return err
		}
	}

	if conf.IsEtcd() {
		if err := initEtcd(conf); err != nil {
			return err
		}
	}

	return nil
}

func initBolt(conf *global.Config) error {
	boltStorePath := filepath.Join(conf.DataDir, _boltFilePath)
	if err := files.MkdirIfNecessary(boltStorePath); err != nil {
		return errors.Annotate(err, "create boltdb store")
	}

	boltFilePath := filepath.Join(boltStorePath, _boltFileName)
	bolt, err := bbolt.Open(boltFilePath, _boltFileMode, bbolt.DefaultOptions)
	if err != nil {
		return errors.Annotate(err, "open boltdb")
	}

	err = bolt.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(_mirrorBucket)
		return err
	})

	_bolt = bolt

	return err
}

func initRedis(conf *global.Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Coordination.RedisAddr,
		Password: conf.Coordination.RedisPass,
		DB:       conf.Coordination.RedisDatabase,
	})

	if _, err := client.Ping().Result(); err != nil {
		return errors.Trace(err)
	}

	_redisClient = client

	return nil
}

func initEtcd(conf *global.Config) error {
	list := strings.Split(conf.Coordination.EtcdAddrs, ",")
	config := clientv3.Config{
		Endpoints:   list,
		Username:    conf.Coordination.EtcdUser,
		Password:    conf.Coordination.EtcdPassword,
		DialTimeout: _etcdDialTimeout,
	}

	client, err := clientv3.New(config)
	if err != nil {
		return errors.Trace(err)
	}
	_etcdConn = client
	_etcdOps = clientv3.NewKV(_etcdConn)

	return nil
}

func RedisClient() *redis.Client {
	return _redisClient
}

func EtcdConn() *clientv3.Client {
	return _etcdConn
}

func EtcdOps() clientv3.KV {
	return _etcdOps
}

func CloseStorage() {
	if _bolt != nil {
		_bolt.Close()
	}
	if _redisClient != nil {
		_redisClient.Close()
	}
	if _etcdConn != nil {
		_etcdConn.Close()
	}
}
