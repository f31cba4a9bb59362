package storage

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/juju/errors"
	"go.etcd.io/bbolt"

	"go-mirror-coordinator/model"
)

// MirrorStorage persists mirror lifecycle records across restarts so a
// new leader can resume work on tables left in a transient state.
type MirrorStorage struct {
}

func NewMirrorStorage() *MirrorStorage {
	return &MirrorStorage{}
}

func (s *MirrorStorage) Save(record *model.MirrorRecord) error {
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	data, err := jsoniter.Marshal(record)
	if err != nil {
		return errors.Trace(err)
	}

	return _bolt.Update(func(tx *bbolt.Tx) error {
		bt := tx.Bucket(_mirrorBucket)
		return bt.Put([]byte(record.TableKey()), data)
	})
}

func (s *MirrorStorage) Get(tableKey string) (*model.MirrorRecord, error) {
	var entity *model.MirrorRecord

	err := _bolt.View(func(tx *bbolt.Tx) error {
		bt := tx.Bucket(_mirrorBucket)
		data := bt.Get([]byte(tableKey))
		if data == nil {
			return errors.NotFoundf("mirror record %s", tableKey)
		}
		entity = &model.MirrorRecord{}
		return jsoniter.Unmarshal(data, entity)
	})

	return entity, err
}

func (s *MirrorStorage) Delete(tableKey string) error {
	return _bolt.Update(func(tx *bbolt.Tx) error {
		bt := tx.Bucket(_mirrorBucket)
		return bt.Delete([]byte(tableKey))
	})
}

func (s *MirrorStorage) All() ([]*model.MirrorRecord, error) {
	var list []*model.MirrorRecord

	err := _bolt.View(func(tx *bbolt.Tx) error {
		bt := tx.Bucket(_mirrorBucket)
		cursor := bt.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entity model.MirrorRecord
			if err := jsoniter.Unmarshal(v, &entity); err != nil {
				return err
			}
			list = append(list, &entity)
		}
		return nil
	})

	return list, err
}
