package models

import (
	"bitbucket.org/vetmanager/caja_backend/utils"
)

type RedisCleaner interface {
	RemoveInstanceRedis() error // remove one
	RemoveAllRedis() error      // remove list & map if exists
}

// remove both item & list + map
func RemoveRedisBoth[T RedisCleaner](obj T) error {
	if err := obj.RemoveInstanceRedis(); err != nil {
		return err
	}
	if err := obj.RemoveAllRedis(); err != nil {
		return err
	}
	return nil
}

func (obj Location) RemoveInstanceRedis() error {
	if err := utils.RemoveRedisItem[Location](obj.ID); err != nil {
		return err
	}
	return nil
}

func (obj Location) RemoveAllRedis() error {
	if err := utils.RemoveRedisList[AllLocation](obj.ClinicId); err != nil {
		return err
	}
	if err := utils.RemoveRedisMap[AllLocation](obj.ClinicId); err != nil {
		return err
	}
	return nil
}
