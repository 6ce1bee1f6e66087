package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentAggregateLockKey returns the key guarding a student's derived fields.
func (r *CacheKeyStruct) StudentAggregateLockKey(studentID int) string {
	return fmt.Sprintf("lock:student:%d:aggregate", studentID)
}

var CacheKey = NewCacheKeyStruct()

// RateLimitKey returns the counter key for one rate limit window.
func (r *CacheKeyStruct) RateLimitKey(scope, subject string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, subject, window)
}
