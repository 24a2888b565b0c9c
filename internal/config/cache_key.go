package config

import (
	"fmt"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey holds the JTI of the user's current token.
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// LoginAttemptsKey counts failed logins for an email; expires after the lockout window.
func (r *CacheKeyStruct) LoginAttemptsKey(email string) string {
	return fmt.Sprintf("login_attempts:%s", strings.ToLower(strings.TrimSpace(email)))
}

// ExamKey caches the full exam definition, answer key included. Server side only.
func (r *CacheKeyStruct) ExamKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// AttemptSnapshotKey caches the exam snapshot taken when the attempt was authorized.
func (r *CacheKeyStruct) AttemptSnapshotKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:snapshot", attemptID)
}

// AttemptAnswersKey is the checkpoint hash: slot -> selected option.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptViolationsKey counts integrity signals for an attempt.
func (r *CacheKeyStruct) AttemptViolationsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

// AttemptSubmitLockKey guards against concurrent submissions of one attempt.
func (r *CacheKeyStruct) AttemptSubmitLockKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:submit_lock", attemptID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// RateLimitKey counts requests from one client IP within a limiter scope.
func (r *CacheKeyStruct) RateLimitKey(scope, ip string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, ip)
}

var CacheKey = NewCacheKeyStruct()
