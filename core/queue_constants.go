package core

import (
	"fmt"
	"strings"
	"time"
)

// Queue/Redis key templates and default timeouts.
const (
	queuePrefix      = "submission_queue"
	processingPrefix = "submission_processing"
	statusPrefix     = "submission_status"
	resultPrefix     = "submission_result"

	// DefaultVisibilityTimeout is how long a worker may hold a reserved
	// job before the reclaimer considers it abandoned and requeues it.
	DefaultVisibilityTimeout = 30 * time.Second
	// DefaultStatusTTL bounds how long status/result cache entries live.
	DefaultStatusTTL = 3600 * time.Second
)

// SupportedLanguages is the closed set of languages the pipeline accepts.
var SupportedLanguages = []string{"python", "java", "nodejs", "cpp", "c"}

// IsSupportedLanguage reports whether key names a supported language.
func IsSupportedLanguage(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, l := range SupportedLanguages {
		if l == k {
			return true
		}
	}
	return false
}

func queueKey(lang string) string {
	return fmt.Sprintf("%s:%s", queuePrefix, strings.ToLower(strings.TrimSpace(lang)))
}

func processingKey(lang string) string {
	return fmt.Sprintf("%s:%s", processingPrefix, strings.ToLower(strings.TrimSpace(lang)))
}

func statusKey(submissionID string) string {
	return fmt.Sprintf("%s:%s", statusPrefix, submissionID)
}

func resultKey(submissionID string) string {
	return fmt.Sprintf("%s:%s", resultPrefix, submissionID)
}
