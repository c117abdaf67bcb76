package shared

import "fmt"

// SubjectLockKey builds redis keys guarding a workflow subject's transitions.
func SubjectLockKey(kind string, id int64) string {
	return fmt.Sprintf("approval:%s:%d:lock", kind, id)
}
