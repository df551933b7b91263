package conv

import "strings"

func Ptr[T any](v T) *T {
	return &v
}

// ErrorToString renders err for a log column. Newlines are flattened so a
// single failure never spans several CSV rows.
func ErrorToString(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}
