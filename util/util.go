package util

import (
	"os"
)

//TimeFormat stores a correctly formatted timestamp
const TimeFormat string = "2006-01-02-T15:04:05-0700"

//ReportTimeFormat is the whole-second UTC timestamp format attached to reports
const ReportTimeFormat string = "2006-01-02T15:04:05Z"

// Exists returns true if file or directory exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	return true
}

//StringInSlice returns true if the string is an element of the array
func StringInSlice(value string, list []string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}

//TruncateString shortens a string to at most max bytes
func TruncateString(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
