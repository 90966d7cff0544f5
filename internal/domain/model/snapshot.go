package model

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the stored form of row timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	filenameLayout  = "20060102150405"
	timestampDigits = len(filenameLayout)
	snapshotExt     = ".json"
)

// SnapshotKey returns the ordering key of a snapshot filename. Separators
// inside the leading timestamp are dropped so "20250101_000000_a.json" and
// "2025_0101_000000.json" order by the time they encode. For names following
// the YYYYMMDD_HHMMSS_ convention the key order equals plain string order.
func SnapshotKey(name string) string {
	stem := strings.TrimSuffix(name, snapshotExt)
	digits, rest, ok := splitTimestamp(stem)
	if !ok {
		return stem
	}
	return digits + rest
}

// CompareSnapshots orders two snapshot filenames by SnapshotKey. The empty
// name sorts before everything.
func CompareSnapshots(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}
	return strings.Compare(SnapshotKey(a), SnapshotKey(b))
}

// SnapshotAfter reports whether name sorts strictly after watermark.
func SnapshotAfter(name, watermark string) bool {
	return CompareSnapshots(name, watermark) > 0
}

// SnapshotTime parses the time encoded in a snapshot filename.
func SnapshotTime(name string) (time.Time, error) {
	stem := strings.TrimSuffix(name, snapshotExt)
	digits, _, ok := splitTimestamp(stem)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	t, err := time.Parse(filenameLayout, digits)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrInvalidFilename, name, err)
	}
	return t, nil
}

// TimestampFromFilename returns the row timestamp for a snapshot filename.
func TimestampFromFilename(name string) (string, error) {
	t, err := SnapshotTime(name)
	if err != nil {
		return "", err
	}
	return t.Format(TimestampLayout), nil
}

// splitTimestamp reads the leading run of digits, '_' and '-' until it holds
// fourteen digits. It returns the digits and the unread remainder.
func splitTimestamp(stem string) (string, string, bool) {
	var b strings.Builder
	for i := 0; i < len(stem); i++ {
		c := stem[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
			if b.Len() == timestampDigits {
				return b.String(), stem[i+1:], true
			}
		case c == '_' || c == '-':
		default:
			return "", stem, false
		}
	}
	return "", stem, false
}
