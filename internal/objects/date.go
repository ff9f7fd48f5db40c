package objects

import "time"

// FormatCommitDate renders a commit's big-endian unix timestamp the way
// `ostree show` renders it: "YYYY-MM-DD HH:MM:SS +0000", human-readable, UTC.
func FormatCommitDate(timestamp uint64) string {
	return time.Unix(int64(timestamp), 0).UTC().Format("2006-01-02 15:04:05 +0000")
}

// ParseCommitDate parses the same format back into a unix timestamp.
// Nothing in this module calls it; no CLI flag accepts a human date.
func ParseCommitDate(s string) (uint64, error) {
	t, err := time.Parse("2006-01-02 15:04:05 +0000", s)
	if err != nil {
		return 0, err
	}
	return uint64(t.Unix()), nil
}
