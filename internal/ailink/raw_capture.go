package ailink

import "strings"

func truncateBytes(input []byte, max int) []byte {
	if max <= 0 {
		return nil
	}
	if len(input) <= max {
		return input
	}
	out := make([]byte, 0, max)
	out = append(out, input[:max]...)
	return out
}

// CaptureRaw trims raw model output for logs and error details.
func CaptureRaw(cfg Config, raw string) string {
	limit := cfg.Debug.CaptureRawMaxBytes
	if limit <= 0 {
		return ""
	}
	return string(truncateBytes([]byte(raw), limit))
}

func safeOneLine(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}
