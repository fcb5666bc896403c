package diagnostics

import "strings"

const (
	SeverityCritical  = "Critical - shutdown required"
	SeverityAttention = "Attention - adjustment required"
	SeverityUrgent    = "Urgent - intervention required"
	SeverityInspect   = "Maintenance - inspection required"
	SeverityScheduled = "Scheduled - routine maintenance"
	SeverityNormal    = "Normal - continued monitoring"
)

// Classify derives a severity from the diagnostic type and its details.
// Matching is case-insensitive on substrings.
func Classify(diagnosticType, details string) string {
	t := strings.ToLower(diagnosticType)
	d := strings.ToLower(details)

	switch {
	case strings.Contains(t, "temperature"):
		if strings.Contains(d, "too high") {
			return SeverityCritical
		}
		if strings.Contains(d, "too low") {
			return SeverityAttention
		}
	case strings.Contains(t, "pressure"):
		if strings.Contains(d, "insufficient") || strings.Contains(d, "too high") {
			return SeverityUrgent
		}
	case strings.Contains(t, "vibration"):
		if strings.Contains(d, "excessive") {
			return SeverityInspect
		}
	case strings.Contains(t, "preventive"):
		return SeverityScheduled
	}
	return SeverityNormal
}

// IsCritical reports whether a severity or status calls for immediate action.
func IsCritical(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "critical") || strings.Contains(l, "urgent")
}
