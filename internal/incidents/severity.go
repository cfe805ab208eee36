package incidents

// Severity grades an incident by how close the person came to the vehicle.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Grade maps a separation distance in meters to a severity.
func Grade(distance float64) Severity {
	switch {
	case distance < 1:
		return SeverityCritical
	case distance < 1.5:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Color is the badge color of s.
func (s Severity) Color() string {
	switch s {
	case SeverityCritical:
		return "red"
	case SeverityHigh:
		return "orange"
	default:
		return "yellow"
	}
}
