package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
)

func formatThreshold(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

// buildSummary renders the current sensor state of a machine and the
// recommendations that follow from threshold breaches.
func buildSummary(machine *storage.Machine, latest []*storage.SensorReading) (summary, recommendations string) {
	var sb, rb strings.Builder

	if len(latest) == 0 {
		sb.WriteString("No sensor data available for this machine.\n")
		rb.WriteString("Check the sensor configuration.\n")
		return sb.String(), rb.String()
	}

	fmt.Fprintf(&sb, "Current state of machine %s:\n", machine.Name)
	for _, r := range latest {
		fmt.Fprintf(&sb, "- %s : %.2f (min: %s, max: %s)\n",
			r.SensorType, r.Value, formatThreshold(r.MinThreshold), formatThreshold(r.MaxThreshold))

		sensor := &storage.Sensor{ID: r.SensorID, Type: r.SensorType, Unit: r.Unit,
			MinThreshold: r.MinThreshold, MaxThreshold: r.MaxThreshold}
		breach := monitoring.Evaluate(sensor, r.Value)
		if breach == nil {
			continue
		}
		switch breach.Direction {
		case monitoring.Above:
			fmt.Fprintf(&rb, "Alert: %s exceeds the maximum threshold (%.2f). Recommended action: check immediately.\n",
				r.SensorType, breach.Limit)
		case monitoring.Below:
			fmt.Fprintf(&rb, "Alert: %s is below the minimum threshold (%.2f). Recommended action: inspect the cause.\n",
				r.SensorType, breach.Limit)
		}
	}
	return sb.String(), rb.String()
}

// buildComparison summarises what happened since the previous report.
func buildComparison(previous *storage.Report, stats []storage.SensorWindowStats) string {
	if previous == nil {
		return "First report for this machine.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nComparison with the previous report of %s:\n", previous.Date.UTC().Format(time.RFC3339))

	var total int64
	for _, st := range stats {
		total += st.Count
	}
	if total == 0 {
		b.WriteString("- No readings since the previous report.\n")
		return b.String()
	}

	for _, st := range stats {
		if st.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s: %d readings, %d out of threshold, average %s\n",
			st.SensorType, st.Count, st.OutOfThreshold, formatThreshold(st.Average))
	}
	return b.String()
}
