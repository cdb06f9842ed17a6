package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"aquaguard/internal/model"
)

func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "#d32f2f"
	case model.SeverityWarning:
		return "#f57c00"
	case model.SeverityAdvisory:
		return "#1976d2"
	}
	return "#000000"
}

func Subject(alert model.Alert) string {
	return fmt.Sprintf("[%s] %s %s alert at %s",
		strings.ToUpper(string(alert.Severity)),
		alert.Parameter.Label(),
		alert.AlertType,
		displayName(alert),
	)
}

func displayName(alert model.Alert) string {
	if alert.DeviceName != "" {
		return alert.DeviceName
	}
	return alert.DeviceID
}

// Render builds the subject and HTML body of an alert notification.
func Render(alert model.Alert) (string, string) {
	return Subject(alert), renderBody(alert, "Water Quality Alert")
}

// RenderEscalation is used when an alert has stayed active past the staleness window.
func RenderEscalation(alert model.Alert) (string, string) {
	return "[ESCALATION] " + Subject(alert), renderBody(alert, "Unacknowledged Critical Alert")
}

func renderBody(alert model.Alert, heading string) string {
	color := severityColor(alert.Severity)
	var body strings.Builder
	body.WriteString("<!DOCTYPE html><html><body>")
	body.WriteString(fmt.Sprintf("<h2 style='color:%s'>%s</h2>", color, html.EscapeString(heading)))
	body.WriteString("<table border='1' cellpadding='5' cellspacing='0' style='border-collapse:collapse'>")
	row := func(label, value string) {
		body.WriteString(fmt.Sprintf("<tr><th style='text-align:left;background-color:#f2f2f2'>%s</th><td>%s</td></tr>", label, value))
	}
	row("Severity", fmt.Sprintf("<span style='color:%s;font-weight:bold'>%s</span>", color, html.EscapeString(strings.ToUpper(string(alert.Severity)))))
	row("Device", html.EscapeString(displayName(alert)))
	row("Parameter", html.EscapeString(alert.Parameter.Label()))
	row("Value", strconv.FormatFloat(alert.CurrentValue, 'f', 2, 64))
	if alert.ThresholdValue != nil {
		row("Threshold", strconv.FormatFloat(*alert.ThresholdValue, 'f', 2, 64))
	}
	if alert.TrendDirection != "" {
		row("Trend", html.EscapeString(string(alert.TrendDirection)))
	}
	row("Raised", alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	body.WriteString("</table>")
	body.WriteString(fmt.Sprintf("<p>%s</p>", html.EscapeString(alert.Message)))
	body.WriteString(fmt.Sprintf("<p><strong>Recommended action:</strong> %s</p>", html.EscapeString(alert.RecommendedAction)))
	body.WriteString("</body></html>")
	return body.String()
}
