package reporting

import (
	"fmt"
	"io"
	"strings"
)

// WriteText renders the report as plain text.
func WriteText(w io.Writer, r *Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", r.SystemName)
	fmt.Fprintf(&b, "Verdict: %s\n", r.Verdict)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format("2006-01-02 15:04"))
	b.WriteString(strings.Repeat("=", 72) + "\n")

	b.WriteString("\nHosts\n")
	b.WriteString(strings.Repeat("-", 72) + "\n")
	for _, h := range r.Hosts {
		name := h.Name
		if h.Vendor != "" {
			name += " (" + h.Vendor + ")"
		}
		fmt.Fprintf(&b, "[%s] %-40s %s\n", h.Verdict, name, h.Status)
		for _, s := range h.Services {
			fmt.Fprintf(&b, "  [%s] %-38s %s\n", s.Verdict, s.Name, s.Status)
		}
	}

	b.WriteString("\nConnections\n")
	b.WriteString(strings.Repeat("-", 72) + "\n")
	for _, c := range r.Connections {
		fmt.Fprintf(&b, "[%s] %s => %s  %s", c.Verdict, c.Source, c.Target, c.Status)
		if c.Flows > 0 {
			fmt.Fprintf(&b, "  flows=%d", c.Flows)
		}
		b.WriteString("\n")
	}

	if len(r.Sources) > 0 {
		b.WriteString("\nEvidence\n")
		b.WriteString(strings.Repeat("-", 72) + "\n")
		for _, s := range r.Sources {
			fmt.Fprintf(&b, "  %s\n", s)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
