package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/codefionn/tempo/internal/socketclient"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, st *socketclient.Status) {
	switch st.State {
	case "active":
		fmt.Fprintf(w, "%s %s\n", color.GreenString("●"), color.New(color.Bold).Sprint(projectLabel(st)))
	case "paused":
		reason := st.PauseReason
		if reason == "" {
			reason = "paused"
		}
		fmt.Fprintf(w, "%s %s %s\n", color.YellowString("❚❚"), color.New(color.Bold).Sprint(projectLabel(st)), color.YellowString("(%s)", reason))
	default:
		fmt.Fprintln(w, color.HiBlackString("No active session"))
	}

	if st.State == "active" || st.State == "paused" {
		fmt.Fprintf(w, "  Path:     %s\n", st.ProjectPath)
		if st.StartedAt != nil {
			fmt.Fprintf(w, "  Started:  %s (%s)\n", st.StartedAt.Local().Format("15:04"), st.Context)
		}
		fmt.Fprintf(w, "  Active:   %s\n", formatSeconds(st.ActiveSeconds))
		if st.PausedSeconds > 0 {
			fmt.Fprintf(w, "  Paused:   %s\n", formatSeconds(st.PausedSeconds))
		}
		if len(st.LinkedProjects) > 0 {
			fmt.Fprintf(w, "  Linked:   %s\n", strings.Join(st.LinkedProjects, ", "))
		}
		if st.PendingSwitch != "" {
			fmt.Fprintf(w, "  Pending:  %s\n", st.PendingSwitch)
		}
	}

	if st.Degraded {
		fmt.Fprintf(w, "%s store unavailable, %d change(s) buffered\n", color.RedString("!"), st.BufferedWrites)
	}
	if dropped := formatDropped(st.Dropped); dropped != "" {
		fmt.Fprintf(w, "%s\n", color.HiBlackString("  Dropped:  %s", dropped))
	}
}

func projectLabel(st *socketclient.Status) string {
	if st.ProjectName != "" {
		return st.ProjectName
	}
	return st.ProjectPath
}

func formatSeconds(secs int64) string {
	d := time.Duration(secs) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm", h, m)
	}
	return fmt.Sprintf("%dm %02ds", m, int(d.Seconds())%60)
}

func formatDropped(dropped map[string]uint64) string {
	var parts []string
	for src, n := range dropped {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", src, n))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
