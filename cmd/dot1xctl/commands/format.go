// Package commands implements the dot1xctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is
// not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatPorts renders a slice of port snapshots in the requested format.
func formatPorts(ports []portSnapshot, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(ports)
	case formatTable:
		return formatPortsTable(ports), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatPort renders a single port snapshot in the requested format.
func formatPort(p portSnapshot, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(p)
	case formatTable:
		return formatPortDetail(p), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatEvent renders one state-change event in the requested format.
func formatEvent(ev stateChangeEvent, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(ev)
	case formatTable:
		return fmt.Sprintf("%s port=%d %s %s -> %s authorized=%t",
			ev.Timestamp.Format("15:04:05"), ev.Port, ev.Machine,
			ev.OldState, ev.NewState, ev.Authorized), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// marshalJSON renders any value as indented JSON.
func marshalJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(b), nil
}

// formatPortsTable renders the port list as an aligned table.
func formatPortsTable(ports []portSnapshot) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "PORT\tSTATUS\tPAE\tBACKEND\tEAP\tSUPPLICANT\tIDENTITY")
	for _, p := range ports {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Index, p.AuthPortStatus, p.PaeState, p.BackendState,
			p.EapState, p.SupplicantMAC, p.Identity)
	}
	w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

// formatPortDetail renders one port as a key/value block.
func formatPortDetail(p portSnapshot) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Port:\t%d\n", p.Index)
	fmt.Fprintf(w, "Status:\t%s\n", p.AuthPortStatus)
	fmt.Fprintf(w, "Link:\t%t\n", p.PortEnabled)
	fmt.Fprintf(w, "PAE state:\t%s\n", p.PaeState)
	fmt.Fprintf(w, "Backend state:\t%s\n", p.BackendState)
	fmt.Fprintf(w, "Reauth timer:\t%s\n", p.ReauthState)
	fmt.Fprintf(w, "EAP state:\t%s\n", p.EapState)
	fmt.Fprintf(w, "Source MAC:\t%s\n", p.SourceMAC)
	fmt.Fprintf(w, "Supplicant MAC:\t%s\n", p.SupplicantMAC)
	fmt.Fprintf(w, "Identity:\t%s\n", p.Identity)
	fmt.Fprintf(w, "EAPOL rx/tx:\t%d/%d\n", p.Counters.EapolFramesRx, p.Counters.EapolFramesTx)
	fmt.Fprintf(w, "Invalid frames:\t%d\n", p.Counters.InvalidEapolFramesRx)
	fmt.Fprintf(w, "Length errors:\t%d\n", p.Counters.EapLengthErrorFramesRx)
	fmt.Fprintf(w, "Session time:\t%ds\n", p.Counters.SessionTime)
	w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}
