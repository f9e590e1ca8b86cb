// ABOUTME: Text and table rendering for command output
// ABOUTME: Shared by the console commands and the CLI subcommands

package command

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/2389/aether-bridge/internal/config"
	"github.com/2389/aether-bridge/internal/feature"
	"github.com/2389/aether-bridge/internal/inbound"
	"github.com/2389/aether-bridge/internal/store"
)

// historyMessageWidth truncates message text in history tables.
const historyMessageWidth = 40

var (
	enabledColor  = color.New(color.FgGreen)
	disabledColor = color.New(color.FgRed)
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	return table
}

func stateLabel(enabled bool) string {
	if enabled {
		return enabledColor.Sprint("enabled")
	}
	return disabledColor.Sprint("disabled")
}

// ListenURLs returns an http URL on port for every non-loopback interface
// address. IPv6 hosts are bracketed.
func ListenURLs(port int) ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("listing interface addresses: %w", err)
	}
	return listenURLs(addrs, port), nil
}

func listenURLs(addrs []net.Addr, port int) []string {
	return lo.FilterMap(addrs, func(a net.Addr, _ int) (string, bool) {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			return "", false
		}
		if ip == nil || ip.IsLoopback() {
			return "", false
		}
		return "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(port)), true
	})
}

// WriteInfo prints the configuration summary, the reachable listen URLs and
// a ready-to-run curl command.
func WriteInfo(out io.Writer, cfg *config.Config, urls []string) {
	_, _ = headColor.Fprintln(out, "=== aether-bridge configuration ===")
	fmt.Fprintf(out, "API URL:     %s\n", cfg.APIURL)
	fmt.Fprintf(out, "Listen port: %d\n", cfg.ListenPort)
	fmt.Fprintf(out, "API key:     %s\n", cfg.APIKey)
	fmt.Fprintf(out, "Chat prefix: %s\n", cfg.DefaultChatPrefix)

	fmt.Fprintln(out)
	_, _ = headColor.Fprintln(out, "=== Features ===")
	for _, id := range feature.IDs {
		fmt.Fprintf(out, "%-16s %s\n", string(id)+":", stateLabel(cfg.FeatureEnabled(string(id))))
	}

	fmt.Fprintln(out)
	_, _ = headColor.Fprintln(out, "=== Network ===")
	if len(urls) == 0 {
		_, _ = disabledColor.Fprintln(out, "No non-loopback addresses found")
	} else {
		fmt.Fprintln(out, "Listen URLs:")
		for _, u := range urls {
			fmt.Fprintf(out, "  - %s\n", u)
		}
	}

	fmt.Fprintln(out)
	_, _ = headColor.Fprintln(out, "=== Test command ===")
	fmt.Fprintf(out,
		"curl -X POST -H \"Content-Type: application/json\" -H \"Authorization: Bearer %s\" -d '{\"message\":\"test message\",\"prefix\":\"test\"}' http://localhost:%d%s\n",
		cfg.APIKey, cfg.ListenPort, inbound.SendPath)
}

// WriteFeatures prints the feature table with live and configured state.
func WriteFeatures(out io.Writer, statuses []feature.Status) {
	table := newTable(out, "Feature", "State", "Config", "Description")
	for _, s := range statuses {
		table.Append([]string{
			string(s.ID),
			stateLabel(s.Enabled),
			stateLabel(s.Configured),
			s.Description,
		})
	}
	table.Render()
}

// WriteHistory prints journal events, newest first.
func WriteHistory(out io.Writer, events []store.Event) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No deliveries recorded")
		return
	}

	table := newTable(out, "Time", "Dir", "Kind", "Attempt", "Status", "Sender", "Message", "Detail")
	for _, e := range events {
		table.Append([]string{
			e.Timestamp.Local().Format(time.DateTime),
			string(e.Direction),
			string(e.Kind),
			numberOrDash(e.Attempt),
			numberOrDash(e.Status),
			e.Sender,
			truncate(e.Message, historyMessageWidth),
			e.Detail,
		})
	}
	table.Render()
}

func numberOrDash(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
