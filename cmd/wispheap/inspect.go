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
	runewidth "github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"wisp/internal/heap"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [flags] <snapshot>",
	Short: "Print the contents of a heap snapshot",
	Long:  "Read a snapshot written by wispheap stress and print its live values and lifetime counters.",
	Args:  cobra.ExactArgs(1),
	RunE:  inspectExecution,
}

func inspectExecution(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	showPayloads, err := cmd.Flags().GetBool("payloads")
	if err != nil {
		return err
	}

	snap, err := heap.ReadSnapshotFile(args[0])
	if err != nil {
		return err
	}

	switch format {
	case "pretty":
		printSnapshotPretty(os.Stdout, args[0], snap, limit, showPayloads)
		return nil
	case "json":
		return printSnapshotJSON(os.Stdout, snap)
	default:
		return fmt.Errorf("unsupported format: %s (supported: pretty, json)", format)
	}
}

func printSnapshotPretty(out io.Writer, path string, snap *heap.Snapshot, limit int, showPayloads bool) {
	if out == nil {
		return
	}
	header := color.New(color.Bold)
	_, _ = header.Fprintf(out, "snapshot %s\n", path)
	_, _ = fmt.Fprintf(out, "captured %s\n", snap.CapturedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(out, "live %d values, %d B in use\n", snap.Stats.LiveValues, snap.Stats.BytesInUse)
	_, _ = fmt.Fprintf(out, "lifetime creates=%d frees=%d swept=%d collections=%d reclaimed=%d B\n",
		snap.Stats.Creates, snap.Stats.Frees, snap.Stats.Swept, snap.Stats.Collections, snap.Stats.ReclaimedBytes)
	if summary := kindSummary(snap.Values); summary != "" {
		_, _ = fmt.Fprintf(out, "kinds %s\n", summary)
	}

	for i := range snap.Values {
		if limit > 0 && i == limit {
			_, _ = fmt.Fprintf(out, "... %d more values\n", len(snap.Values)-limit)
			break
		}
		sv := &snap.Values[i]
		_, _ = fmt.Fprintf(out, "#%d %s size=%d rc=%d", sv.Handle, heap.Kind(sv.Kind), sv.Size, sv.RefCount)
		if len(sv.Children) > 0 {
			_, _ = fmt.Fprintf(out, " children=%s", formatChildren(sv.Children))
		}
		if showPayloads && len(sv.Payload) > 0 {
			_, _ = fmt.Fprintf(out, " payload=%s", payloadPreview(sv.Payload))
		}
		_, _ = fmt.Fprintln(out)
	}
}

func printSnapshotJSON(out io.Writer, snap *heap.Snapshot) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func kindSummary(values []heap.SnapshotValue) string {
	if len(values) == 0 {
		return ""
	}
	counts := make(map[string]int)
	for i := range values {
		counts[heap.Kind(values[i].Kind).String()]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, counts[name]))
	}
	return strings.Join(parts, " ")
}

func formatChildren(children []int32) string {
	parts := make([]string, len(children))
	for i, child := range children {
		switch heap.Handle(child) {
		case heap.NullHandle:
			parts[i] = "null"
		case heap.TombstoneHandle:
			parts[i] = "tomb"
		default:
			parts[i] = fmt.Sprintf("#%d", child)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// payloadPreview renders scalar bytes as a quoted string clipped to a fixed
// display width.
func payloadPreview(payload []byte) string {
	const maxWidth = 48
	return runewidth.Truncate(fmt.Sprintf("%q", payload), maxWidth, "...\"")
}

func init() {
	inspectCmd.Flags().String("format", "pretty", "output format (pretty, json)")
	inspectCmd.Flags().Int("limit", 0, "print at most this many values, 0 for all (pretty format)")
	inspectCmd.Flags().Bool("payloads", false, "include scalar payload previews (pretty format)")
}
