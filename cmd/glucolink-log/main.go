// Command glucolink-log views and analyzes protocol log files.
//
// Log files (.glog) are written by glucolink-monitor when started with
// the -protocol-log flag.
//
// Usage:
//
//	glucolink-log <command> [flags] <file.glog>
//
// Commands:
//
//	view     View log file in human-readable format
//	stats    Show statistics about the log file
//	export   Export log file to JSONL
//
// Examples:
//
//	# View all events
//	glucolink-log view session.glog
//
//	# View only inbound protocol messages
//	glucolink-log view -direction in -category message session.glog
//
//	# Show statistics
//	glucolink-log stats session.glog
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/glucolink/glucolink-go/pkg/log"
)

const usage = `glucolink-log - protocol log analyzer

Usage:
  glucolink-log <command> [flags] <file.glog>

Commands:
  view     View log file in human-readable format
  stats    Show statistics about the log file
  export   Export log file to JSONL

Use "glucolink-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "stats":
		err = runStats(args)
	case "export":
		err = runExport(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFilter(fs *flag.FlagSet, args []string) (log.Filter, string, error) {
	layer := fs.String("layer", "", "Filter by layer (transport, protocol, session)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	serial := fs.String("serial", "", "Filter by sensor serial")

	if err := fs.Parse(args); err != nil {
		return log.Filter{}, "", err
	}
	if fs.NArg() < 1 {
		return log.Filter{}, "", fmt.Errorf("log file path required")
	}

	var filter log.Filter
	filter.ConnectionID = *connID
	filter.SensorSerial = *serial

	if *layer != "" {
		l, err := parseLayer(*layer)
		if err != nil {
			return log.Filter{}, "", err
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := parseDirection(*direction)
		if err != nil {
			return log.Filter{}, "", err
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := parseCategory(*category)
		if err != nil {
			return log.Filter{}, "", err
		}
		filter.Category = &c
	}
	return filter, fs.Arg(0), nil
}

func parseLayer(s string) (log.Layer, error) {
	switch s {
	case "transport":
		return log.LayerTransport, nil
	case "protocol":
		return log.LayerProtocol, nil
	case "session":
		return log.LayerSession, nil
	default:
		return 0, fmt.Errorf("unknown layer %q", s)
	}
}

func parseDirection(s string) (log.Direction, error) {
	switch s {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

func parseCategory(s string) (log.Category, error) {
	switch s {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("unknown category %q", s)
	}
}

func runView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	filter, path, err := parseFilter(fs, args)
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(formatEvent(event))
	}
}

// formatEvent renders one event as a single line.
func formatEvent(e log.Event) string {
	prefix := fmt.Sprintf("%s %-3s %-9s %-7s",
		e.Timestamp.Format("15:04:05.000"),
		e.Direction, e.Layer, e.Category)

	switch {
	case e.Frame != nil:
		return fmt.Sprintf("%s %d bytes", prefix, e.Frame.Size)
	case e.Message != nil:
		return fmt.Sprintf("%s %s seq=%d payload=%d",
			prefix, e.Message.TypeName, e.Message.Sequence, e.Message.PayloadSize)
	case e.StateChange != nil:
		s := fmt.Sprintf("%s %s %s -> %s",
			prefix, e.StateChange.Entity, e.StateChange.OldState, e.StateChange.NewState)
		if e.StateChange.Reason != "" {
			s += " (" + e.StateChange.Reason + ")"
		}
		return s
	case e.Error != nil:
		if e.Error.Code != "" {
			return fmt.Sprintf("%s [%s] %s", prefix, e.Error.Code, e.Error.Message)
		}
		return fmt.Sprintf("%s %s", prefix, e.Error.Message)
	default:
		return prefix
	}
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	filter, path, err := parseFilter(fs, args)
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	var (
		total       int
		first, last time.Time
		byCategory  = map[log.Category]int{}
		byMsgType   = map[string]int{}
		connections = map[string]struct{}{}
		errors      int
	)

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		total++
		if first.IsZero() || event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if event.Timestamp.After(last) {
			last = event.Timestamp
		}
		byCategory[event.Category]++
		if event.Message != nil {
			byMsgType[event.Message.TypeName]++
		}
		if event.ConnectionID != "" {
			connections[event.ConnectionID] = struct{}{}
		}
		if event.Error != nil {
			errors++
		}
	}

	fmt.Printf("Events:      %d\n", total)
	if total > 0 {
		fmt.Printf("Time range:  %s .. %s (%s)\n",
			first.Format(time.RFC3339), last.Format(time.RFC3339),
			last.Sub(first).Round(time.Millisecond))
	}
	fmt.Printf("Connections: %d\n", len(connections))
	fmt.Printf("Errors:      %d\n", errors)
	fmt.Println("By category:")
	for _, c := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if byCategory[c] > 0 {
			fmt.Printf("  %-8s %d\n", c, byCategory[c])
		}
	}
	if len(byMsgType) > 0 {
		fmt.Println("By message type:")
		for name, count := range byMsgType {
			fmt.Printf("  %-14s %d\n", name, count)
		}
	}
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("o", "", "Output file (default stdout)")
	filter, path, err := parseFilter(fs, args)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	enc := json.NewEncoder(out)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(exportEvent(event)); err != nil {
			return err
		}
	}
}

// exportedEvent is the JSONL shape of an event, with enums rendered as
// their names.
type exportedEvent struct {
	Timestamp    time.Time             `json:"timestamp"`
	ConnectionID string                `json:"connection_id,omitempty"`
	Direction    string                `json:"direction"`
	Layer        string                `json:"layer"`
	Category     string                `json:"category"`
	DeviceID     string                `json:"device_id,omitempty"`
	SensorSerial string                `json:"sensor_serial,omitempty"`
	Generation   string                `json:"generation,omitempty"`
	Frame        *log.FrameEvent       `json:"frame,omitempty"`
	Message      *log.MessageEvent     `json:"message,omitempty"`
	StateChange  *log.StateChangeEvent `json:"state_change,omitempty"`
	Error        *log.ErrorEventData   `json:"error,omitempty"`
}

func exportEvent(e log.Event) exportedEvent {
	return exportedEvent{
		Timestamp:    e.Timestamp,
		ConnectionID: e.ConnectionID,
		Direction:    e.Direction.String(),
		Layer:        e.Layer.String(),
		Category:     e.Category.String(),
		DeviceID:     e.DeviceID,
		SensorSerial: e.SensorSerial,
		Generation:   e.Generation,
		Frame:        e.Frame,
		Message:      e.Message,
		StateChange:  e.StateChange,
		Error:        e.Error,
	}
}
