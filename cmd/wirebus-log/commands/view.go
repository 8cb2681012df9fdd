// Package commands implements the wirebus-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	DeviceID  string
}

func (f ViewFilter) filter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
		DeviceID:  f.DeviceID,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = "Frame"
	case event.Packet != nil:
		typeLabel = event.Packet.Class
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [%s] %-3s %s %s", ts, shortenID(event.LocalDevice), event.Direction, event.Layer, typeLabel)
	if event.DeviceID != "" {
		fmt.Fprintf(w, " dev=%s", event.DeviceID)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Packet != nil:
		formatPacketDetails(w, event.Packet)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenID returns the first 8 characters of an identifier, or "-".
func shortenID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes  CRC: 0x%04x\n", frame.Size, frame.CRC)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatPacketDetails(w io.Writer, pkt *log.PacketEvent) {
	fmt.Fprintf(w, "  Service: %d  Command: 0x%04x  Flags: %s\n", pkt.ServiceIndex, pkt.ServiceCommand, formatFlags(wire.Flags(pkt.Flags)))
	switch {
	case pkt.ServiceIndex == wire.ServiceIndexPipe:
		fmt.Fprintf(w, "  Pipe: port=%d counter=%d\n", wire.PipePort(pkt.ServiceCommand), wire.PipeCounter(pkt.ServiceCommand))
	case wire.IsGetRegister(pkt.ServiceCommand) || wire.IsSetRegister(pkt.ServiceCommand):
		fmt.Fprintf(w, "  Register: 0x%03x\n", wire.RegisterOf(pkt.ServiceCommand))
	case wire.IsEvent(pkt.ServiceCommand):
		fmt.Fprintf(w, "  Event: code=0x%02x counter=%d\n", wire.EventCode(pkt.ServiceCommand), wire.EventCounter(pkt.ServiceCommand))
	}
	if len(pkt.Payload) > 0 {
		fmt.Fprintf(w, "  Payload: %s\n", hex.EncodeToString(pkt.Payload))
	}
}

func formatFlags(f wire.Flags) string {
	var parts []string
	if f&wire.FlagCommand != 0 {
		parts = append(parts, "cmd")
	} else {
		parts = append(parts, "report")
	}
	if f&wire.FlagAckRequested != 0 {
		parts = append(parts, "ack")
	}
	if f&wire.FlagIdentifierIsServiceClass != 0 {
		parts = append(parts, "multicast")
	}
	return strings.Join(parts, ",")
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s", sc.Entity)
	if sc.Subject != "" {
		fmt.Fprintf(w, " %s", sc.Subject)
	}
	fmt.Fprintln(w)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "frame":
		return log.LayerFrame, nil
	case "bus":
		return log.LayerBus, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, frame, or bus)", s)
	}
}

// ParseDirectionFlag parses a direction string (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "packet":
		return log.CategoryPacket, nil
	case "ack":
		return log.CategoryAck, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be packet, ack, state, or error)", s)
	}
}

// RunView prints every matching event of the capture file.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.filter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
