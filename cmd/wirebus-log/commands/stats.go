package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/wirebus/wirebus-go/pkg/log"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	Header            *log.Header
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Devices           map[string]*DeviceStats
	States            map[log.StateEntity]int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// DeviceStats holds statistics for one device seen in frame headers.
type DeviceStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Packets   int
	Acks      int
}

// CollectStats reads the whole capture file.
func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Devices:           make(map[string]*DeviceStats),
		States:            make(map[log.StateEntity]int),
	}
	if h, ok := reader.Header(); ok {
		stats.Header = &h
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if event.Packet != nil && event.DeviceID != "" {
			dev, ok := stats.Devices[event.DeviceID]
			if !ok {
				dev = &DeviceStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
				stats.Devices[event.DeviceID] = dev
			}
			dev.Packets++
			if event.Category == log.CategoryAck {
				dev.Acks++
			}
			if event.Timestamp.After(dev.LastSeen) {
				dev.LastSeen = event.Timestamp
			}
		}
		if event.StateChange != nil {
			stats.States[event.StateChange.Entity]++
		}
		if event.Error != nil {
			stats.Errors++
		}
	}
	return stats, nil
}

// RunStats analyzes the capture file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Wirebus Capture Statistics ===")
	fmt.Fprintln(w)

	if h := stats.Header; h != nil {
		fmt.Fprintf(w, "Format:     v%d, started %s\n", h.Version, h.Created.Format(time.RFC3339))
	}
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerFrame, log.LayerBus} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryPacket, log.CategoryAck, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}

	if len(stats.States) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "State Changes:")
		entities := make([]log.StateEntity, 0, len(stats.States))
		for e := range stats.States {
			entities = append(entities, e)
		}
		sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })
		for _, e := range entities {
			fmt.Fprintf(w, "  %-12s %d\n", e.String()+":", stats.States[e])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Devices: %d\n", len(stats.Devices))
	ids := make([]string, 0, len(stats.Devices))
	for id := range stats.Devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return stats.Devices[ids[i]].FirstSeen.Before(stats.Devices[ids[j]].FirstSeen)
	})
	for _, id := range ids {
		d := stats.Devices[id]
		fmt.Fprintf(w, "  [%s] %d packets, %d acks, seen for %s\n",
			id, d.Packets, d.Acks, d.LastSeen.Sub(d.FirstSeen).Round(time.Millisecond))
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
