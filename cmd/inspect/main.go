package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"sort"

	"replay-gym/internal/archive"
	"replay-gym/internal/packet"
	"replay-gym/internal/state"
)

// CLI flags
var (
	archivePath = flag.String("archive", "", "Archive to inspect (.jsonl.gz)")
	matchIdx    = flag.Int("match", 0, "Match index within the archive")
	showEvents  = flag.Int("events", 0, "Print the first N events")
	atTime      = flag.Float64("time", -1, "Reconstruct entity state at this time")
	entityID    = flag.Int64("entity", 0, "Limit state output to one entity")
)

func main() {
	flag.Parse()
	if *archivePath == "" {
		log.Fatal("No archive: set -archive")
	}

	line := readMatchLine(*archivePath, *matchIdx)
	m, stats, err := packet.DecodeMatch(line, packet.Options{})
	if err != nil {
		log.Fatalf("Failed to decode match: %v", err)
	}

	fmt.Printf("Archive: %s (split %s)\n", *archivePath, archive.Split(*archivePath))
	fmt.Printf("Match %d: id=%q packets=%d malformed=%d\n", *matchIdx, m.MatchID, m.PacketCount(), stats.Malformed)
	if n := len(m.Events); n > 0 {
		fmt.Printf("Time span: %.3f .. %.3f\n", m.Events[0].Time, m.Events[n-1].Time)
	}

	printKindHistogram(m)
	printReplicationCensus(m)

	if *showEvents > 0 {
		printEvents(m, *showEvents)
	}
	if *atTime >= 0 {
		printState(m, *atTime, *entityID)
	}
}

// readMatchLine returns the idx-th match line, skipping earlier lines
// without parsing them.
func readMatchLine(path string, idx int) []byte {
	r, err := archive.Open(path)
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}
	defer r.Close()

	for {
		line, err := r.Next()
		if err == io.EOF {
			log.Fatalf("Archive has only %d matches", r.Line())
		}
		if err != nil {
			log.Fatalf("Failed to read archive: %v", err)
		}
		if r.Line()-1 == idx {
			return line
		}
	}
}

func printKindHistogram(m *packet.Match) {
	counts := make(map[string]int)
	for i := range m.Events {
		counts[m.Events[i].Tag]++
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	fmt.Println("\nEvent kinds:")
	for _, tag := range tags {
		marker := ""
		if _, known := packet.CanonicalKind(tag); !known {
			marker = "  (unknown)"
		}
		fmt.Printf("  %-28s %d%s\n", tag, counts[tag], marker)
	}
}

// printReplicationCensus reports which attributes the match's
// replication deltas carry and how their values are wrapped.
func printReplicationCensus(m *packet.Match) {
	type attrInfo struct {
		count    int
		wrappers map[string]int
		entities map[int64]bool
	}
	attrs := make(map[string]*attrInfo)
	deltas := 0

	for i := range m.Events {
		rep, ok := m.Events[i].Payload.(*packet.Replication)
		if !ok {
			continue
		}
		for _, rd := range rep.Entities {
			deltas++
			name := state.AttributeName(rd.Name, rd.PrimaryIndex, rd.SecondaryIndex)
			info := attrs[name]
			if info == nil {
				info = &attrInfo{wrappers: make(map[string]int), entities: make(map[int64]bool)}
				attrs[name] = info
			}
			info.count++
			if v, err := rd.Value(); err == nil {
				info.wrappers[v.Type]++
			}
		}
	}
	if deltas == 0 {
		return
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if attrs[names[i]].count != attrs[names[j]].count {
			return attrs[names[i]].count > attrs[names[j]].count
		}
		return names[i] < names[j]
	})

	fmt.Printf("\nReplication census (%d deltas):\n", deltas)
	for _, name := range names {
		info := attrs[name]
		wrappers := make([]string, 0, len(info.wrappers))
		for w := range info.wrappers {
			wrappers = append(wrappers, w)
		}
		sort.Strings(wrappers)
		known := ""
		if !state.KnownAttribute(name) {
			known = "  (unregistered)"
		}
		fmt.Printf("  %-32s %6d  %v%s\n", name, info.count, wrappers, known)
	}
}

func printEvents(m *packet.Match, n int) {
	if n > len(m.Events) {
		n = len(m.Events)
	}
	fmt.Printf("\nFirst %d events:\n", n)
	for i := 0; i < n; i++ {
		ev := &m.Events[i]
		fmt.Printf("  [%4d] t=%-12.5f %-24s %s\n", ev.Index, ev.Time, ev.Tag, ev.Raw)
	}
}

func printState(m *packet.Match, t float64, only int64) {
	rec := state.New()
	for i := range m.Events {
		if m.Events[i].Time > t {
			break
		}
		if err := rec.Apply(&m.Events[i]); err != nil {
			log.Fatalf("Failed to apply event %d: %v", i, err)
		}
	}
	snap, err := rec.SnapshotAt(t)
	if err != nil {
		log.Fatalf("Failed to snapshot: %v", err)
	}

	ids := make([]int64, 0, snap.Len())
	for id := range snap.Entities {
		if only != 0 && id != only {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fmt.Printf("\nEntity state at t=%.5f (%d entities):\n", t, len(ids))
	for _, id := range ids {
		e := snap.Entities[id]
		fmt.Printf("  %d kind=%s champion=%q alive=%v visible=%v", id, e.Kind, e.Champion, e.Alive, e.Visible)
		if e.Position != nil {
			fmt.Printf(" pos=(%.2f, %.2f)", e.Position.X, e.Position.Z)
		}
		fmt.Println()
		names := make([]string, 0, len(e.Attributes))
		for name := range e.Attributes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := e.Attributes[name]
			if v.IsNumeric() {
				fmt.Printf("      %-32s %v\n", name, v.Number)
			} else {
				fmt.Printf("      %-32s %s\n", name, v.Raw)
			}
		}
	}
}
