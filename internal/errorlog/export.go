package errorlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// exportPayload is the JSON export shape consumed by the analysis
// notebooks.
type exportPayload struct {
	Metadata     exportMetadata   `json:"metadata"`
	PrimeMap     map[string]int64 `json:"prime_map"`
	Nodes        []string         `json:"nodes"`
	Events       [][5]any         `json:"events"`
	EventsSchema [5]string        `json:"events_schema"`
}

type exportMetadata struct {
	Timestamp     string `json:"timestamp"`
	NEvents       int    `json:"n_events"`
	FormatVersion string `json:"format_version"`
}

// ExportJSON writes all events, the prime map and the node index as
// JSON. Sources and operations share one node list so event rows can
// reference both by index.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) error {
	events, err := s.Events(ctx)
	if err != nil {
		return err
	}
	nodes := nodeIndex(events)

	rows := make([][5]any, len(events))
	for i, e := range events {
		rows[i] = [5]any{e.T, nodes.index[e.Source], nodes.index[e.Operation], e.Composite, e.LogValue}
	}

	payload := exportPayload{
		Metadata: exportMetadata{
			Timestamp:     time.Now().UTC().Format("20060102_150405"),
			NEvents:       len(events),
			FormatVersion: "1.0",
		},
		PrimeMap:     s.registry.Primes(),
		Nodes:        nodes.names,
		Events:       rows,
		EventsSchema: [5]string{"t", "source_index", "operation_index", "composite_value", "log_value"},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// ExportWolfram writes a .wl file that defines nodes, n, primeMap and
// errorEvents, plus a sparse tensor errorTensor with
// errorTensor[[source, operation, t]] = log composite. Load it in
// Mathematica with Get.
func (s *Store) ExportWolfram(ctx context.Context, w io.Writer) error {
	events, err := s.Events(ctx)
	if err != nil {
		return err
	}
	nodes := nodeIndex(events)

	var b strings.Builder
	b.WriteString("(* bilicache error event export *)\n\n")

	b.WriteString("nodes = {")
	for i, n := range nodes.names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", n)
	}
	b.WriteString("};\nn = Length[nodes];\n\n")

	primes := s.registry.Primes()
	kinds := make([]string, 0, len(primes))
	for k := range primes {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return primes[kinds[i]] < primes[kinds[j]] })
	b.WriteString("primeMap = <|")
	for i, k := range kinds {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q -> %d", k, primes[k])
	}
	b.WriteString("|>;\n\n")

	b.WriteString("(* {t, sourceIndex, operationIndex, composite, logValue}, 1-based indices *)\n")
	b.WriteString("errorEvents = {")
	for i, e := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "{%d, %d, %d, %d, %s}",
			e.T, nodes.index[e.Source]+1, nodes.index[e.Operation]+1, e.Composite, wlFloat(e.LogValue))
	}
	b.WriteString("};\n\n")

	fmt.Fprintf(&b, "tMax = %d;\n", len(events))
	b.WriteString("errorTensor = SparseArray[\n")
	b.WriteString("  Map[{#[[2]], #[[3]], #[[1]] + 1} -> #[[5]] &, errorEvents],\n")
	b.WriteString("  {n, n, Max[tMax, 1]}\n")
	b.WriteString("];\n")

	_, err = io.WriteString(w, b.String())
	return err
}

type nodes struct {
	names []string
	index map[string]int
}

// nodeIndex builds a stable, sorted index over every source and
// operation name seen in the events.
func nodeIndex(events []Event) nodes {
	seen := map[string]bool{}
	for _, e := range events {
		seen[e.Source] = true
		seen[e.Operation] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	return nodes{names: names, index: index}
}

// wlFloat renders a float in a form Mathematica reads back exactly.
func wlFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	if !strings.ContainsAny(s, ".e") {
		s += "."
	}
	return strings.Replace(s, "e", "*^", 1)
}
