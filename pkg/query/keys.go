package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/ranges"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// Store namespaces
const (
	RawPrefix       = "raw:"
	AggregatePrefix = "agg:"
)

// Aggregate cache names
const (
	AggEating      = "eating"
	AggMaxFasting  = "maxfast"
	AggSplit       = "split"
	AggVariability = "variability"
)

// typesHash identifies a set of sample types independent of their order
func typesHash(types []source.SampleType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	sort.Strings(names)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(names, ",")))
}

// sourceKey scopes a types hash to one source lineage. Entries written for
// a different lineage are never read back and age out through expiry.
func sourceKey(types, sourceID string) string {
	if sourceID == "" {
		return types
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(types+"|"+sourceID))
}

// rawKey is the key of one day's endpoints inside the raw cache
func rawKey(types string, day time.Time) string {
	return types + ":" + ranges.StartOfDay(day).Format(ranges.KeyLayout)
}

// paramsHash hashes aggregate parameters into a fixed-width key
func paramsHash(params ...string) string {
	h := xxhash.New()
	for _, p := range params {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func windowParams(start, end time.Time, loc *time.Location) []string {
	return []string{start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano), loc.String()}
}
