// Command zonegen writes the "zones" section of a source document for the
// named IANA zones, using the Go time zone database.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"weeklycal/internal/document"
	appLog "weeklycal/internal/log"
	"weeklycal/internal/zone"
)

func main() {
	zones := flag.String("zones", "America/New_York,UTC", "Comma-separated IANA zone names")
	from := flag.Int("from", time.Now().Year(), "First year covered")
	years := flag.Int("years", 3, "Number of years covered")
	out := flag.String("out", "-", "Output file, '-' for stdout")
	flag.Parse()

	names := splitZones(*zones)
	body, err := generate(names, *from, *years)
	if err != nil {
		appLog.Error("zonegen failed", err)
		os.Exit(1)
	}

	var w io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			appLog.Error("zonegen failed", err, "out", *out)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	if _, err := fmt.Fprintln(w, string(body)); err != nil {
		appLog.Error("zonegen failed", err)
		os.Exit(1)
	}
	appLog.Info("zones written", "zones", len(names), "from", *from, "years", *years)
}

func splitZones(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// generate covers [Jan 1 of from, Jan 1 of from+years) in UTC.
func generate(names []string, from, years int) ([]byte, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no zones given")
	}
	if years <= 0 {
		return nil, fmt.Errorf("years must be positive, got %d", years)
	}
	start := time.Date(from, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(years, 0, 0)

	rules := make(map[string][]zone.Rule, len(names))
	for _, name := range names {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", name, err)
		}
		rules[name] = zone.Generate(loc, start, end)
	}
	return document.EncodeZones(rules)
}
