package metrics

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.jonnrb.io/apgw/log"
)

const procNetDev = "/proc/net/dev"

func (m *Metrics) doMetricsScrape(path string, links []Link) {
	stats, err := readNetDevStats(path)
	if err != nil {
		log.Errorf("error scraping network stats: %v", err)
		return
	}

	for _, l := range links {
		ifaceStats, ok := stats[l.Name]
		if !ok {
			log.V(1).Infof("iface %q not found in kernel network stats table", l.Name)
			continue
		}

		receiveBytes, ok := ifaceStats["receive_bytes"]
		if !ok {
			log.Errorf("could not find receive_bytes stat for %q", l.Name)
			continue
		}
		m.receiveBytes.WithLabelValues(l.Role, l.Name).Set(float64(receiveBytes))

		transmitBytes, ok := ifaceStats["transmit_bytes"]
		if !ok {
			log.Errorf("could not find transmit_bytes stat for %q", l.Name)
			continue
		}
		m.transmitBytes.WithLabelValues(l.Role, l.Name).Set(float64(transmitBytes))
	}
}

func readNetDevStats(path string) (map[string]map[string]int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseNetDevStats(file)
}

func parseNetDevStats(r io.Reader) (map[string]map[string]int64, error) {
	scanner := bufio.NewScanner(r)

	// scan two lines (the weird looking headers)
	if !scanner.Scan() || !scanner.Scan() {
		return nil, fmt.Errorf("bad %v", procNetDev)
	}

	headerParts := strings.Split(scanner.Text(), "|")
	if len(headerParts) != 3 {
		return nil, fmt.Errorf("bad header line in %v: %q", procNetDev, scanner.Text())
	}
	rHeader, tHeader := strings.Fields(headerParts[1]), strings.Fields(headerParts[2])

	keys := make([]string, len(rHeader)+len(tHeader))
	for i, r := range rHeader {
		keys[i] = "receive_" + r
	}
	for i, t := range tHeader {
		keys[i+len(rHeader)] = "transmit_" + t
	}

	stats := make(map[string]map[string]int64)
	for scanner.Scan() {
		a := strings.SplitN(scanner.Text(), ":", 2)
		if len(a) != 2 {
			return nil, fmt.Errorf("bad stats line: %q", scanner.Text())
		}
		iface, fields := strings.TrimSpace(a[0]), strings.Fields(a[1])
		if len(fields) > len(keys) {
			return nil, fmt.Errorf("too many fields for %q", iface)
		}
		ifaceStats := make(map[string]int64)
		for i, field := range fields {
			n, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("error parsing number: %v", field)
			}
			ifaceStats[keys[i]] = n
		}
		stats[iface] = ifaceStats
	}
	return stats, scanner.Err()
}
