package dynfs

import (
	"context"
	"fmt"

	linuxproc "github.com/c9s/goprocinfo/linux"
)

// LoadAvgEntry builds a dynfs Entry that renders /proc/loadavg through
// goprocinfo's linuxproc.ReadLoadAvg, matching section 9's example of a
// status file exposing live process/load state through the dynamic-file
// registry. Re-reads on every Producer call: there is no cached iteration
// state per section 4.7.
func LoadAvgEntry(path string) Entry {
	return Entry{
		Path: path,
		Mode: 0444,
		Producer: func(ctx context.Context, offset uint64, buf []byte) (int, error) {
			avg, err := linuxproc.ReadLoadAvg("/proc/loadavg")
			if err != nil {
				return 0, nil
			}
			line := fmt.Sprintf("%.2f %.2f %.2f %d/%d %d\n",
				avg.Last1Min, avg.Last5Min, avg.Last15Min,
				avg.ProcessRunning, avg.ProcessTotal, avg.LastPID)

			if offset >= uint64(len(line)) {
				return 0, nil
			}
			return copy(buf, line[offset:]), nil
		},
	}
}
