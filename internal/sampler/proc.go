package sampler

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	procNetDev  = "/proc/net/dev"
	sysClassNet = "/sys/class/net"
)

// ProcSampler reads counters from /proc/net/dev and resolves the joined SSID
// through nmcli or iw. When an interface list is configured only those
// interfaces count; otherwise wireless interfaces are summed, falling back to
// every non-loopback interface on hosts where none can be detected.
type ProcSampler struct {
	log        *zap.Logger
	devPath    string
	sysNetPath string
	interfaces map[string]bool
	probe      func(ctx context.Context, interfaces []string) (string, error)
}

func NewProcSampler(log *zap.Logger, interfaces []string) *ProcSampler {
	filter := make(map[string]bool, len(interfaces))
	for _, name := range interfaces {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		filter[name] = true
	}
	return &ProcSampler{
		log:        log.Named("sampler"),
		devPath:    procNetDev,
		sysNetPath: sysClassNet,
		interfaces: filter,
		probe:      currentSSID,
	}
}

func (s *ProcSampler) Counters(ctx context.Context) (int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	rows, err := s.readDev()
	if err != nil {
		return 0, 0, err
	}

	var sent, received int64
	matched := false
	for _, row := range rows {
		if !s.matches(row.name) {
			continue
		}
		matched = true
		sent += row.tx
		received += row.rx
	}
	if matched {
		return sent, received, nil
	}

	// No configured or wireless interface present. Fall back to one
	// aggregate pair across everything but loopback.
	for _, row := range rows {
		sent += row.tx
		received += row.rx
	}
	return sent, received, nil
}

func (s *ProcSampler) NetworkName(ctx context.Context) (string, error) {
	names := make([]string, 0, len(s.interfaces))
	for name := range s.interfaces {
		names = append(names, name)
	}
	return s.probe(ctx, names)
}

type devRow struct {
	name string
	rx   int64
	tx   int64
}

func (s *ProcSampler) readDev() ([]devRow, error) {
	f, err := os.Open(s.devPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []devRow

	scanner := bufio.NewScanner(f)
	// skip headers (first two lines)
	for i := 0; i < 2 && scanner.Scan(); i++ {
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 17 {
			continue
		}

		name := strings.TrimSuffix(parts[0], ":")
		if name == "lo" {
			continue
		}

		rows = append(rows, devRow{
			name: name,
			rx:   parseInt64(parts[1]),
			tx:   parseInt64(parts[9]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// matches reports whether an interface participates in the aggregate pair.
func (s *ProcSampler) matches(name string) bool {
	if len(s.interfaces) > 0 {
		return s.interfaces[name]
	}
	return s.isWireless(name)
}

func (s *ProcSampler) isWireless(name string) bool {
	_, err := os.Stat(filepath.Join(s.sysNetPath, name, "wireless"))
	return err == nil
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
