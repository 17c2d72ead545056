package scanner

import (
	"bufio"
	"bytes"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// standardResolutions are offered when a device advertises a continuous range.
var standardResolutions = []int{75, 100, 150, 200, 300, 400, 600, 1200, 2400, 4800}

var (
	modeLine       = regexp.MustCompile(`^\s*--mode\s+(\S+)`)
	resolutionLine = regexp.MustCompile(`^\s*--resolution\s+(\S+?)dpi`)
	rangeSpec      = regexp.MustCompile(`^(\d+)\.\.(\d+)$`)
	geometryLine   = regexp.MustCompile(`^\s*-([xy])\s+([\d.]+)\.\.([\d.]+)mm`)
)

func parseDeviceList(out []byte) []DeviceDescriptor {
	var devices []DeviceDescriptor
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 || strings.TrimSpace(fields[0]) == "" {
			continue
		}
		d := DeviceDescriptor{
			ID:     strings.TrimSpace(fields[0]),
			Vendor: strings.TrimSpace(fields[1]),
			Model:  strings.TrimSpace(fields[2]),
		}
		if len(fields) > 3 {
			d.Type = strings.TrimSpace(fields[3])
		}
		devices = append(devices, d)
	}
	return devices
}

type saneCapabilities struct {
	resolutions []int
	modes       []Mode
	modeNames   map[Mode]string
	maxArea     Rect
}

// parseOptions reads the subset of `scanimage --all-options` folio needs.
func parseOptions(out []byte) saneCapabilities {
	caps := saneCapabilities{modeNames: map[Mode]string{}}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := modeLine.FindStringSubmatch(line); m != nil {
			for _, name := range strings.Split(m[1], "|") {
				mode, err := ParseMode(name)
				if err != nil {
					continue
				}
				if _, seen := caps.modeNames[mode]; seen {
					continue
				}
				caps.modeNames[mode] = name
				caps.modes = append(caps.modes, mode)
			}
			continue
		}
		if m := resolutionLine.FindStringSubmatch(line); m != nil {
			caps.resolutions = parseResolutions(m[1])
			continue
		}
		if m := geometryLine.FindStringSubmatch(line); m != nil {
			upper, err := strconv.ParseFloat(m[3], 64)
			if err != nil {
				continue
			}
			if m[1] == "x" {
				caps.maxArea.BRX = mmToUnits(upper)
			} else {
				caps.maxArea.BRY = mmToUnits(upper)
			}
		}
	}
	return caps
}

func parseResolutions(spec string) []int {
	if m := rangeSpec.FindStringSubmatch(spec); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		var out []int
		for _, r := range standardResolutions {
			if r >= lo && r <= hi {
				out = append(out, r)
			}
		}
		return out
	}
	var out []int
	for _, part := range strings.Split(spec, "|") {
		if v, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && v > 0 {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
