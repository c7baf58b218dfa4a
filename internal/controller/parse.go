package controller

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ParseError reports a data row of rasctl -l output that does not fit the
// known table layout.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rasctl list line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Older rasctl builds print "NO MEDIA" and "(WRITEPROTECT)"; newer ones
// print "NO MEDIUM" and " (READ-ONLY)" and name non-disk devices in the
// image column.
var (
	noMediaStatuses = []string{"NO MEDIA", "NO MEDIUM"}
	deviceStatuses  = []string{"RaSCSI BRIDGE", "X68000 HOST BRIDGE", "DaynaPort SCSI/Link", "Host Services", "SCSI Printer"}
	protectMarks    = []string{"(WRITEPROTECT)", "(READ-ONLY)"}
)

// ParseList parses the device table printed by rasctl -l. Both the bordered
// layout
//
//	| ID | UN | TYPE | DEVICE STATUS
//
// its newer "| ID | LUN | TYPE | IMAGE FILE" form, and the older unbordered "ID | TYPE | DEVICE STATUS" layout are understood.
// Borders, the header row, blank lines and rows for IDs without a type are
// skipped. Files under imageDir are reported relative to it.
func ParseList(out []byte, imageDir string) ([]DeviceSlot, error) {
	slots := []DeviceSlot{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	n := 0
	for sc.Scan() {
		n++
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" || isBorder(line) || isNoDevices(line) {
			continue
		}
		cells := splitRow(line)
		if strings.EqualFold(cells[0], "ID") {
			continue
		}
		slot, skip, err := parseRow(cells, strings.HasPrefix(line, "|"), imageDir)
		if err != nil {
			return nil, &ParseError{Line: n, Text: raw, Reason: err.Error()}
		}
		if !skip {
			slots = append(slots, slot)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].ID != slots[j].ID {
			return slots[i].ID < slots[j].ID
		}
		return slots[i].Unit < slots[j].Unit
	})
	return slots, nil
}

func isBorder(line string) bool {
	return strings.Trim(line, "+-| ") == ""
}

func isNoDevices(line string) bool {
	l := strings.ToLower(line)
	return strings.HasPrefix(l, "no device") || strings.HasPrefix(l, "no images")
}

func splitRow(line string) []string {
	parts := strings.Split(strings.TrimPrefix(line, "|"), "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseRow(cells []string, bordered bool, imageDir string) (DeviceSlot, bool, error) {
	want := 3
	if bordered {
		want = 4
	}
	// a closing border leaves empty trailing cells
	for len(cells) > want && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	if len(cells) < want && allEmpty(cells[1:]) {
		cells = append(cells, make([]string, want-len(cells))...)
	}
	if len(cells) != want {
		return DeviceSlot{}, false, fmt.Errorf("expected %d columns, got %d", want, len(cells))
	}
	var idCell, unitCell, typeCell, status string
	if bordered {
		idCell, unitCell, typeCell, status = cells[0], cells[1], cells[2], cells[3]
	} else {
		idCell, typeCell, status = cells[0], cells[1], cells[2]
	}
	id, err := strconv.Atoi(idCell)
	if err != nil {
		return DeviceSlot{}, false, fmt.Errorf("bad id %q", idCell)
	}
	if err := ValidID(id); err != nil {
		return DeviceSlot{}, false, err
	}
	unit := 0
	if unitCell != "" {
		if unit, err = strconv.Atoi(unitCell); err != nil || unit < 0 {
			return DeviceSlot{}, false, fmt.Errorf("bad unit %q", unitCell)
		}
	}
	if typeCell == "" || typeCell == "-" {
		return DeviceSlot{}, true, nil
	}

	slot := DeviceSlot{ID: id, Unit: unit, Type: typeFromCode(typeCell)}
	for _, m := range protectMarks {
		if strings.HasSuffix(status, m) {
			slot.WriteProtected = true
			status = strings.TrimSpace(strings.TrimSuffix(status, m))
			break
		}
	}
	switch {
	case equalFoldAny(status, noMediaStatuses):
		slot.NoMedia = true
	case equalFoldAny(status, deviceStatuses), status == "-":
	default:
		slot.File = relativeTo(imageDir, status)
	}
	return slot, false, nil
}

func equalFoldAny(s string, set []string) bool {
	for _, v := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

func relativeTo(dir, p string) string {
	if dir == "" || p == "" {
		return p
	}
	if rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p)); err == nil && !strings.HasPrefix(rel, "..") && filepath.IsAbs(p) {
		return rel
	}
	return p
}
