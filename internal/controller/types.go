package controller

import (
	"fmt"
	"strings"

	"rasweb/pkg/validate"
)

// MaxID is the highest SCSI ID on the bus.
const MaxID = 7

var ErrBadID = fmt.Errorf("%w: SCSI ID must be between 0 and %d", validate.ErrInvalid, MaxID)
var ErrBadType = fmt.Errorf("%w: unknown device type", validate.ErrInvalid)
var ErrFileRequired = fmt.Errorf("%w: an image file is required", validate.ErrInvalid)
var ErrNoFile = fmt.Errorf("%w: device type does not take an image file", validate.ErrInvalid)

// DeviceType is the short type code passed to rasctl -t.
type DeviceType string

const (
	TypeHardDisk  DeviceType = "hd"
	TypeRemovable DeviceType = "rm"
	TypeMO        DeviceType = "mo"
	TypeCDROM     DeviceType = "cd"
	TypeBridge    DeviceType = "bridge"
	TypeDaynaPort DeviceType = "daynaport"
)

// Types lists the attachable device types in menu order.
var Types = []DeviceType{TypeHardDisk, TypeCDROM, TypeRemovable, TypeMO, TypeDaynaPort, TypeBridge}

var typeAliases = map[string]DeviceType{
	"hd": TypeHardDisk, "harddisk": TypeHardDisk, "schd": TypeHardDisk, "sahd": TypeHardDisk,
	"rm": TypeRemovable, "zipdrive": TypeRemovable, "removable": TypeRemovable, "scrm": TypeRemovable,
	"mo": TypeMO, "magnetooptical": TypeMO, "scmo": TypeMO,
	"cd": TypeCDROM, "cdrom": TypeCDROM, "sccd": TypeCDROM,
	"bridge": TypeBridge, "filesystembridge": TypeBridge, "scbr": TypeBridge,
	"daynaport": TypeDaynaPort, "ethernettap": TypeDaynaPort, "scdp": TypeDaynaPort,
}

var labels = map[DeviceType]string{
	TypeHardDisk:  "Hard Disk",
	TypeRemovable: "Zip Drive",
	TypeMO:        "Magneto-Optical",
	TypeCDROM:     "CD-ROM",
	TypeBridge:    "Filesystem Bridge",
	TypeDaynaPort: "Ethernet Tap",
}

func normalizeType(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

// ParseDeviceType accepts a UI label ("CD-ROM"), a short code ("cd") or a
// controller code ("SCCD").
func ParseDeviceType(s string) (DeviceType, error) {
	if t, ok := typeAliases[normalizeType(s)]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadType, s)
}

// typeFromCode maps a controller type code from the list table. Codes this
// package does not know are kept, lower-cased, so new device kinds still list.
func typeFromCode(code string) DeviceType {
	if t, ok := typeAliases[normalizeType(code)]; ok {
		return t
	}
	return DeviceType(strings.ToLower(code))
}

func (t DeviceType) Label() string {
	if l, ok := labels[t]; ok {
		return l
	}
	return strings.ToUpper(string(t))
}

// Removable reports whether media can be inserted and ejected.
func (t DeviceType) Removable() bool {
	return t == TypeCDROM || t == TypeMO || t == TypeRemovable
}

// AcceptsFile reports whether the type is backed by an image file.
func (t DeviceType) AcceptsFile() bool {
	return t != TypeBridge && t != TypeDaynaPort
}

// RequiresFile reports whether attach must name an image.
func (t DeviceType) RequiresFile() bool {
	return t.AcceptsFile() && !t.Removable()
}

// DeviceSlot is one attached device as reported by rasctl -l.
type DeviceSlot struct {
	ID             int        `json:"id"`
	Unit           int        `json:"unit"`
	Type           DeviceType `json:"type"`
	File           string     `json:"file,omitempty"`
	NoMedia        bool       `json:"noMedia,omitempty"`
	WriteProtected bool       `json:"writeProtected"`
}

func ValidID(id int) error {
	if id < 0 || id > MaxID {
		return fmt.Errorf("%w (got %d)", ErrBadID, id)
	}
	return nil
}
