package controller

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullTable = `
+----+----+------+-------------------------------------
| ID | UN | TYPE | DEVICE STATUS
+----+----+------+-------------------------------------
|  0 |  0 | SCHD | /home/pi/images/system7.hda
|  1 |    |      |
|  2 |  0 | SCCD | /home/pi/images/game.iso(WRITEPROTECT)
|  3 |    |      |
|  4 |    |      |
|  5 |  0 | SCBR | RaSCSI BRIDGE
|  6 |    |      |
|  7 |    |      |
+----+----+------+-------------------------------------
`

func TestParseList_PopulatedAndEmptyRows(t *testing.T) {
	slots, err := ParseList([]byte(fullTable), "/home/pi/images")
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.Equal(t, DeviceSlot{ID: 0, Type: TypeHardDisk, File: "system7.hda"}, slots[0])
	assert.Equal(t, DeviceSlot{ID: 2, Type: TypeCDROM, File: "game.iso", WriteProtected: true}, slots[1])
	assert.Equal(t, DeviceSlot{ID: 5, Type: TypeBridge}, slots[2])
	for _, s := range slots {
		assert.NotEqual(t, "ID", string(s.Type))
	}
}

func TestParseList_UnborderedLayout(t *testing.T) {
	out := `
---+------+---------------------------------------
ID | TYPE | DEVICE STATUS
---+------+---------------------------------------
 6 | SCCD | NO MEDIA
 1 | SCHD | /mnt/usb/other.hds
---+------+---------------------------------------
`
	slots, err := ParseList([]byte(out), "/home/pi/images")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 1, slots[0].ID, "sorted by id")
	assert.Equal(t, "/mnt/usb/other.hds", slots[0].File, "files outside the image dir stay absolute")
	assert.True(t, slots[1].NoMedia)
	assert.Empty(t, slots[1].File)
}

func TestParseList_ImageFileLayout(t *testing.T) {
	out := `
+----+-----+------+-------------------------------------
| ID | LUN | TYPE | IMAGE FILE
+----+-----+------+-------------------------------------
|  0 |   0 | SCHD | /home/pi/images/system7.hda (READ-ONLY)
|  2 |   0 | SCCD | NO MEDIUM
|  3 |   1 | SCRM | usb.hdr
|  5 |   0 | SCBR | X68000 HOST BRIDGE
|  6 |   0 | SCDP | DaynaPort SCSI/Link
|  7 |   0 | SCLP | SCSI Printer
+----+-----+------+-------------------------------------
`
	slots, err := ParseList([]byte(out), "/home/pi/images")
	require.NoError(t, err)
	require.Len(t, slots, 6)

	assert.Equal(t, DeviceSlot{ID: 0, Type: TypeHardDisk, File: "system7.hda", WriteProtected: true}, slots[0])
	assert.Equal(t, DeviceSlot{ID: 2, Type: TypeCDROM, NoMedia: true}, slots[1])
	assert.Equal(t, 1, slots[2].Unit)
	assert.Equal(t, "usb.hdr", slots[2].File)
	for _, s := range slots[3:] {
		assert.Empty(t, s.File, "device %d", s.ID)
		assert.False(t, s.NoMedia)
	}
	assert.Equal(t, TypeBridge, slots[3].Type)
	assert.Equal(t, TypeDaynaPort, slots[4].Type)
}

func TestParseList_NoDevices(t *testing.T) {
	for _, out := range []string{"", "\n\n", "No device is installed.\n", "No images currently attached.\n", "No devices currently attached.\n"} {
		slots, err := ParseList([]byte(out), "/home/pi/images")
		require.NoError(t, err)
		assert.Empty(t, slots)
	}
}

func TestParseList_UnknownTypeCodeIsKept(t *testing.T) {
	slots, err := ParseList([]byte("|  4 |  0 | SCLP | \n"), "")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, DeviceType("sclp"), slots[0].Type)
}

func TestParseList_MalformedRowIsAnError(t *testing.T) {
	cases := map[string]string{
		"non numeric id":  "|  x |  0 | SCHD | /home/pi/images/a.hda\n",
		"id out of range": "|  9 |  0 | SCHD | /home/pi/images/a.hda\n",
		"too few columns": "|  1 | SCHD\n",
		"free text":       "rasctl: connection refused\n",
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseList([]byte(fullTable+out), "/home/pi/images")
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Greater(t, pe.Line, 1)
		})
	}
}

func TestParseDeviceType(t *testing.T) {
	cases := map[string]DeviceType{
		"Hard Disk":         TypeHardDisk,
		"hd":                TypeHardDisk,
		"SCHD":              TypeHardDisk,
		"CD-ROM":            TypeCDROM,
		"cd":                TypeCDROM,
		"Zip Drive":         TypeRemovable,
		"Filesystem bridge": TypeBridge,
		"Ethernet Tap":      TypeDaynaPort,
		"Magneto-Optical":   TypeMO,
	}
	for in, want := range cases {
		got, err := ParseDeviceType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDeviceType("Floppy")
	assert.ErrorIs(t, err, ErrBadType)

	assert.True(t, TypeHardDisk.RequiresFile())
	assert.False(t, TypeCDROM.RequiresFile())
	assert.False(t, TypeBridge.AcceptsFile())
	assert.Equal(t, "CD-ROM", TypeCDROM.Label())
}
