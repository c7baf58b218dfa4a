package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// runAction performs an action and walks the confirmation round trip when
// the server asks for one.
func runAction(client *APIClient, method, path string, body map[string]any) error {
	out, err := client.action(method, path, body)
	if errors.Is(err, errNeedsConfirmation) {
		ok := assumeYes
		if !ok {
			color.Yellow("%s", out.Prompt)
			if err := survey.AskOne(&survey.Confirm{Message: "Continue?", Default: false}, &ok); err != nil {
				return err
			}
		}
		out, err = client.resolve(method, path, out.Token, !ok)
	}
	if err != nil {
		return err
	}
	return printOutcome(out)
}

func printOutcome(out *Outcome) error {
	if outputJSON {
		return printJSON(out)
	}
	switch out.State {
	case "cancelled":
		color.Yellow("Cancelled")
	default:
		msg := out.Message
		if msg == "" {
			msg = "Command succeeded!"
		}
		color.Green("✓ %s", msg)
	}
	return nil
}

func parseID(s string) (string, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 || id > 7 {
		return "", fmt.Errorf("SCSI ID must be between 0 and 7, got %q", s)
	}
	return strconv.Itoa(id), nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show devices, service and host status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient(baseURL).status()
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(st)
			}
			if st.Service != nil {
				state := color.GreenString(st.Service.Status)
				if !st.Service.Healthy {
					state = color.RedString(st.Service.Status)
				}
				fmt.Printf("Service:  %s %s\n", st.Service.Unit, state)
			}
			if st.Host != nil {
				fmt.Printf("Host:     %s (%s %s, up %s)\n", st.Host.Hostname, st.Host.Platform, st.Host.PlatformVersion, st.Host.Uptime)
			}
			if st.Usage != nil {
				fmt.Printf("Storage:  %s free of %s\n", humanize.IBytes(st.Usage.Free), humanize.IBytes(st.Usage.Total))
			}
			fmt.Printf("Images:   %d\n\n", len(st.Images))
			printDevices(st.Devices)
			for part, msg := range st.Errors {
				color.Red("%s: %s", part, msg)
			}
			return nil
		},
	}
}

func printDevices(devs []Device) {
	byID := map[int]Device{}
	for _, d := range devs {
		if _, ok := byID[d.ID]; !ok {
			byID[d.ID] = d
		}
	}
	fmt.Printf("%-4s %-10s %s\n", "ID", "TYPE", "FILE")
	for id := 0; id <= 7; id++ {
		d, ok := byID[id]
		if !ok {
			fmt.Printf("%-4d %-10s %s\n", id, "-", "-")
			continue
		}
		file := d.File
		if d.NoMedia {
			file = "(no media)"
		}
		if d.WriteProtected {
			file += " [protected]"
		}
		fmt.Printf("%-4d %-10s %s\n", id, d.Type, file)
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List attached devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := newAPIClient(baseURL).devices()
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(devs)
			}
			printDevices(devs)
			return nil
		},
	}
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id> <type> [file]",
		Short: "Attach a device at a SCSI ID",
		Long: `Attach a device at a SCSI ID.

Types: hd, cd, rm, mo, bridge, daynaport (or their labels such as "CD-ROM").
Hard disks, MO and Zip drives need an image file; a CD-ROM may start empty.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{"type": args[1]}
			if len(args) == 3 {
				body["file"] = args[2]
			}
			return runAction(newAPIClient(baseURL), http.MethodPost, "/api/devices/"+id+"/attach", body)
		},
	}
}

func newInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <id> <file>",
		Short: "Insert media into a removable device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runAction(newAPIClient(baseURL), http.MethodPost, "/api/devices/"+id+"/insert", map[string]any{"file": args[1]})
		},
	}
}

func newDeviceOpCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runAction(newAPIClient(baseURL), http.MethodPost, "/api/devices/"+id+"/"+op, nil)
		},
	}
}

func newImagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "List image files",
		RunE: func(cmd *cobra.Command, args []string) error {
			imgs, err := newAPIClient(baseURL).images()
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(imgs)
			}
			fmt.Printf("%-32s %10s  %-16s %s\n", "NAME", "SIZE", "TYPE", "MODIFIED")
			for _, img := range imgs {
				fmt.Printf("%-32s %10s  %-16s %s\n", img.Name, humanize.IBytes(uint64(img.Size)), img.Category, humanize.Time(img.ModTime))
			}
			return nil
		},
	}
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <file> <sizeMB>",
		Short: "Create an empty disk image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[1])
			if err != nil || size <= 0 {
				return fmt.Errorf("size must be a positive number of MB, got %q", args[1])
			}
			return runAction(newAPIClient(baseURL), http.MethodPost, "/api/images", map[string]any{"file": args[0], "sizeMB": size})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file>",
		Short: "Delete an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(newAPIClient(baseURL), http.MethodDelete, "/api/images/"+url.PathEscape(args[0]), nil)
		},
	}
}

func newUploadCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a local image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			fi, err := f.Stat()
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			bar := progressbar.DefaultBytes(fi.Size(), "Uploading "+name)
			reader := progressbar.NewReader(f, bar)
			out, err := newAPIClient(baseURL).upload(name, fi.Size(), &reader)
			_ = bar.Finish()
			if err != nil {
				return err
			}
			return printOutcome(out)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name to store the file under (default is the local base name)")
	return cmd
}

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Control the emulator service",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the service state",
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := newAPIClient(baseURL).serviceStatus()
				if err != nil {
					return err
				}
				if outputJSON {
					return printJSON(st)
				}
				fmt.Printf("%s: %s (active=%s enabled=%t pid=%d)\n", st.Unit, st.Status, st.Active, st.Enabled, st.PID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Restart the service",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAction(newAPIClient(baseURL), http.MethodPost, "/api/service/restart", nil)
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the service",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAction(newAPIClient(baseURL), http.MethodPost, "/api/service/stop", nil)
			},
		},
	)
	return cmd
}

func newHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Reboot or shut down the Raspberry Pi",
	}
	for _, op := range []string{"reboot", "shutdown"} {
		cmd.AddCommand(&cobra.Command{
			Use:   op,
			Short: op + " the host",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAction(newAPIClient(baseURL), http.MethodPost, "/api/host/"+op, nil)
			},
		})
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rasadm %s (%s)\n", Version, GitCommit)
		},
	}
}
