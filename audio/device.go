package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var ErrSelectionCancelled = errors.New("device selection cancelled")

// FindDevice returns the capture device whose name or id matches name,
// exactly or as a case-insensitive substring.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i, d := range devices {
		if d.Name == name || d.ID == name {
			return &devices[i], nil
		}
	}
	needle := strings.ToLower(name)
	for i, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no capture device matches %q", name)
}

// SelectDevice presents an interactive device picker and returns the selected device.
// If only one device is available, it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}

	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	idx, err := pickDevice(devices, os.Stdin, os.Stdout)
	if err != nil {
		return nil, err
	}
	return &devices[idx], nil
}

// pickDevice runs the arrow-key picker over raw terminal input.
func pickDevice(devices []DeviceInfo, in io.Reader, out io.Writer) (int, error) {
	cursor := 0
	renderList := func() {
		fmt.Fprint(out, "\r\x1b[J")
		fmt.Fprint(out, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
		for i, d := range devices {
			btTag := ""
			if IsBluetooth(d.Name) {
				btTag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
			}
			if i == cursor {
				fmt.Fprintf(out, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
			} else {
				fmt.Fprintf(out, "    %s%s\r\n", d.Name, btTag)
			}
		}
	}
	up := func() {
		if cursor > 0 {
			cursor--
		}
	}
	down := func() {
		if cursor < len(devices)-1 {
			cursor++
		}
	}

	renderList()

	buf := make([]byte, 16)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("reading input: %w", err)
		}

		keys := buf[:n]
		for i := 0; i < len(keys); i++ {
			switch keys[i] {
			case 13, '\n': // Enter
				fmt.Fprint(out, "\r\n")
				return cursor, nil
			case 3: // Ctrl+C
				fmt.Fprint(out, "\r\n")
				return 0, ErrSelectionCancelled
			case 'j':
				down()
			case 'k':
				up()
			case 0x1b:
				if i+2 < len(keys) && keys[i+1] == '[' {
					switch keys[i+2] {
					case 'A':
						up()
					case 'B':
						down()
					}
					i += 2
				}
			}
		}

		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		renderList()
	}
}
