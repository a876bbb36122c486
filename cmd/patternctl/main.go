package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ============================================================================
// patternctl - Command-line IPC Client
// ============================================================================
// Sends one event per invocation to the patternbrainz daemon.
//
// Usage:
//   patternctl play
//   patternctl speed 0.8
//   patternctl buildup 600 2 0.2 1.4
//   patternctl -socket /run/patternbrainz.sock estop
// ============================================================================

const defaultSocket = "/tmp/patternbrainz.sock"

// Envelope is the daemon's line-JSON request format.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var errUsage = errors.New("usage")

func main() {
	socketPath := defaultSocket
	if env := os.Getenv("PATTERNBRAINZ_SOCKET"); env != "" {
		socketPath = env
	}

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return
	}

	env, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			printUsage()
		}
		os.Exit(1)
	}

	if err := send(socketPath, env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

// parseCommand turns command-line words into a request envelope. Range checks
// are left to the daemon, which answers with the reason.
func parseCommand(args []string) (Envelope, error) {
	cmd, rest := args[0], args[1:]

	need := func(n int, what string) error {
		if len(rest) != n {
			return fmt.Errorf("%s requires %s: %w", cmd, what, errUsage)
		}
		return nil
	}
	bare := func(typ string) (Envelope, error) {
		if len(rest) != 0 {
			return Envelope{}, fmt.Errorf("%s takes no arguments: %w", cmd, errUsage)
		}
		return Envelope{Type: typ}, nil
	}

	switch cmd {
	case "play", "start":
		return bare("play")
	case "stop":
		return bare("stop")
	case "toggle":
		return bare("toggle_play")
	case "estop", "emergency-stop":
		return bare("emergency_stop")
	case "skip":
		return bare("skip_pattern")
	case "buildup-stop":
		return bare("buildup_stop")
	case "manual-end":
		return bare("manual_end")

	case "speed":
		if err := need(1, "a speed value"); err != nil {
			return Envelope{}, err
		}
		v, err := parseFloat(rest[0], "speed")
		if err != nil {
			return Envelope{}, err
		}
		return withData("set_speed", map[string]float64{"speed": v})

	case "buildup":
		// Every argument is optional; missing ones take the daemon's defaults.
		if len(rest) > 4 {
			return Envelope{}, fmt.Errorf("buildup takes at most 4 arguments: %w", errUsage)
		}
		if len(rest) == 0 {
			return Envelope{Type: "buildup_start"}, nil
		}
		data := map[string]float64{}
		keys := []string{"duration_s", "cycles", "start_speed", "end_speed"}
		for i, raw := range rest {
			v, err := parseFloat(raw, keys[i])
			if err != nil {
				return Envelope{}, err
			}
			data[keys[i]] = v
		}
		return withData("buildup_start", data)

	case "chaos":
		if err := need(1, "on or off"); err != nil {
			return Envelope{}, err
		}
		switch rest[0] {
		case "on":
			return Envelope{Type: "chaos_enable"}, nil
		case "off":
			return Envelope{Type: "chaos_disable"}, nil
		}
		return Envelope{}, fmt.Errorf("chaos expects on or off, got %q: %w", rest[0], errUsage)

	case "manual", "manual-move":
		if err := need(1, "a position 0..1"); err != nil {
			return Envelope{}, err
		}
		v, err := parseFloat(rest[0], "position")
		if err != nil {
			return Envelope{}, err
		}
		typ := "manual_start"
		if cmd == "manual-move" {
			typ = "manual_update"
		}
		return withData(typ, map[string]float64{"position": v})

	case "category":
		if err := need(1, "a category name"); err != nil {
			return Envelope{}, err
		}
		return withData("set_category", map[string]string{"category": rest[0]})

	case "range":
		if err := need(2, "min and max"); err != nil {
			return Envelope{}, err
		}
		lo, err := strconv.Atoi(rest[0])
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid min: %w", err)
		}
		hi, err := strconv.Atoi(rest[1])
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid max: %w", err)
		}
		return withData("set_range", map[string]int{"min": lo, "max": hi})
	}

	return Envelope{}, fmt.Errorf("unknown command: %s: %w", cmd, errUsage)
}

func parseFloat(s, name string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func withData(typ string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return Envelope{Type: typ, Data: raw}, nil
}

func send(socketPath string, env Envelope) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `patternctl - Control the patternbrainz daemon via IPC

Usage:
  patternctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s, or $PATTERNBRAINZ_SOCKET)

Commands:
  play, start                          Start pattern playback
  stop                                 Stop playback
  toggle                               Toggle playback
  estop, emergency-stop                Stop and home the device
  speed <v>                            Set the manual base speed
  buildup [secs [cycles [start [end]]]] Start a build-up ramp
  buildup-stop                         Cancel the build-up
  chaos on|off                         Enable or disable chaos mode
  manual <pos>                         Hold the device at pos (0..1)
  manual-move <pos>                    Move the held position
  manual-end                           Release manual override
  skip                                 Skip to a fresh pattern
  category <name>                      Switch pattern category
  range <min> <max>                    Limit device travel (percent)
  help, -h, --help                     Show this help message

Examples:
  patternctl speed 1.2
  patternctl buildup 600 2
  patternctl -socket /run/patternbrainz.sock chaos on
`, defaultSocket)
}
