// Command stageprobe is a headless check of the motion-controller link:
// it opens a serial port, queries the machine status, and optionally
// issues a small relative move.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"probe-station/internal/serialport"
	"probe-station/internal/stage"
)

func main() {
	port := flag.String("port", "", "Serial port name (required; try -list)")
	baud := flag.Int("baud", serialport.DefaultBaud, "Baud rate")
	list := flag.Bool("list", false, "List available serial ports and exit")
	move := flag.String("move", "", "Optional relative move as 'x,y' in mm")
	feed := flag.Float64("feed", stage.DefaultParams().FeedRate, "Feed rate in mm/min")
	flag.Parse()

	if *list {
		ports, err := serialport.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if *port == "" {
		fmt.Println("Usage: stageprobe -port <name> [-baud <rate>] [-move x,y]")
		os.Exit(1)
	}

	conn, err := serialport.Open(*port, *baud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open failed: %v\n", err)
		os.Exit(1)
	}
	link := stage.NewSerialLink(conn, *feed)
	defer link.Close()

	status, err := link.QueryStatus(1500 * time.Millisecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed: %v\n", err)
		os.Exit(1)
	}
	if status == nil {
		fmt.Println("No status report received.")
	} else if status.Position != nil {
		fmt.Printf("state=%s MPos=%.3f,%.3f,%.3f\n", status.State,
			status.Position.X, status.Position.Y, status.Position.Z)
	} else {
		fmt.Printf("state=%s (no position report)\n", status.State)
	}

	if *move == "" {
		return
	}
	vec, err := parseMove(*move)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad -move value: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("moving X%.4f Y%.4f…\n", vec.X, vec.Y)
	if err := link.SendRelativeMove(vec); err != nil {
		fmt.Fprintf(os.Stderr, "Move failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("move complete")
}

func parseMove(s string) (stage.MoveVector, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return stage.MoveVector{}, fmt.Errorf("expected 'x,y', got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return stage.MoveVector{}, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return stage.MoveVector{}, err
	}
	return stage.MoveVector{X: x, Y: y}, nil
}
