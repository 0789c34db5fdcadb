// armcal is an interactive calibration tool for the sorting arm. Unload the
// servos, pose the arm by hand over a bin, read the positions back, and paste
// them into the config's poses section.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/projectlend/lend/internal/arm"
	"github.com/projectlend/lend/internal/config"
	"github.com/projectlend/lend/internal/types"
)

func main() {
	configPath := flag.String("config", "config/lend.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	client, err := arm.Dial(cfg.Arm)
	if err != nil {
		slog.Error("failed to connect arm", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()

	fmt.Println("arm calibration tool")
	fmt.Println("commands:")
	fmt.Println("  unload        power off servos (pose the arm by hand)")
	fmt.Println("  read          print the current pose as YAML")
	fmt.Println("  move p1..p6   move to a pose (six positions, 0-1000)")
	fmt.Println("  home          move to the configured home pose")
	fmt.Println("  open | close  operate the gripper")
	fmt.Println("  sort CAT      run the full sort sequence for a category")
	fmt.Println("  quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "unload":
			err = client.Unload()

		case "read":
			var pose []int
			pose, err = client.ReadPose()
			if err == nil {
				out, _ := yaml.Marshal(map[string][]int{"pose": pose})
				fmt.Print(string(out))
			}

		case "move":
			if len(fields) != 7 {
				err = fmt.Errorf("move needs 6 positions")
				break
			}
			pose := make([]int, 6)
			for i, raw := range fields[1:] {
				pose[i], err = strconv.Atoi(raw)
				if err != nil {
					break
				}
			}
			if err == nil {
				err = client.MoveToPose(ctx, pose)
			}

		case "home":
			err = client.Home(ctx)

		case "open":
			err = client.GripperOpen(ctx)

		case "close":
			err = client.GripperClose(ctx)

		case "sort":
			if len(fields) != 2 {
				err = fmt.Errorf("sort needs a category")
				break
			}
			cat := types.Category(strings.ToLower(fields[1]))
			if !cat.Valid() {
				err = fmt.Errorf("unknown category %q", fields[1])
				break
			}
			err = client.Sort(ctx, cat)

		case "quit", "exit":
			return

		default:
			err = fmt.Errorf("unknown command %q", fields[0])
		}

		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}
