package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"valetudo-home/internal/domain"
	"valetudo-home/internal/infra/valetudo"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type TokenCommand struct{}

func (c *TokenCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionToken})
}

type StatusCommand struct{}

func (c *StatusCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionStatus})
}

type ConsumablesCommand struct{}

func (c *ConsumablesCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionConsumables})
}

type VolumeCommand struct {
	Get  VolumeGetCommand  `command:"get" description:"Print the sound volume"`
	Set  VolumeSetCommand  `command:"set" description:"Set the sound volume (0-100)"`
	Test VolumeTestCommand `command:"test" description:"Play a test sound"`
}

func (c *VolumeCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionVolume})
}

type VolumeGetCommand struct{}

func (c *VolumeGetCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionVolume})
}

type VolumeSetCommand struct {
	Args struct {
		Volume int `positional-arg-name:"VOLUME" required:"yes"`
	} `positional-args:"yes"`
}

func (c *VolumeSetCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionSetVolume, Volume: c.Args.Volume})
}

type VolumeTestCommand struct{}

func (c *VolumeTestCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionTestVolume})
}

// ActionCommand runs a command that takes no arguments.
type ActionCommand struct {
	action domain.Action
}

func (c *ActionCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: c.action})
}

type GoToCommand struct {
	Args struct {
		X int `positional-arg-name:"X"`
		Y int `positional-arg-name:"Y"`
	} `positional-args:"yes"`
}

func (c *GoToCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionGoTo, X: c.Args.X, Y: c.Args.Y})
}

type FanSpeedCommand struct {
	Args struct {
		Speed int `positional-arg-name:"SPEED" required:"yes"`
	} `positional-args:"yes"`
}

func (c *FanSpeedCommand) Execute(_ []string) error {
	return runCommand(domain.Command{Action: domain.ActionSetFanSpeed, Speed: c.Args.Speed})
}

func runCommand(cmd domain.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Log)

	dispatcher, err := newDispatcher(cfg, nil, logger)
	if err != nil {
		return err
	}

	res, err := dispatcher.Execute(context.Background(), cmd)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, res, opts.Pretty)
}

func printResult(w io.Writer, res valetudo.Result, pretty bool) error {
	if !pretty {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if len(res) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("(empty response)"))
		return err
	}

	keys := make([]string, 0, len(res))
	for k := range res {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, formatValue(res[k])})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Field", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 0 {
				return keyStyle
			}
			return cellStyle
		})

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return "-"
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
