// Copyright 2025 The RagForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persona

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Commands dispatches the persona slash commands and renders their output.
type Commands struct {
	store *Store
	out   io.Writer

	// onSwitch is called when the active persona changes, so the UI can
	// update its identity immediately.
	onSwitch func()
}

// NewCommands builds the slash-command dispatcher writing to out.
func NewCommands(store *Store, out io.Writer) *Commands {
	return &Commands{store: store, out: out}
}

// OnSwitch installs a callback fired after /set-persona.
func (c *Commands) OnSwitch(fn func()) { c.onSwitch = fn }

// IsCommand reports whether the input line is a slash command.
func IsCommand(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "/")
}

// Dispatch runs one slash command line. Unknown commands print help.
func (c *Commands) Dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return nil
	}
	command := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), command))

	switch command {
	case "/help":
		c.printHelp()
		return nil
	case "/personas":
		c.printPersonas()
		return nil
	case "/set-persona":
		return c.setPersona(rest)
	case "/create-persona":
		return c.createPersona(ctx, rest)
	case "/delete-persona":
		return c.deletePersona(rest)
	default:
		fmt.Fprintf(c.out, "Unknown command %s\n\n", command)
		c.printHelp()
		return nil
	}
}

func (c *Commands) printHelp() {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(c.out, "%s\n", bold("Commands"))
	fmt.Fprintln(c.out, "  /help                                          show this help")
	fmt.Fprintln(c.out, "  /personas                                      list personas")
	fmt.Fprintln(c.out, "  /set-persona <name|index>                      switch persona")
	fmt.Fprintln(c.out, "  /create-persona name | color | language | description")
	fmt.Fprintln(c.out, "  /delete-persona <name>                         delete a persona")
}

// Colored returns the persona's name rendered in its configured color.
func Colored(name, personaColor string) string {
	attr, ok := map[string]color.Attribute{
		"red":     color.FgRed,
		"green":   color.FgGreen,
		"yellow":  color.FgYellow,
		"blue":    color.FgBlue,
		"magenta": color.FgMagenta,
		"cyan":    color.FgCyan,
		"white":   color.FgWhite,
		"gray":    color.FgHiBlack,
	}[personaColor]
	if !ok {
		return name
	}
	return color.New(attr).Sprint(name)
}

func (c *Commands) printPersonas() {
	active := c.store.Active()
	for i, p := range c.store.List() {
		marker := " "
		if p.ID == active.ID {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %d. %s", marker, i+1, Colored(p.Name, p.Color))
		if p.Description != "" {
			fmt.Fprintf(c.out, " — %s", p.Description)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Commands) setPersona(ref string) error {
	if ref == "" {
		return fmt.Errorf("usage: /set-persona <name|index>")
	}
	p, err := c.store.SetActive(ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Now talking to %s.\n", Colored(p.Name, p.Color))
	if c.onSwitch != nil {
		c.onSwitch()
	}
	return nil
}

func (c *Commands) createPersona(ctx context.Context, rest string) error {
	parts := strings.SplitN(rest, "|", 4)
	if len(parts) < 4 {
		return fmt.Errorf("usage: /create-persona name | color | language | description")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	fmt.Fprintln(c.out, "Creating persona…")
	p, err := c.store.Create(ctx, parts[0], parts[1], parts[2], parts[3])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created %s. Switch with /set-persona %s\n", Colored(p.Name, p.Color), p.Name)
	return nil
}

func (c *Commands) deletePersona(ref string) error {
	if ref == "" {
		return fmt.Errorf("usage: /delete-persona <name>")
	}
	if err := c.store.Delete(ref); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted persona %s.\n", ref)
	if c.onSwitch != nil {
		c.onSwitch()
	}
	return nil
}
