// Package sh provides the ishell based node shell.
package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/lightnode.go/pkg/mdns"
	"github.com/robotalks/lightnode.go/pkg/mdns/browse"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive   bool
	OutputJSON    bool
	BrowseTimeout time.Duration
	// Target is the host of the node commands are sent to.
	Target string

	Shell *ishell.Shell
}

const (
	shellKey       = "$shell"
	noTargetPrompt = "[none] > "
)

var (
	// flags

	evalOnly      bool
	outputJSON    bool
	browseTimeout = time.Second
	target        = os.Getenv("LIGHTNODE_TARGET")

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&TargetCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.DurationVar(&browseTimeout, "browse-timeout", browseTimeout, "How long discover waits for responses.")
	flag.StringVar(&target, "target", target, "Target node host.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New() *Shell {
	s := &Shell{
		Interactive:   !evalOnly,
		OutputJSON:    outputJSON,
		BrowseTimeout: browseTimeout,

		Shell: ishell.New(),
	}
	s.Shell.Set(shellKey, s)
	s.SetTarget(target)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustHaveTarget wraps command func which requires a target node.
func MustHaveTarget(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Target == "" {
			c.Err(fmt.Errorf("no target, use target HOST"))
			return
		}
		fn(c)
	}
}

// SetTarget selects the node commands are sent to.
func (s *Shell) SetTarget(host string) {
	s.Target = host
	if host == "" {
		s.Shell.SetPrompt(noTargetPrompt)
		return
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", host))
}

// Discover browses nodes advertising the service, "config" by default.
func (s *Shell) Discover(service string) ([]browse.Entry, error) {
	if service == "" {
		service = mdns.ServiceConfig.Alias()
	}
	kind, err := mdns.ParseServiceKind(service)
	if err != nil {
		return nil, err
	}
	return browse.Browse(context.Background(), kind.ServiceType(), s.BrowseTimeout)
}

// PrintJSON prints v as JSON.
func PrintJSON(c *ishell.Context, v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// FormatEntry prints a discovered service into friendly string for display.
func FormatEntry(entry browse.Entry) string {
	var w strings.Builder
	w.WriteString(strings.TrimSuffix(entry.Instance, "."+entry.Service))
	if entry.Addr != nil {
		fmt.Fprintf(&w, " %s:%d", entry.Addr, entry.Port)
	} else if entry.Host != "" {
		fmt.Fprintf(&w, " %s:%d", entry.Host, entry.Port)
	}
	for _, txt := range entry.Text {
		if txt != "" {
			fmt.Fprintf(&w, " %q", txt)
		}
	}
	return w.String()
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd discovers nodes.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "[SERVICE]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var service string
			if len(c.Args) > 0 {
				service = c.Args[0]
			}
			entries, err := s.Discover(service)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if len(entries) == 0 {
					// in case entries is nil, make it empty slice.
					entries = []browse.Entry{}
				}
				PrintJSON(c, entries)
				return
			}
			if len(entries) == 0 {
				c.Println("No nodes found")
				return
			}
			for _, entry := range entries {
				c.Println(FormatEntry(entry))
			}
		},
	}

	// TargetCmd selects the target node.
	TargetCmd = ishell.Cmd{
		Name:    "target",
		Aliases: []string{"t"},
		Help:    "[HOST]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) == 0 {
				if s.Target == "" {
					c.Println("No target")
				} else {
					c.Println(s.Target)
				}
				return
			}
			host := c.Args[0]
			if host == "?" {
				entries, err := s.Discover("")
				if err != nil {
					c.Err(err)
					return
				}
				var hosts, items []string
				for _, entry := range entries {
					if entry.Addr != nil {
						hosts = append(hosts, entry.Addr.String())
						items = append(items, FormatEntry(entry))
					}
				}
				if len(hosts) == 0 {
					c.Err(fmt.Errorf("no node discovered"))
					return
				}
				index := 0
				if len(hosts) > 1 {
					if !s.Interactive {
						c.Err(fmt.Errorf("more than 1 nodes discovered in non-interactive mode"))
						return
					}
					if index = s.Shell.MultiChoice(items, "Which one to target?"); index < 0 {
						return
					}
				}
				host = hosts[index]
			}
			s.SetTarget(host)
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New().Run(flag.Args()...)
}
