// Package sh provides an interactive shell to drive a target over a link.
package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/framelink/pkg/env"
	"github.com/robotalks/framelink/pkg/l0/msgs"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoOpen    bool

	Shell   *ishell.Shell
	Config  *env.Config
	Session *Session
}

const (
	shellKey     = "$shell"
	closedPrompt = "[closed] > "
)

var (
	evalOnly   bool
	outputJSON bool

	commands = []*ishell.Cmd{
		&OpenCmd,
		&CloseCmd,
		&SendCmd,
		&BlackoutCmd,
		&StatsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Shell:       ishell.New(),
		Config:      conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(closedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOpen wraps command func which requires an open session.
func MustBeOpen(fn func(c *ishell.Context, s *Session)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		sess := ShellFrom(c).Session
		if sess == nil {
			c.Err(ErrNotOpen)
			return
		}
		fn(c, sess)
	}
}

// Open opens the port and replaces the current session.
func (s *Shell) Open(rawURL string) error {
	conf, err := s.Config.Link.CommLinkConfig()
	if err != nil {
		return err
	}
	sess, err := OpenSession(rawURL, conf)
	if err != nil {
		return err
	}
	s.Close()
	s.Session = sess
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", rawURL))
	return nil
}

// Close closes the current session.
func (s *Shell) Close() {
	if s.Session != nil {
		s.Session.Close()
		s.Session = nil
		s.Shell.SetPrompt(closedPrompt)
	}
}

func (s *Shell) print(c *ishell.Context, v interface{}, text string) {
	if s.OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text)
}

func (s *Shell) do(c *ishell.Context, sess *Session, msg *msgs.HostMessage) {
	if err := msg.Validate(); err != nil {
		c.Err(err)
		return
	}
	reply, err := sess.Do(context.Background(), msg)
	if err != nil {
		c.Err(err)
		return
	}
	s.print(c, reply, FormatReply(reply))
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoOpen && s.Config.Port != "" {
		if s.Interactive {
			s.Shell.Printf("Opening %s ...\n", s.Config.Port)
		}
		if err := s.Open(s.Config.Port); err != nil {
			log.Fatalf("open %q failed: %v", s.Config.Port, err)
		}
	}
	defer s.Close()

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

func parseUniverse(args []string) (uint32, []string, error) {
	if len(args) == 0 {
		return 0, nil, fmt.Errorf("UNIVERSE required")
	}
	val, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid UNIVERSE: %w", err)
	}
	return uint32(val), args[1:], nil
}

var (
	// OpenCmd opens a port.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[PORT-URL]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			rawURL := s.Config.Port
			if len(c.Args) > 0 {
				rawURL = c.Args[0]
			}
			if err := s.Open(rawURL); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes the current session.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}

	// SendCmd sends channel values and prints the reply.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "UNIVERSE VALUE|COUNT*VALUE...",
		Func: MustBeOpen(func(c *ishell.Context, sess *Session) {
			universe, args, err := parseUniverse(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			channels, err := ParseChannels(args)
			if err != nil {
				c.Err(err)
				return
			}
			ShellFrom(c).do(c, sess, &msgs.HostMessage{Universe: universe, Channels: channels})
		}),
	}

	// BlackoutCmd turns all channels of a universe off.
	BlackoutCmd = ishell.Cmd{
		Name:    "blackout",
		Aliases: []string{"bo"},
		Help:    "UNIVERSE",
		Func: MustBeOpen(func(c *ishell.Context, sess *Session) {
			universe, _, err := parseUniverse(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			ShellFrom(c).do(c, sess, &msgs.HostMessage{Universe: universe, Blackout: true})
		}),
	}

	// StatsCmd prints the link counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: MustBeOpen(func(c *ishell.Context, sess *Session) {
			stats := sess.Stats()
			ShellFrom(c).print(c, &stats, FormatStats(stats))
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	env.SetupFlags()
	flag.Parse()
	s := New(env.Default())
	s.AutoOpen = true
	s.Run(flag.Args()...)
}
