// Command steershell is an interactive shell for bench-testing one
// motor-controller board with the same control law as the daemon.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/abiosoft/ishell/v2"

	"github.com/cjeanneret/SteerGo/internal/debug"
	"github.com/cjeanneret/SteerGo/internal/hw/claw"
)

func main() {
	level := flag.Int("debug", debug.LevelInfo, "debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)")
	mock := flag.Bool("mock", false, "start connected to a simulated board")
	flag.Parse()

	debug.Init(*level)
	b := newBench(os.Stdout)
	if *mock {
		if err := b.connect([]string{"-mock"}); err != nil {
			log.Fatalf("connect mock: %v", err)
		}
	}
	defer func() {
		if err := b.close(); err != nil {
			log.Printf("closing board failed: %v", err)
		}
	}()

	shell := ishell.New()
	shell.Println("SteerGo bench shell")
	shell.ShowPrompt(true)
	for _, cmd := range commands(b) {
		shell.AddCmd(cmd)
	}
	shell.Run()
}

// run adapts a bench operation to an ishell handler.
func run(fn func(args []string) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if err := fn(c.Args); err != nil {
			c.Err(err)
		}
	}
}

func noArgs(fn func() error) func(args []string) error {
	return func([]string) error { return fn() }
}

func commands(b *bench) []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name: "connect",
			Help: "connect <port|-mock> [address] [baud]",
			Func: run(b.connect),
		},
		{
			Name: "version",
			Help: "print the firmware banner",
			Func: run(noArgs(b.version)),
		},
		{
			Name: "status",
			Help: "read and decode the status word",
			Func: run(noArgs(b.status)),
		},
		{
			Name: "enc",
			Help: "read both encoders",
			Func: run(noArgs(b.encoders)),
		},
		{
			Name: "reset",
			Help: "zero both encoders",
			Func: run(noArgs(b.reset)),
		},
		{
			Name: "fwd",
			Help: "fwd <m1|m2> <0-255>",
			Func: run(func(args []string) error { return b.drive(claw.Forward, args) }),
		},
		{
			Name: "back",
			Help: "back <m1|m2> <0-255>",
			Func: run(func(args []string) error { return b.drive(claw.Backward, args) }),
		},
		{
			Name: "stop",
			Help: "send forward(0) to both motors",
			Func: run(noArgs(b.stop)),
		},
		{
			Name: "gains",
			Help: "gains <m1|m2> <kp> <qpps> <deadzone> <kick> [mirrored]",
			Func: run(b.setGains),
		},
		{
			Name: "target",
			Help: "target <m1|m2> <angle>",
			Func: run(b.setTarget),
		},
		{
			Name: "step",
			Help: "step [n]: run n control ticks at 20 Hz",
			Func: run(b.step),
		},
	}
}
