package cli

import (
	"os"

	"github.com/poltergeist/summon/pkg/notifier"
)

// SetInterrupts replaces os/signal delivery for the run command
func (c *CLI) SetInterrupts(ch <-chan os.Signal) {
	c.interrupts = ch
}

// SetNotifierOptions configures the notifier the run command creates
func (c *CLI) SetNotifierOptions(opts ...notifier.Option) {
	c.notifyOpts = opts
}
