package escrowcfg

import (
	"fmt"
	"io"

	"github.com/Quaakee/paragon-escrow-sub000/contractdb"
	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/disputerecord"
	"github.com/Quaakee/paragon-escrow-sub000/invoker"
	"github.com/Quaakee/paragon-escrow-sub000/overlay"
	"github.com/Quaakee/paragon-escrow-sub000/roles"
	"github.com/btcsuite/btclog"
)

// subsystemLoggers maps each subsystem to the function installing its
// logger.
var subsystemLoggers = map[string]func(btclog.Logger){
	Subsystem:               UseLogger,
	contractdb.Subsystem:    contractdb.UseLogger,
	covenant.Subsystem:      covenant.UseLogger,
	disputerecord.Subsystem: disputerecord.UseLogger,
	invoker.Subsystem:       invoker.UseLogger,
	overlay.Subsystem:       overlay.UseLogger,
	roles.Subsystem:         roles.UseLogger,
}

// SubsystemLogger installs the logger of a subsystem chosen by the caller,
// such as the wallet implementation in use.
type SubsystemLogger struct {
	Tag string
	Use func(btclog.Logger)
}

// SupportedSubsystems returns the tags of every built in subsystem.
func SupportedSubsystems() []string {
	tags := make([]string, 0, len(subsystemLoggers))
	for tag := range subsystemLoggers {
		tags = append(tags, tag)
	}

	return tags
}

// SetupLoggers writes the logs of every built in subsystem and of extra to
// w at level.
func SetupLoggers(w io.Writer, level string, extra ...SubsystemLogger) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level %q", level)
	}

	backend := btclog.NewBackend(w)
	install := func(tag string, use func(btclog.Logger)) {
		logger := backend.Logger(tag)
		logger.SetLevel(lvl)
		use(logger)
	}

	for tag, use := range subsystemLoggers {
		install(tag, use)
	}
	for _, sub := range extra {
		if _, ok := subsystemLoggers[sub.Tag]; ok {
			return fmt.Errorf("subsystem %v already registered",
				sub.Tag)
		}
		install(sub.Tag, sub.Use)
	}

	return nil
}
