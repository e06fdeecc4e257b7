package cluster

import (
	"github.com/pkg/errors"

	"bypasskv/internal/faults"
)

type Kind int

const (
	InMemory Kind = iota
	Networked
)

const (
	InMemoryArg  = "in-memory"
	NetworkedArg = "networked"
)

// AgainstClusterArg is accepted as another name for networked mode.
const AgainstClusterArg = "against-cluster"

// Mode selects where the table lives. ConfigPath is only used by Networked.
type Mode struct {
	Kind       Kind
	ConfigPath string
}

func InMemoryMode() Mode {
	return Mode{Kind: InMemory}
}

func NetworkedMode(configPath string) Mode {
	return Mode{Kind: Networked, ConfigPath: configPath}
}

func (m Mode) String() string {
	switch m.Kind {
	case InMemory:
		return InMemoryArg
	case Networked:
		return NetworkedArg
	default:
		return "unknown"
	}
}

// ParseMode reads the positional arguments: the first selects the mode
// (in-memory when absent), the second is the config path for networked mode.
func ParseMode(args []string) (Mode, error) {
	if len(args) == 0 {
		return InMemoryMode(), nil
	}
	switch args[0] {
	case InMemoryArg:
		return InMemoryMode(), nil
	case NetworkedArg, AgainstClusterArg:
		if len(args) < 2 || args[1] == "" {
			return Mode{}, &faults.ConfigFault{Cause: errors.Errorf("%s mode needs a configuration path", args[0])}
		}
		return NetworkedMode(args[1]), nil
	default:
		var path string
		if len(args) > 1 {
			path = args[1]
		}
		return Mode{}, &faults.ConfigFault{Path: path, Cause: errors.Errorf("unknown mode %q", args[0])}
	}
}
