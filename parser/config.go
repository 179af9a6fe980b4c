package parser

import (
	"flag"
	"fmt"

	"github.com/go-kit/log"
)

// DefaultMaxDepth is the default limit on submessage/group nesting.
const DefaultMaxDepth = 64

// Config controls a Parser. The zero value is usable: MaxDepth falls back to
// DefaultMaxDepth and no per-frame user data is reserved.
type Config struct {
	// MaxDepth bounds how many submessages or groups may be open at once.
	// Deeper input fails with wire.ErrStructure.
	MaxDepth int `yaml:"max_depth"`

	// UserDataSize is the number of scratch bytes reserved for the handler in
	// every stack frame, see Parser.UserData.
	UserDataSize int `yaml:"user_data_size"`

	// StringBuffer receives string and bytes payloads that arrive split across
	// Parse calls. When nil the parser allocates its own.
	StringBuffer *StringBuffer `yaml:"-"`

	Logger log.Logger `yaml:"-"`
}

// RegisterFlagsWithPrefix registers flags for the parser options.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.MaxDepth, prefix+"parser.max-depth", DefaultMaxDepth, "Maximum submessage nesting depth before parsing fails.")
	f.IntVar(&c.UserDataSize, prefix+"parser.user-data-size", 0, "Bytes of handler scratch space reserved per nesting level.")
}

// RegisterFlags registers flags for the parser options without a prefix.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.RegisterFlagsWithPrefix("", f)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("invalid max depth %d: must not be negative", c.MaxDepth)
	}
	if c.UserDataSize < 0 {
		return fmt.Errorf("invalid user data size %d: must not be negative", c.UserDataSize)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.UserDataSize < 0 {
		c.UserDataSize = 0
	}
	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}
	if c.StringBuffer == nil {
		c.StringBuffer = &StringBuffer{}
	}
}
