package logging

import "time"

type Config struct {
	EnabledSinks     []string       `json:"enabledSinks"`
	BufferSize       int            `json:"bufferSize"`
	MinimumSeverity  Severity       `json:"minimumSeverity"`
	Fields           map[string]any `json:"fields,omitempty"`
	JSON             JSONConfig     `json:"json"`
	Msgpack          MsgpackConfig  `json:"msgpack"`
	Console          ConsoleConfig  `json:"console"`
	DropWarnInterval time.Duration  `json:"dropWarnInterval"`
}

type JSONConfig struct {
	FilePath      string        `json:"filePath,omitempty"`
	MaxBatch      int           `json:"maxBatch"`
	FlushInterval time.Duration `json:"flushInterval"`
}

// MsgpackConfig controls the compact binary event log.
type MsgpackConfig struct {
	FilePath      string        `json:"filePath,omitempty"`
	FlushInterval time.Duration `json:"flushInterval"`
}

type ConsoleConfig struct {
	UseColor bool `json:"useColor"`
}

const (
	SinkConsole = "console"
	SinkJSON    = "json"
	SinkMsgpack = "msgpack"
	SinkMemory  = "memory"
)

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{SinkConsole},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			MaxBatch:      32,
			FlushInterval: 2 * time.Second,
		},
		Msgpack: MsgpackConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
