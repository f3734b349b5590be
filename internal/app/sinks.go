package app

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"netsync/logging"
	loggingSinks "netsync/logging/sinks"
)

// eventLog is the structured event router plus the files its sinks write to.
type eventLog struct {
	router *logging.Router
	files  []*os.File
}

func openEventLog(cfg logging.Config, stdout io.Writer) (*eventLog, error) {
	if stdout == nil {
		stdout = os.Stdout
	}
	events := &eventLog{}
	var named []logging.NamedSink
	for _, name := range cfg.EnabledSinks {
		var sink logging.Sink
		switch name {
		case logging.SinkConsole:
			sink = loggingSinks.NewConsoleSink(stdout, cfg.Console)
		case logging.SinkJSON:
			w, err := events.output(cfg.JSON.FilePath, stdout)
			if err != nil {
				events.closeFiles()
				return nil, err
			}
			sink = loggingSinks.NewJSON(w, cfg.JSON.FlushInterval)
		case logging.SinkMsgpack:
			if cfg.Msgpack.FilePath == "" {
				events.closeFiles()
				return nil, eris.New("msgpack sink needs a file path")
			}
			w, err := events.output(cfg.Msgpack.FilePath, stdout)
			if err != nil {
				events.closeFiles()
				return nil, err
			}
			sink = loggingSinks.NewMsgpack(w, cfg.Msgpack.FlushInterval)
		case logging.SinkMemory:
			sink = loggingSinks.NewMemorySink()
		default:
			events.closeFiles()
			return nil, eris.Errorf("unknown log sink %q", name)
		}
		named = append(named, logging.NamedSink{Name: name, Sink: sink})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, cfg, named)
	if err != nil {
		events.closeFiles()
		return nil, eris.Wrap(err, "failed to construct logging router")
	}
	events.router = router
	return events, nil
}

// output opens path for appending, or returns stdout when path is empty.
func (l *eventLog) output(path string, stdout io.Writer) (io.Writer, error) {
	if path == "" {
		return stdout, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "open event log %s", path)
	}
	l.files = append(l.files, f)
	return f, nil
}

func (l *eventLog) Close(ctx context.Context) error {
	var err error
	if l.router != nil {
		err = l.router.Close(ctx)
	}
	l.closeFiles()
	return err
}

func (l *eventLog) closeFiles() {
	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
}
