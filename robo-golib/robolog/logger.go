package robolog

import (
	"fmt"
	"log"
	"os"

	"github.com/robomosaic/robomosaic/robo-golib/envutil"
)

var (
	rank  = envutil.GetenvDefault("ROBO_RANK", "0")
	world = envutil.GetenvDefault("ROBO_WORLD_SIZE", "1")

	prefix = fmt.Sprintf("[rank=%s world=%s] ", rank, world)
	flags  = log.LstdFlags | log.Lshortfile | log.Lmicroseconds
)

func init() {
	// for clients still using the standard log package
	log.SetPrefix(prefix)
	log.SetFlags(flags)
}

// Basic prefixes the log line with the rank & world-size identifiers
var Basic = &Logger{
	Default: log.New(os.Stderr, prefix, flags),
}

// NewForRun creates a logger that additionally carries the run identifier, so that
// interleaved output from concurrent runs on one machine can be told apart.
func NewForRun(runID string) *Logger {
	p := fmt.Sprintf("[rank=%s world=%s run=%s] ", rank, world, runID)
	return &Logger{
		Default: log.New(os.Stderr, p, flags),
	}
}

// Logger encapsulates multiple logging handlers
type Logger struct {
	Default *log.Logger
}

// Interface encapsulates the relevant methods of log.Logger
type Interface interface {
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

// Printf implements Interface
func (l *Logger) Printf(format string, v ...interface{}) {
	l.Default.Output(2, fmt.Sprintf(format, v...))
}

// Println implements Interface
func (l *Logger) Println(v ...interface{}) {
	l.Default.Output(2, fmt.Sprintln(v...))
}
