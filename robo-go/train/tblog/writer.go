// Package tblog appends scalar training metrics as JSON lines, one events file per
// run, mirroring the tag/step/value/walltime shape of tensorboard scalars.
package tblog

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"github.com/robomosaic/robomosaic/robo-golib/fileutil"
)

// EventsFilename is the scalar stream inside a run's tensorboard dir.
const EventsFilename = "events.jsonl"

// Event is one scalar observation.
type Event struct {
	Tag      string  `json:"tag"`
	Step     int     `json:"step"`
	Value    float64 `json:"value"`
	Walltime float64 `json:"walltime"`
}

// Writer appends events to <dir>/events.jsonl. The file only becomes visible at
// Close, which lets the dir live on S3.
type Writer struct {
	m   sync.Mutex
	wc  io.WriteCloser
	enc *json.Encoder
}

// NewWriter opens the events file for the given run dir.
func NewWriter(dir string) (*Writer, error) {
	wc, err := fileutil.NewBufferedWriter(fileutil.Join(dir, EventsFilename))
	if err != nil {
		return nil, errors.Wrapf(err, "error opening events file under %s", dir)
	}
	return &Writer{wc: wc, enc: json.NewEncoder(wc)}, nil
}

// AddScalar appends one tagged value at the given global step.
func (w *Writer) AddScalar(tag string, step int, value float64) error {
	w.m.Lock()
	defer w.m.Unlock()
	return w.enc.Encode(Event{
		Tag:      tag,
		Step:     step,
		Value:    value,
		Walltime: float64(time.Now().UnixNano()) / 1e9,
	})
}

// Close flushes the stream.
func (w *Writer) Close() error {
	w.m.Lock()
	defer w.m.Unlock()
	return w.wc.Close()
}

// ReadEvents loads every event from a run's events file.
func ReadEvents(dir string) ([]Event, error) {
	r, err := fileutil.NewReader(fileutil.Join(dir, EventsFilename))
	if err != nil {
		return nil, errors.Wrapf(err, "error opening events file under %s", dir)
	}
	defer r.Close()

	var events []Event
	dec := json.NewDecoder(r)
	for {
		var ev Event
		if err := dec.Decode(&ev); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrapf(err, "malformed event in %s", dir)
		}
		events = append(events, ev)
	}
	return events, nil
}
