package dataset

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/robomosaic/robomosaic/robo-go/trajectory"
)

// DoneFilename marks a part-file directory whose writer has flushed everything.
const DoneFilename = "DONE"

// partPattern names episode part files; readers glob on this layout.
const partPattern = "part-%05d.json.gz"

// EpisodeWriter writes native steps into gzipped JSON-lines part files, rotating to a
// new part once stepsPerFile steps have accumulated. Flushing happens on a background
// goroutine so datagen can keep encoding while the previous part is written out.
type EpisodeWriter struct {
	dir    string
	tmpdir string
	n      int64

	stepsPerFile int

	steps []trajectory.NativeStep
	m     sync.Mutex
	wg    sync.WaitGroup

	errM sync.Mutex
	err  error
}

// NewEpisodeWriter creates the output directory and returns a writer that rotates
// parts every stepsPerFile steps.
func NewEpisodeWriter(dir, tmpdir string, stepsPerFile int) *EpisodeWriter {
	err := os.MkdirAll(dir, os.ModePerm)
	if err != nil {
		log.Fatalln(err)
	}
	return &EpisodeWriter{
		dir:          dir,
		tmpdir:       tmpdir,
		stepsPerFile: stepsPerFile,
	}
}

// WriteStep appends one native step, rotating the part file if it is full.
func (w *EpisodeWriter) WriteStep(step trajectory.NativeStep) error {
	w.m.Lock()
	defer w.m.Unlock()
	w.steps = append(w.steps, step)
	if len(w.steps) >= w.stepsPerFile {
		w.wg.Wait()
		w.wg.Add(1)
		go func(steps []trajectory.NativeStep, n int64) {
			defer w.wg.Done()
			if err := w.flushInternal(steps, n); err != nil {
				log.Println("error flushing:", err)
				w.setErr(err)
			}
		}(w.steps, w.n)

		w.steps = nil
		w.n++
	}
	return nil
}

// setErr latches the first background flush failure so Flush can surface it instead
// of marking a broken directory DONE.
func (w *EpisodeWriter) setErr(err error) {
	w.errM.Lock()
	defer w.errM.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *EpisodeWriter) firstErr() error {
	w.errM.Lock()
	defer w.errM.Unlock()
	return w.err
}

// Flush writes any buffered steps and places the DONE marker. It fails without
// writing the marker if any part flush failed.
func (w *EpisodeWriter) Flush() error {
	w.m.Lock()
	defer w.m.Unlock()
	w.wg.Wait()
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(w.steps) > 0 {
		if err := w.flushInternal(w.steps, w.n); err != nil {
			return err
		}
		w.steps = nil
		w.n++
	}
	return ioutil.WriteFile(filepath.Join(w.dir, DoneFilename), nil, os.ModePerm)
}

func (w *EpisodeWriter) flushInternal(steps []trajectory.NativeStep, n int64) error {
	tmpfile, err := ioutil.TempFile(w.tmpdir, "episodewriter")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(tmpfile)
	for _, step := range steps {
		buf, err := json.Marshal(step)
		if err != nil {
			return err
		}
		buf = append(buf, byte('\n'))
		if _, err := gz.Write(buf); err != nil {
			return err
		}
	}

	if err := gz.Close(); err != nil {
		return err
	}
	if err := tmpfile.Close(); err != nil {
		return err
	}

	fn := filepath.Join(w.dir, fmt.Sprintf(partPattern, n))
	if err := os.Rename(tmpfile.Name(), fn); err != nil {
		return err
	}

	log.Printf("%s is ready", fn)
	return nil
}
