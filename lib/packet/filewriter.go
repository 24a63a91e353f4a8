package packet

import (
	"os"

	"github.com/pkg/errors"

	"bbsgate/lib/spool"
)

// FileWriter appends encoded packets to rotating files in one
// directory, starting a fresh file whenever the current one would
// grow past the byte ceiling. A packet never splits across files.
type FileWriter struct {
	dir    string
	prefix string
	ext    string
	cap    int

	f    *os.File
	size int
}

func NewFileWriter(dir, prefix, ext string, capBytes int) *FileWriter {
	return &FileWriter{
		dir:    dir,
		prefix: prefix,
		ext:    ext,
		cap:    capBytes,
	}
}

func (w *FileWriter) rotate() error {
	if w.f != nil {
		if err := w.f.Close(); err != nil {
			return errors.Wrap(err, "packet file close")
		}
		w.f = nil
	}
	path, err := spool.NextName(w.dir, w.prefix, w.ext)
	if err != nil {
		return err
	}
	w.f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return errors.Wrap(err, "packet file create")
	}
	w.size = 0
	return nil
}

func (w *FileWriter) WritePacket(p *Packet) error {
	b := p.Encode()
	if w.f == nil || (w.cap > 0 && w.size > 0 && w.size+len(b) > w.cap) {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(b)
	w.size += n
	return errors.Wrap(err, "packet file write")
}

func (w *FileWriter) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return errors.Wrap(err, "packet file close")
}
