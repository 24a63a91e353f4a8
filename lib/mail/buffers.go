package mail

import (
	"bytes"
	"io"
	"sync"

	"bbsgate/lib/bufreader"
)

var bufPool = sync.Pool{
	New: func() interface{} {
		return bufreader.NewBufReaderSize(nil, 4096)
	},
}

func obtainBufReader(r io.Reader) *bufreader.BufReader {
	br := bufPool.Get().(*bufreader.BufReader)
	br.Drop()
	br.ResetErr()
	br.SetReader(r)
	return br
}

func dropBufReader(br *bufreader.BufReader) {
	br.SetReader(nil)
	bufPool.Put(br)
}

var hdrPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}
