// Package tail reads growing log files incrementally and reassembles the
// bytes into complete lines across polls.
package tail

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Read returns the bytes appended to path since offset and the offset to
// pass on the next call.
//
// A file that does not exist yet returns no data and the offset unchanged.
// A file smaller than offset is assumed truncated or rotated and is read
// from the start. Any other I/O error is returned.
func Read(path string, offset int64) ([]byte, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, errors.Wrapf(err, "stat %s", path)
	}
	if info.Size() < offset {
		offset = 0
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, errors.Wrapf(err, "seeking %s to %d", path, offset)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, errors.Wrapf(err, "reading %s", path)
	}
	return data, offset + int64(len(data)), nil
}

// Reassemble joins pending with data and splits the result after every
// newline. Complete lines keep their terminator. An unterminated final
// fragment is returned as rest and must be passed back as pending on the
// next call.
func Reassemble(pending string, data []byte) (lines []string, rest string) {
	buf := pending + string(data)
	for {
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			return lines, buf
		}
		lines = append(lines, buf[:i+1])
		buf = buf[i+1:]
	}
}
