package tail

// Cursor is the read position in one watched file plus the unterminated
// line fragment carried over from the previous read.
type Cursor struct {
	Offset  int64
	Pending string
}

// Cursors maps a file path to its cursor. It lives in memory only: a new
// map starts every file at offset 0, so existing content is emitted again
// after a restart.
//
// Cursors is not safe for concurrent use; the poll loop owns it.
type Cursors map[string]*Cursor

// NewCursors returns an empty cursor map.
func NewCursors() Cursors {
	return make(Cursors)
}

// Get returns the cursor for path, or the zero cursor if path has not been
// read yet.
func (c Cursors) Get(path string) Cursor {
	if cur, ok := c[path]; ok {
		return *cur
	}
	return Cursor{}
}

// Advance reads what was appended to path since the last call and returns
// the complete lines it finishes. On error the cursor is left as it was.
func (c Cursors) Advance(path string) ([]string, error) {
	cur, ok := c[path]
	if !ok {
		cur = &Cursor{}
		c[path] = cur
	}

	data, offset, err := Read(path, cur.Offset)
	if err != nil {
		return nil, err
	}
	cur.Offset = offset
	if len(data) == 0 {
		return nil, nil
	}

	lines, rest := Reassemble(cur.Pending, data)
	cur.Pending = rest
	return lines, nil
}
