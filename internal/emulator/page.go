package emulator

// page holds a contiguous run of retired (scrolled-off) rows. Pages are
// never mutated once full; a full page is recycled by dropping it and
// starting a fresh one with a higher serial, so row-ids are never reused.
type page struct {
	serial int64
	rows   []Row // capacity-bounded; rows[i].ID == serial*capacity + i
}

// scrollback is a bounded ring of pages, oldest first.
type scrollback struct {
	capacity int // rows per page
	maxPages int // bound on retained pages (memory bound)
	pages    []*page
}

func newScrollback(pageCapacity, maxPages int) *scrollback {
	return &scrollback{capacity: pageCapacity, maxPages: maxPages}
}

// append retires one row, assigning it the given id (must be the next
// sequential id). Returns true if an older page was pruned as a result.
func (s *scrollback) append(id RowID, row Row) (pruned bool) {
	serial := id.PageSerial(s.capacity)
	if len(s.pages) == 0 || s.pages[len(s.pages)-1].serial != serial {
		s.pages = append(s.pages, &page{serial: serial})
	}
	cur := s.pages[len(s.pages)-1]
	cur.rows = append(cur.rows, row)

	if s.maxPages > 0 && len(s.pages) > s.maxPages {
		s.pages = s.pages[1:]
		pruned = true
	}
	return pruned
}

// lookup finds a retired row by id, or ok=false if it has been pruned or
// was never retired (e.g. it is still live).
func (s *scrollback) lookup(id RowID) (Row, bool) {
	serial := id.PageSerial(s.capacity)
	for _, p := range s.pages {
		if p.serial == serial {
			idx := int(id.RowIndexInPage(s.capacity))
			if idx >= 0 && idx < len(p.rows) {
				return p.rows[idx], true
			}
			return Row{}, false
		}
	}
	return Row{}, false
}

// minRowID returns the oldest row-id still retained, or ok=false if
// scrollback is empty.
func (s *scrollback) minRowID() (RowID, bool) {
	if len(s.pages) == 0 || len(s.pages[0].rows) == 0 {
		return 0, false
	}
	return s.pages[0].rows[0].ID, true
}

// totalRows returns the number of retained scrollback rows.
func (s *scrollback) totalRows() int {
	n := 0
	for _, p := range s.pages {
		n += len(p.rows)
	}
	return n
}
