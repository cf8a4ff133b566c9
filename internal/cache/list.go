package cache

// intrusive doubly-linked list of cache entries, adapted from the
// arena-style list used by mosdns's sharded LRU.
// Front is MRU, back is LRU; both ends and MoveToFront are O(1).

type listElem struct {
	prev, next *listElem
	list       *entryList
	key        string
	entry      cacheEntry
}

type entryList struct {
	front, back *listElem
	length      int
}

func (l *entryList) Len() int { return l.length }

func (l *entryList) Back() *listElem { return l.back }

func (l *entryList) PushFront(e *listElem) *listElem {
	l.length++
	e.list = l

	if l.front == nil {
		l.front = e
		l.back = e
		return e
	}

	e.next = l.front
	l.front.prev = e
	l.front = e
	return e
}

// MoveToFront moves an existing element to the front in O(1).
func (l *entryList) MoveToFront(e *listElem) {
	if l.front == e {
		return
	}

	p, n := e.prev, e.next
	if p != nil {
		p.next = n
	} else {
		l.front = n
	}
	if n != nil {
		n.prev = p
	} else {
		l.back = p
	}

	e.prev = nil
	e.next = l.front
	l.front.prev = e
	l.front = e
}

// Remove detaches e from the list. Does not touch any index.
func (l *entryList) Remove(e *listElem) {
	l.length--

	p, n := e.prev, e.next
	if p != nil {
		p.next = n
	} else {
		l.front = n
	}
	if n != nil {
		n.prev = p
	} else {
		l.back = p
	}

	e.prev = nil
	e.next = nil
	e.list = nil
}
