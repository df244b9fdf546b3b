package locale

import "sync"

// Holder keeps the shared UI language value and broadcasts changes
// subscribers must release their subscription with the returned func
type Holder struct {
	lock *sync.Mutex
	lang string
	subs map[int]chan string
	next int
}

// NewHolder creates holder with the initial language
func NewHolder(lang string) *Holder {
	if lang == "" {
		lang = "en"
	}
	return &Holder{lock: &sync.Mutex{}, lang: lang, subs: map[int]chan string{}}
}

// Current returns the active language
func (h *Holder) Current() string {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.lang
}

// Set changes the language and notifies subscribers
// a subscriber that is not reading gets the latest value on the next read
func (h *Holder) Set(lang string) {
	if lang == "" {
		return
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	if lang == h.lang {
		return
	}
	h.lang = lang
	for _, ch := range h.subs {
		select {
		case ch <- lang:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- lang
		}
	}
}

// Subscribe registers a listener, second result releases it
func (h *Holder) Subscribe() (<-chan string, func()) {
	h.lock.Lock()
	defer h.lock.Unlock()
	id := h.next
	h.next++
	ch := make(chan string, 1)
	h.subs[id] = ch
	return ch, func() {
		h.lock.Lock()
		defer h.lock.Unlock()
		delete(h.subs, id)
	}
}
