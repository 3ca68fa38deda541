package source

import (
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is how often watched files are checked.
const DefaultPollInterval = 250 * time.Millisecond

// Poller detects changes to individual files by polling their size and
// modification time. One goroutine serves all watched files.
type Poller struct {
	interval time.Duration

	mu      sync.Mutex
	files   map[string]*watchedFile
	nextID  int
	running bool
	stopCh  chan struct{}
}

type watchedFile struct {
	modTime time.Time
	size    int64
	exists  bool
	subs    map[int]func()
}

// NewPoller creates a poller. A non-positive interval uses
// DefaultPollInterval.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		interval: interval,
		files:    make(map[string]*watchedFile),
	}
}

// Add calls fn after each detected change of path until the returned stop
// function is called. Callbacks run on the poller goroutine.
func (p *Poller) Add(path string, fn func()) (stop func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.files[path]
	if !ok {
		f = &watchedFile{subs: make(map[int]func())}
		f.modTime, f.size, f.exists = stat(path)
		p.files[path] = f
	}
	id := p.nextID
	p.nextID++
	f.subs[id] = fn

	if !p.running {
		p.running = true
		p.stopCh = make(chan struct{})
		go p.loop(p.stopCh)
	}

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(path, id) })
	}
}

func (p *Poller) remove(path string, id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[path]
	if !ok {
		return
	}
	delete(f.subs, id)
	if len(f.subs) == 0 {
		delete(p.files, path)
	}
	if len(p.files) == 0 && p.running {
		close(p.stopCh)
		p.running = false
	}
}

// Stop stops polling and drops all watches.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		close(p.stopCh)
		p.running = false
	}
	p.files = make(map[string]*watchedFile)
}

func (p *Poller) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.check()
		}
	}
}

// check stats every watched file and notifies subscribers of changed ones.
func (p *Poller) check() {
	p.mu.Lock()
	paths := make([]string, 0, len(p.files))
	for path := range p.files {
		paths = append(paths, path)
	}
	p.mu.Unlock()

	var notify []func()
	for _, path := range paths {
		modTime, size, exists := stat(path)

		p.mu.Lock()
		f, ok := p.files[path]
		if ok && (exists != f.exists || size != f.size || !modTime.Equal(f.modTime)) {
			f.modTime, f.size, f.exists = modTime, size, exists
			for _, fn := range f.subs {
				notify = append(notify, fn)
			}
		}
		p.mu.Unlock()
	}

	for _, fn := range notify {
		fn()
	}
}

func stat(path string) (time.Time, int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, 0, false
	}
	return info.ModTime(), info.Size(), true
}
