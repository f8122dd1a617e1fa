package runner

import (
	"context"
	"sync"
	"time"

	"snaptosize/failures"
)

// Pool runs claim workers. A worker holds at most one job at a time; it
// claims jobs it is told about and polls the registry for the rest, so a
// lost notification only delays work.
type Pool struct {
	runner  *Runner
	workers int
	poll    time.Duration
	notify  chan string

	mu     sync.RWMutex
	active map[string]time.Time // job id -> claim time
	wg     sync.WaitGroup
}

func NewPool(r *Runner, workers int, poll time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Pool{
		runner:  r,
		workers: workers,
		poll:    poll,
		notify:  make(chan string, 64),
		active:  make(map[string]time.Time),
	}
}

// Notify hands a job id to the next idle worker. It never blocks; a dropped
// id is picked up by polling.
func (p *Pool) Notify(id string) bool {
	select {
	case p.notify <- id:
		return true
	default:
		log.Warnf("notify queue full, job %s left to polling", id)
		return false
	}
}

// Start launches the workers. They stop when ctx is done.
func (p *Pool) Start(ctx context.Context) {
	log.Infof("starting %d claim workers, polling every %s", p.workers, p.poll)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(n int) {
			defer p.wg.Done()
			p.work(ctx, n)
		}(i)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Active returns the number of jobs being processed.
func (p *Pool) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

func (p *Pool) work(ctx context.Context, n int) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("worker %d stopped", n)
			return
		case id := <-p.notify:
			p.claim(ctx, id)
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Pool) claim(ctx context.Context, id string) {
	j, err := p.runner.registry.Claim(ctx, id)
	if err != nil {
		if failures.Is(err, failures.KindProtocolError) {
			log.Debugf("job %s already claimed elsewhere", id)
		} else {
			log.Warnf("claim of job %s failed: %v", id, err)
		}
		return
	}
	p.run(j.ID, func() { p.runner.Process(ctx, j) })
}

// drain claims queued jobs until the registry has none left.
func (p *Pool) drain(ctx context.Context) {
	for ctx.Err() == nil {
		j, err := p.runner.registry.ClaimNext(ctx)
		if err != nil {
			log.Warnf("polling for jobs failed: %v", err)
			return
		}
		if j == nil {
			return
		}
		p.run(j.ID, func() { p.runner.Process(ctx, j) })
	}
}

func (p *Pool) run(id string, fn func()) {
	p.mu.Lock()
	p.active[id] = time.Now()
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, id)
		p.mu.Unlock()
	}()
	fn()
}
