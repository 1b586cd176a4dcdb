package attributes

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic job run by the Scanner.
type Task interface {
	TaskName() string
	Period() time.Duration
	Run(ctx context.Context) error
}

// Observer receives the outcome of every poll and write.
type Observer interface {
	ObservePoll(task string, err error, elapsed time.Duration)
	ObservePut(attribute string, err error)
}

// Scanner runs every task in its own goroutine, one poll per period.
type Scanner struct {
	logger   *zap.Logger
	observer Observer

	mu       sync.Mutex
	tasks    []Task
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewScanner(logger *zap.Logger, observer Observer) *Scanner {
	return &Scanner{
		logger:   logger,
		observer: observer,
	}
}

// Add queues a task. Tasks added while running start on the next Start.
func (s *Scanner) Add(tasks ...Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, tasks...)
}

// Start launches one loop per task.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopChan = make(chan struct{})
	s.running = true

	started := 0
	for _, task := range s.tasks {
		if task.Period() <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.scanLoop(ctx, task, s.stopChan)
		started++
	}

	s.logger.Info("Scanner started", zap.Int("tasks", started))
	return nil
}

// Stop ends all loops and waits until none of them can issue a request.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Scanner stopped")
}

func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scanner) scanLoop(ctx context.Context, task Task, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Period())
	defer ticker.Stop()

	s.scan(ctx, task)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.scan(ctx, task)
		}
	}
}

func (s *Scanner) scan(ctx context.Context, task Task) {
	start := time.Now()
	err := task.Run(ctx)
	if s.observer != nil {
		s.observer.ObservePoll(task.TaskName(), err, time.Since(start))
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("Poll failed",
			zap.String("task", task.TaskName()),
			zap.Error(err))
	}
}
