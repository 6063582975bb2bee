// Package shutdown provides graceful shutdown functionality for the Warden application.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/warden-project/warden/internal/logger"
)

// Hook represents a function that can be called during shutdown
type Hook func(ctx context.Context) error

// HookPriority defines the order in which hooks are executed
type HookPriority int

const (
	// PriorityCritical hooks run first (e.g., stop accepting new connections)
	PriorityCritical HookPriority = 0
	// PriorityHigh hooks run second (e.g., stop processing)
	PriorityHigh HookPriority = 1
	// PriorityNormal hooks run third (e.g., cleanup resources)
	PriorityNormal HookPriority = 2
	// PriorityLow hooks run last (e.g., flush logs)
	PriorityLow HookPriority = 3
)

type registeredHook struct {
	name     string
	hook     Hook
	priority HookPriority
}

// Manager manages graceful shutdown
type Manager struct {
	mu          sync.Mutex
	hooks       []registeredHook
	timeout     time.Duration
	sigChan     chan os.Signal
	stopChan    chan struct{}
	shutdownCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
	shutdown    bool
}

// NewManager creates a new shutdown manager
func NewManager(timeout time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		timeout:     timeout,
		sigChan:     make(chan os.Signal, 1),
		stopChan:    make(chan struct{}, 1),
		shutdownCtx: ctx,
		cancel:      cancel,
	}
}

// Register registers a new shutdown hook with the given name and priority
func (m *Manager) Register(name string, hook Hook, priority HookPriority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, registeredHook{
		name:     name,
		hook:     hook,
		priority: priority,
	})

	logger.Debugf("Registered shutdown hook: %s (priority: %d)", name, priority)
}

// Start begins listening for shutdown signals
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	signal.Notify(m.sigChan,
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	m.wg.Add(1)
	go m.waitForShutdown()
}

func (m *Manager) waitForShutdown() {
	defer m.wg.Done()

	select {
	case sig := <-m.sigChan:
		logger.Infof("收到关闭信号: %v", sig)
	case <-m.stopChan:
		logger.Info("收到程序停止请求")
	}
	m.performShutdown()
}

// performShutdown executes all shutdown hooks in priority order
func (m *Manager) performShutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	hooks := make([]registeredHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	logger.Info("开始优雅关闭...")

	// Lower number runs first; registration order breaks ties
	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].priority < hooks[j].priority
	})

	for _, h := range hooks {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)

		logger.Infof("执行关闭钩子: %s", h.name)

		done := make(chan error, 1)
		go func(h registeredHook) {
			done <- h.hook(ctx)
		}(h)

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("关闭钩子 %s 失败: %v", h.name, err)
			} else {
				logger.Infof("关闭钩子 %s 完成", h.name)
			}
		case <-ctx.Done():
			logger.Errorf("关闭钩子 %s 超时 (%v)", h.name, m.timeout)
		}
		cancel()
	}

	logger.Info("优雅关闭完成")
	m.cancel()
}

// Stop triggers graceful shutdown programmatically
func (m *Manager) Stop() {
	select {
	case m.stopChan <- struct{}{}:
	default:
	}
}

// Done returns a channel that's closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.shutdownCtx.Done()
}

// Wait blocks until shutdown is complete
func (m *Manager) Wait() {
	m.wg.Wait()
}
