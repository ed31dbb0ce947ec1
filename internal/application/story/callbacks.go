package story

import "sync"

// ProgressFunc 进度回调，取值 [0, 1]
type ProgressFunc func(float64)

// StatusFunc 人类可读的状态回调
type StatusFunc func(string)

// Callbacks 进度与状态出口，均可为 nil
type Callbacks struct {
	OnProgress ProgressFunc
	OnStatus   StatusFunc
}

// reporter 保证一次运行内进度单调不减并限制在 [0, 1]
type reporter struct {
	cb Callbacks

	mu   sync.Mutex
	last float64
}

func newReporter(cb Callbacks) *reporter {
	return &reporter{cb: cb}
}

func (r *reporter) progress(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	// 回调在锁内执行，并发阶段上报时也按顺序送达
	r.mu.Lock()
	defer r.mu.Unlock()
	if v < r.last {
		v = r.last
	}
	r.last = v
	if r.cb.OnProgress != nil {
		r.cb.OnProgress(v)
	}
}

func (r *reporter) status(msg string) {
	if r.cb.OnStatus != nil {
		r.cb.OnStatus(msg)
	}
}
