package eventbus

import (
	"errors"
	"sync"
)

// Dispatch 跟踪一次 Emit 启动的处理函数。
type Dispatch struct {
	wg        sync.WaitGroup
	mu        sync.Mutex
	errs      []error
	delivered int
}

func (d *Dispatch) fail(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

// Delivered 返回接收该事件的处理函数数量。
func (d *Dispatch) Delivered() int {
	if d == nil {
		return 0
	}
	return d.delivered
}

// Wait 等待全部处理函数返回，并合并它们的错误。
func (d *Dispatch) Wait() error {
	if d == nil {
		return nil
	}
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Join(d.errs...)
}
