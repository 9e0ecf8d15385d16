package briefing

import (
	"context"
	"log"
	"time"
)

// Start launches the background refresh loop: an immediate automatic
// cycle, then one per refresh interval. Automatic cycles outside a
// configured commute window are skipped; manual triggers are not
// affected.
func (c *Coordinator) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.autoCycle(ctx)
		ticker := time.NewTicker(c.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.autoCycle(ctx)
			}
		}
	}()
	log.Printf("refresh loop started (interval %s)", c.cfg.RefreshInterval)
}

func (c *Coordinator) autoCycle(ctx context.Context) {
	if !c.cfg.InWindow(c.now()) {
		if c.mcol != nil {
			c.mcol.CyclesSkipped.WithLabelValues("outside_window").Inc()
		}
		return
	}
	if _, ran, err := c.RunCycleIfIdle(ctx, Automatic); err != nil {
		log.Printf("refresh cycle error: %v", err)
	} else if !ran {
		log.Printf("refresh trigger coalesced, cycle already in flight")
	}
}

// Stop halts the refresh loop and waits for an in-flight cycle.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
