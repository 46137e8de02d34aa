package sched

// migration.go implements the idle-CPU work redistribution protocol,
// grounded on schedule.c's migrate_to_self/migrate_from_self: a CPU with
// nothing to run steals from a peer (preferring an idle peer's
// queue, since the original's balance_queue walks idle CPUs before falling
// back to busy ones so the first mover after a quiet period doesn't starve
// the peer that's actually executing something), and a CPU that just
// emptied part of a backlog proactively pushes the remainder to an idle
// peer rather than waiting for it to steal.

// scanOrder yields every other CPU's index starting just after self and
// wrapping around, the same visiting order as schedule.c's successive
// bitmap_range_get_first plus start-advance pattern.
func (s *Scheduler) scanOrder(self int) []int {
	n := len(s.cpus)
	order := make([]int, 0, n-1)
	for i := 1; i < n; i++ {
		order = append(order, (self+i)%n)
	}
	return order
}

// migrateToSelf looks for a user thread to steal onto ci, since ci's own
// thread queue is empty. Idle peers are tried first, then any CPU
// currently in StateUser, matching the idle-then-busy fallback order
// schedule.c's migrate_to_self follows. A thread found in an idle peer's
// queue is always stolen, never woken in place — ci is already running
// and can make immediate progress with it — but if the peer's queue is
// still non-empty after the steal, ci wakes it so it drains the
// remainder itself.
func (s *Scheduler) migrateToSelf(ci *CPU) (Task, bool) {
	order := s.scanOrder(ci.ID)

	for _, idx := range order {
		if !s.idle.IsIdle(idx) {
			continue
		}
		if t, ok := s.cpus[idx].threadQueue.Dequeue(); ok {
			s.metrics.ThreadsStolen.Add(1)
			logf(LevelDebug, "migrate", ci.ID, "stole thread from idle cpu %d", idx)
			if !s.cpus[idx].threadQueue.Empty() {
				s.wakeupCPU(idx)
			}
			return t, true
		}
	}

	for _, idx := range order {
		if s.cpus[idx].State() != StateUser {
			continue
		}
		if t, ok := s.cpus[idx].threadQueue.Dequeue(); ok {
			s.metrics.ThreadsStolen.Add(1)
			logf(LevelDebug, "migrate", ci.ID, "stole thread from busy cpu %d", idx)
			return t, true
		}
	}

	return nil, false
}

// migrateFromSelf walks every idle peer in ci's scan order — the same
// self+1…n, then 0…self−1 rotation migrateToSelf uses, avoiding the
// head-of-list bias a plain scan from CPU 0 would introduce — and for
// each one found: if the peer's queue is already non-empty (a race where
// it picked up work after going idle), just wake it; otherwise, while ci
// still has a backlog, move one thread onto the peer's queue and wake it.
// It never blocks: if a chosen peer's queue is full (a racing push already
// landed) the thread is put back onto ci, and only if ci's own queue is
// full as well does it halt.
func (s *Scheduler) migrateFromSelf(ci *CPU) {
	for _, idx := range s.scanOrder(ci.ID) {
		if !s.idle.IsIdle(idx) {
			continue
		}

		peer := s.cpus[idx]
		if !peer.threadQueue.Empty() {
			s.wakeupCPU(idx)
			continue
		}

		t, ok := ci.threadQueue.Dequeue()
		if !ok {
			continue
		}

		if !peer.threadQueue.Enqueue(t) {
			if !ci.threadQueue.Enqueue(t) {
				halt("migrate_from_self: lost thread, cpu %d queue full and cpu %d queue full", idx, ci.ID)
			}
			continue
		}

		s.metrics.ThreadsPushed.Add(1)
		logf(LevelDebug, "migrate", ci.ID, "pushed thread to idle cpu %d", idx)
		s.wakeupCPU(idx)
	}
}
