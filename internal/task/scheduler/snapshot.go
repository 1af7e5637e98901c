package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil}
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:     d.name,
			Spec:     d.rule.Expr,
			Timezone: d.rule.Location.String(),
			Overlap:  d.opt.Overlap.String(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next.In(d.rule.Location)
			if !e.Prev.IsZero() {
				it.Prev = e.Prev.In(d.rule.Location)
			}
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}
